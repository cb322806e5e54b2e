package jobs

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func exited(code int) unix.WaitStatus { return unix.WaitStatus(code << 8) }
func signaled(sig unix.Signal) unix.WaitStatus { return unix.WaitStatus(sig) }
func stopped(sig unix.Signal) unix.WaitStatus { return unix.WaitStatus(0x7f | int(sig)<<8) }
func continued() unix.WaitStatus { return unix.WaitStatus(0xffff) }

// fakeWaiter replays queued statuses per pid.
type fakeWaiter struct {
	queued  map[int][]unix.WaitStatus
	gone    map[int]bool
	eintr   map[int]int
	calls   []int
	options []int
}

func newFakeWaiter() *fakeWaiter {
	return &fakeWaiter{
		queued: make(map[int][]unix.WaitStatus),
		gone:   make(map[int]bool),
		eintr:  make(map[int]int),
	}
}

func (f *fakeWaiter) push(pid int, ws ...unix.WaitStatus) {
	f.queued[pid] = append(f.queued[pid], ws...)
}

func (f *fakeWaiter) Wait(pid int, options int) (int, unix.WaitStatus, error) {
	f.calls = append(f.calls, pid)
	f.options = append(f.options, options)
	if f.eintr[pid] > 0 {
		f.eintr[pid]--
		return -1, 0, unix.EINTR
	}
	if f.gone[pid] {
		return -1, 0, unix.ECHILD
	}
	q := f.queued[pid]
	if len(q) == 0 {
		return 0, 0, nil
	}
	f.queued[pid] = q[1:]
	if s := q[0]; s.Exited() || s.Signaled() {
		f.gone[pid] = true
	}
	return pid, q[0], nil
}

func statuses(tbl *Table) []Status {
	var out []Status
	for _, j := range tbl.Jobs() {
		out = append(out, j.Status)
	}
	return out
}

func TestAddAssignsIncreasingIDs(t *testing.T) {
	tbl := NewTable(newFakeWaiter())

	first, err := tbl.Add(100, "sleep 1 &", true)
	require.NoError(t, err)
	second, err := tbl.Add(101, "sleep 2 &", true)
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)

	require.NoError(t, tbl.Remove(second))
	third, err := tbl.Add(102, "sleep 3 &", true)
	require.NoError(t, err)
	assert.Equal(t, 3, third, "ids are never reused")
}

func TestAddDefaults(t *testing.T) {
	tbl := NewTable(newFakeWaiter())
	id, err := tbl.Add(42, "vim", false)
	require.NoError(t, err)

	j, ok := tbl.Get(id)
	require.True(t, ok)
	assert.Equal(t, Running, j.Status)
	assert.Equal(t, 42, j.Pgid)
	assert.Equal(t, []int{42}, j.Pids)
	assert.False(t, j.Background)
}

func TestAddCapacity(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		tbl := NewTable(newFakeWaiter())
		for i := 0; i < MaxJobs; i++ {
			_, err := tbl.Add(1000+i, "true", true)
			require.NoError(t, err)
		}
		_, err := tbl.Add(5000, "true", true)
		assert.True(t, errors.Is(err, ErrTableFull))
		assert.Equal(t, MaxJobs, tbl.Len())
	})

	t.Run("custom", func(t *testing.T) {
		tbl := NewTable(newFakeWaiter(), WithCapacity(2))
		_, err := tbl.Add(1, "a", true)
		require.NoError(t, err)
		_, err = tbl.Add(2, "b", true)
		require.NoError(t, err)
		_, err = tbl.Add(3, "c", true)
		assert.Equal(t, ErrTableFull, err)
		assert.Equal(t, 2, tbl.Len())
	})
}

func TestAddInvalidPid(t *testing.T) {
	tbl := NewTable(newFakeWaiter())
	_, err := tbl.Add(0, "x", false)
	assert.Equal(t, ErrInvalidPid, err)
	_, err = tbl.Add(-1, "x", false)
	assert.Equal(t, ErrInvalidPid, err)
	assert.Equal(t, 0, tbl.Len())
}

func TestAddTruncatesCommand(t *testing.T) {
	tbl := NewTable(newFakeWaiter())
	long := strings.Repeat("é", MaxCommandLen)
	id, err := tbl.Add(1, long, false)
	require.NoError(t, err)

	j, _ := tbl.Get(id)
	assert.Less(t, len(j.Command), MaxCommandLen)
	assert.True(t, strings.HasPrefix(long, j.Command))
}

func TestLookups(t *testing.T) {
	tbl := NewTable(newFakeWaiter())
	tbl.Add(10, "a", true)
	tbl.Add(20, "b", true)

	j, ok := tbl.GetByPid(20)
	require.True(t, ok)
	assert.Equal(t, 2, j.ID)

	j, ok = tbl.GetByIndex(0)
	require.True(t, ok)
	assert.Equal(t, "a", j.Command)

	_, ok = tbl.GetByIndex(2)
	assert.False(t, ok)
	_, ok = tbl.GetByIndex(-1)
	assert.False(t, ok)
	_, ok = tbl.Get(99)
	assert.False(t, ok)
	_, ok = tbl.GetByPid(99)
	assert.False(t, ok)
}

func TestRemovePreservesOrder(t *testing.T) {
	tbl := NewTable(newFakeWaiter())
	for i := 1; i <= 4; i++ {
		tbl.Add(100+i, "job", true)
	}

	require.NoError(t, tbl.Remove(2))
	var ids []int
	for _, j := range tbl.Jobs() {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []int{1, 3, 4}, ids)

	assert.Equal(t, ErrNoSuchJob, tbl.Remove(2))
}

func TestMarkersFollowRecency(t *testing.T) {
	tbl := NewTable(newFakeWaiter())
	tbl.Add(1, "a", true)
	tbl.Add(2, "b", true)
	tbl.Add(3, "c", true)

	var markers []rune
	for i := 0; i < tbl.Len(); i++ {
		markers = append(markers, tbl.Marker(i))
	}
	assert.Equal(t, []rune{' ', '-', '+'}, markers)

	cur, _ := tbl.Current()
	prev, _ := tbl.Previous()
	assert.Equal(t, 3, cur.ID)
	assert.Equal(t, 2, prev.ID)

	tbl.Remove(3)
	cur, _ = tbl.Current()
	assert.Equal(t, 2, cur.ID)
	assert.Equal(t, '+', tbl.Marker(1))
	assert.Equal(t, '-', tbl.Marker(0))
}

func TestReconcileTransitions(t *testing.T) {
	w := newFakeWaiter()
	tbl := NewTable(w)
	tbl.Add(10, "a", true)
	tbl.Add(20, "b", true)
	tbl.Add(30, "c", true)

	w.push(10, stopped(unix.SIGTSTP))
	w.push(20, exited(3))
	w.push(30, signaled(unix.SIGKILL))

	changed := tbl.Reconcile()
	assert.Len(t, changed, 3)
	assert.Equal(t, []Status{Stopped, Done, Done}, statuses(tbl))

	b, _ := tbl.Get(2)
	c, _ := tbl.Get(3)
	assert.Equal(t, 3, b.ExitStatus)
	assert.Equal(t, 128+int(unix.SIGKILL), c.ExitStatus)

	w.push(10, continued())
	changed = tbl.Reconcile()
	require.Len(t, changed, 1)
	assert.Equal(t, 1, changed[0].ID)
	assert.Equal(t, Running, changed[0].Status)
}

func TestReconcileIdempotent(t *testing.T) {
	w := newFakeWaiter()
	tbl := NewTable(w)
	tbl.Add(10, "a", true)
	tbl.Add(20, "b", true)
	w.push(10, stopped(unix.SIGTSTP))

	tbl.Reconcile()
	before := statuses(tbl)
	changed := tbl.Reconcile()
	assert.Empty(t, changed)
	assert.Equal(t, before, statuses(tbl))
}

func TestReconcileSkipsDone(t *testing.T) {
	w := newFakeWaiter()
	tbl := NewTable(w)
	tbl.Add(10, "a", true)
	w.push(10, exited(0))
	tbl.Reconcile()

	w.calls = nil
	tbl.Reconcile()
	assert.Empty(t, w.calls)
}

func TestReconcileOptions(t *testing.T) {
	w := newFakeWaiter()
	tbl := NewTable(w)
	tbl.Add(10, "a", true)
	tbl.Reconcile()

	require.Len(t, w.options, 1)
	assert.Equal(t, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, w.options[0])
}

func TestReconcileAlreadyReaped(t *testing.T) {
	w := newFakeWaiter()
	tbl := NewTable(w)
	tbl.Add(10, "a", true)
	w.gone[10] = true

	changed := tbl.Reconcile()
	require.Len(t, changed, 1)
	assert.Equal(t, Done, changed[0].Status)
}

func TestReconcileRetriesEINTR(t *testing.T) {
	w := newFakeWaiter()
	tbl := NewTable(w)
	tbl.Add(10, "a", true)
	w.eintr[10] = 2
	w.push(10, exited(1))

	tbl.Reconcile()
	j, _ := tbl.Get(1)
	assert.Equal(t, Done, j.Status)
	assert.Equal(t, 1, j.ExitStatus)
}

func TestReconcileReapsStragglers(t *testing.T) {
	w := newFakeWaiter()
	tbl := NewTable(w)
	id, _ := tbl.Add(12, "a | b | c", true)
	j, _ := tbl.Get(id)
	j.Pgid = 10
	j.Pids = []int{10, 11, 12}

	w.push(10, exited(0))
	tbl.Reconcile()
	assert.Equal(t, []int{11, 12}, j.Pids)
	assert.Equal(t, Running, j.Status)

	w.push(12, exited(0))
	tbl.Reconcile()
	assert.Equal(t, Done, j.Status)
	assert.Equal(t, 1, tbl.Cleanup())

	// The middle stage outlives the job and is reaped once it exits.
	w.push(11, exited(0))
	w.calls = nil
	tbl.Reconcile()
	assert.Equal(t, []int{11}, w.calls)
	assert.Empty(t, tbl.untracked)
}

func TestCleanup(t *testing.T) {
	w := newFakeWaiter()
	tbl := NewTable(w)
	tbl.Add(10, "a", true)
	tbl.Add(20, "b", true)
	tbl.Add(30, "c", true)
	w.push(10, exited(0))
	w.push(30, exited(0))
	tbl.Reconcile()

	assert.Equal(t, 2, tbl.Cleanup())
	require.Equal(t, 1, tbl.Len())
	j, _ := tbl.GetByIndex(0)
	assert.Equal(t, 2, j.ID)
	assert.Equal(t, 0, tbl.Cleanup())
}

func TestLastWithStatus(t *testing.T) {
	w := newFakeWaiter()
	tbl := NewTable(w)
	tbl.Add(10, "a", true)
	tbl.Add(20, "b", true)
	tbl.Add(30, "c", true)
	w.push(10, stopped(unix.SIGSTOP))
	w.push(20, stopped(unix.SIGSTOP))
	tbl.Reconcile()

	j, ok := tbl.LastWithStatus(Stopped)
	require.True(t, ok)
	assert.Equal(t, 2, j.ID)

	_, ok = tbl.LastWithStatus(Done)
	assert.False(t, ok)
}

func TestSnapshotRestore(t *testing.T) {
	w := newFakeWaiter()
	tbl := NewTable(w)
	tbl.Add(10, "sleep 10 &", true)
	tbl.Add(20, "vim", false)
	w.push(20, stopped(unix.SIGTSTP))
	tbl.Reconcile()

	data, err := tbl.MarshalJSON()
	require.NoError(t, err)

	restored, err := Restore(data, FrozenWaiter{})
	require.NoError(t, err)
	assert.Empty(t, restored.Reconcile())
	assert.Equal(t, []Status{Running, Stopped}, statuses(restored))

	id, err := restored.Add(30, "x", true)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

func TestStatusText(t *testing.T) {
	for _, s := range []Status{Running, Stopped, Done} {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var got Status
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}

	var s Status
	assert.Error(t, s.UnmarshalText([]byte("Zombie")))
}
