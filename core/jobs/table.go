package jobs

import (
	"encoding/json"
	"errors"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

const (
	// MaxJobs is the default number of live entries a table holds.
	MaxJobs = 64
	// MaxCommandLen bounds the stored display text in bytes.
	MaxCommandLen = 1024
)

var (
	// ErrTableFull is returned by Add when the table is at capacity.
	ErrTableFull = errors.New("job table full")
	// ErrNoSuchJob is returned when no live job has the requested id.
	ErrNoSuchJob = errors.New("no such job")
	// ErrInvalidPid is returned by Add for pids that can't be a child.
	ErrInvalidPid = errors.New("invalid pid")
)

// Option configures a Table.
type Option func(*Table)

// WithCapacity overrides MaxJobs.
func WithCapacity(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// Table is the ordered job registry. Insertion order is recency order: the
// last job is the current job and the one before it the previous job.
//
// Table is not safe for concurrent use, it's owned by the shell's main
// goroutine.
type Table struct {
	jobs     []*Job
	lastID   int
	capacity int
	waiter   Waiter

	// untracked holds pids the shell started but no longer has a job for.
	// They're reaped during reconciliation so they don't linger as zombies.
	untracked []int
}

// NewTable creates an empty table that observes processes through w.
func NewTable(w Waiter, opts ...Option) *Table {
	t := &Table{
		capacity: MaxJobs,
		waiter:   w,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add registers a Running job and returns its id.
func (t *Table) Add(pid int, command string, background bool) (int, error) {
	if pid <= 0 {
		return 0, ErrInvalidPid
	}
	if len(t.jobs) >= t.capacity {
		return 0, ErrTableFull
	}

	t.lastID++
	t.jobs = append(t.jobs, &Job{
		ID:         t.lastID,
		Pid:        pid,
		Pgid:       pid,
		Pids:       []int{pid},
		Command:    truncate(command, MaxCommandLen),
		Status:     Running,
		Background: background,
	})
	return t.lastID, nil
}

func truncate(s string, n int) string {
	if len(s) < n {
		return s
	}
	s = s[:n-1]
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

// Get looks up a job by id.
func (t *Table) Get(id int) (*Job, bool) {
	for _, j := range t.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}

// GetByPid looks up a job by its tracked pid.
func (t *Table) GetByPid(pid int) (*Job, bool) {
	for _, j := range t.jobs {
		if j.Pid == pid {
			return j, true
		}
	}
	return nil, false
}

// GetByIndex returns the job at position i in recency order.
func (t *Table) GetByIndex(i int) (*Job, bool) {
	if i < 0 || i >= len(t.jobs) {
		return nil, false
	}
	return t.jobs[i], true
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	return len(t.jobs)
}

// Capacity returns the maximum number of live entries.
func (t *Table) Capacity() int {
	return t.capacity
}

// Jobs returns the live entries in recency order. The slice is a copy, the
// jobs are not.
func (t *Table) Jobs() []*Job {
	out := make([]*Job, len(t.jobs))
	copy(out, t.jobs)
	return out
}

// Current returns the most recent job.
func (t *Table) Current() (*Job, bool) {
	return t.GetByIndex(len(t.jobs) - 1)
}

// Previous returns the job before the current one.
func (t *Table) Previous() (*Job, bool) {
	return t.GetByIndex(len(t.jobs) - 2)
}

// LastWithStatus returns the most recent job with the given status.
func (t *Table) LastWithStatus(status Status) (*Job, bool) {
	for i := len(t.jobs) - 1; i >= 0; i-- {
		if t.jobs[i].Status == status {
			return t.jobs[i], true
		}
	}
	return nil, false
}

// Marker returns '+' for the current job, '-' for the previous job and ' '
// for everything else.
func (t *Table) Marker(i int) rune {
	switch i {
	case len(t.jobs) - 1:
		return '+'
	case len(t.jobs) - 2:
		return '-'
	default:
		return ' '
	}
}

// Remove deletes a job, preserving the order of the rest.
func (t *Table) Remove(id int) error {
	for i, j := range t.jobs {
		if j.ID == id {
			t.untracked = append(t.untracked, stragglers(j)...)
			t.jobs = append(t.jobs[:i], t.jobs[i+1:]...)
			return nil
		}
	}
	return ErrNoSuchJob
}

// Cleanup removes every Done job and returns how many were removed.
func (t *Table) Cleanup() int {
	kept := t.jobs[:0]
	removed := 0
	for _, j := range t.jobs {
		if j.Status == Done {
			t.untracked = append(t.untracked, stragglers(j)...)
			removed++
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(t.jobs); i++ {
		t.jobs[i] = nil
	}
	t.jobs = kept
	return removed
}

// stragglers returns the stages of a job other than its tracked pid that
// haven't been reaped.
func stragglers(j *Job) []int {
	var out []int
	for _, pid := range j.Pids {
		if pid != j.Pid {
			out = append(out, pid)
		}
	}
	return out
}

// Untrack hands processes to the table for reaping without creating a job.
func (t *Table) Untrack(pids ...int) {
	t.untracked = append(t.untracked, pids...)
}

// Reconcile polls every job that isn't Done without blocking and records
// exits, stops and continues. It returns the jobs whose status changed.
//
// A wait error other than EINTR means the process is gone, likely reaped
// elsewhere, so the job is marked Done.
func (t *Table) Reconcile() []*Job {
	var changed []*Job
	for _, j := range t.jobs {
		if j.Status == Done {
			continue
		}
		for _, pid := range stragglers(j) {
			if t.reap(pid) {
				j.forget(pid)
			}
		}
		if t.poll(j) {
			changed = append(changed, j)
		}
	}

	remaining := t.untracked[:0]
	for _, pid := range t.untracked {
		if !t.reap(pid) {
			remaining = append(remaining, pid)
		}
	}
	t.untracked = remaining

	return changed
}

func (t *Table) poll(j *Job) bool {
	for {
		wpid, ws, err := t.waiter.Wait(j.Pid, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			j.Status = Done
			j.forget(j.Pid)
			return true
		case wpid == 0:
			return false
		default:
			return j.Record(ws)
		}
	}
}

// reap collects a process that isn't tracked for status. It reports whether
// the process is gone.
func (t *Table) reap(pid int) bool {
	for {
		wpid, ws, err := t.waiter.Wait(pid, unix.WNOHANG)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return true
		case wpid == 0:
			return false
		default:
			return ws.Exited() || ws.Signaled()
		}
	}
}

// Record applies a wait status reported for the job's tracked pid and
// reports whether the job's status changed.
func (j *Job) Record(ws unix.WaitStatus) bool {
	prev := j.Status
	switch {
	case ws.Exited(), ws.Signaled():
		j.Status = Done
		j.ExitStatus = ExitStatus(ws)
		j.forget(j.Pid)
	case ws.Stopped():
		j.Status = Stopped
	case ws.Continued():
		j.Status = Running
	}
	return prev != j.Status
}

type snapshot struct {
	LastID int    `json:"last_id"`
	Jobs   []*Job `json:"jobs"`
}

// MarshalJSON implements json.Marshaler.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshot{LastID: t.lastID, Jobs: t.jobs})
}

// Restore rebuilds a table from MarshalJSON output.
func Restore(data []byte, w Waiter) (*Table, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	t := NewTable(w)
	if len(snap.Jobs) > t.capacity {
		t.capacity = len(snap.Jobs)
	}
	t.lastID = snap.LastID
	t.jobs = snap.Jobs
	return t, nil
}
