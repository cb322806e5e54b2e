package jobs

import "golang.org/x/sys/unix"

// Waiter reports process state changes the way wait4(2) does.
type Waiter interface {
	Wait(pid int, options int) (wpid int, status unix.WaitStatus, err error)
}

// SystemWaiter waits on real child processes.
type SystemWaiter struct{}

var _ Waiter = SystemWaiter{}

// Wait implements Waiter.
func (SystemWaiter) Wait(pid int, options int) (int, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, options, nil)
	return wpid, ws, err
}

// FrozenWaiter never observes a change. It backs tables restored from a
// snapshot in a process that is not the parent of the jobs.
type FrozenWaiter struct{}

var _ Waiter = FrozenWaiter{}

// Wait implements Waiter.
func (FrozenWaiter) Wait(int, int) (int, unix.WaitStatus, error) {
	return 0, 0, nil
}

// ExitStatus converts a wait status to a shell exit status: the exit code,
// or 128 plus the signal number for processes killed by a signal.
func ExitStatus(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return 0
	}
}
