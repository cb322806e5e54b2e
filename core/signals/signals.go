// Package signals turns asynchronous signals into state the shell's main
// loop can poll, and forwards keyboard signals to the foreground job.
package signals

import (
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Controller owns the shell's signal dispositions.
//
// SIGCHLD only raises a flag. SIGINT and SIGTSTP go to the process group of
// the foreground job when there is one; otherwise SIGINT prints a newline and
// SIGTSTP is dropped so the shell itself never stops.
type Controller struct {
	childExited atomic.Bool
	foreground  atomic.Int32

	out  io.Writer
	kill func(pid int, sig unix.Signal) error

	mu   sync.Mutex
	sigs chan os.Signal
	done chan struct{}
}

// New creates a controller that writes to out when SIGINT reaches an idle
// shell.
func New(out io.Writer) *Controller {
	return &Controller{
		out:  out,
		kill: unix.Kill,
	}
}

// Install starts receiving signals. SIGTTOU and SIGTTIN are ignored so the
// shell can write to and read from the terminal while it's handing it
// between process groups; children inherit the ignored dispositions.
func (c *Controller) Install() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sigs != nil {
		return
	}

	signal.Ignore(unix.SIGTTOU, unix.SIGTTIN)

	c.sigs = make(chan os.Signal, 16)
	c.done = make(chan struct{})
	signal.Notify(c.sigs, unix.SIGINT, unix.SIGTSTP, unix.SIGCHLD)

	go c.loop(c.sigs, c.done)
}

// Stop stops receiving signals and restores default dispositions for the
// handled ones.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sigs == nil {
		return
	}

	signal.Stop(c.sigs)
	signal.Reset(unix.SIGINT, unix.SIGTSTP, unix.SIGCHLD, unix.SIGTTOU, unix.SIGTTIN)
	close(c.done)
	c.sigs = nil
}

func (c *Controller) loop(sigs <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case sig := <-sigs:
			if s, ok := sig.(unix.Signal); ok {
				c.Handle(s)
			}
		case <-done:
			return
		}
	}
}

// Handle applies the shell's response to a single signal.
func (c *Controller) Handle(sig unix.Signal) {
	switch sig {
	case unix.SIGCHLD:
		c.childExited.Store(true)

	case unix.SIGINT, unix.SIGTSTP:
		if pgid := c.Foreground(); pgid != 0 {
			// ESRCH means the group exited between the check and the kill.
			_ = c.kill(-pgid, sig)
			return
		}
		if sig == unix.SIGINT && c.out != nil {
			io.WriteString(c.out, "\n")
		}
	}
}

// TakeChildExited reports whether SIGCHLD arrived since the last call and
// clears the flag.
func (c *Controller) TakeChildExited() bool {
	return c.childExited.Swap(false)
}

// SetForeground records the process group that receives keyboard signals.
func (c *Controller) SetForeground(pgid int) {
	c.foreground.Store(int32(pgid))
}

// ClearForeground returns keyboard signals to the shell.
func (c *Controller) ClearForeground() {
	c.foreground.Store(0)
}

// Foreground returns the foreground process group, 0 when the shell itself is
// in the foreground.
func (c *Controller) Foreground() int {
	return int(c.foreground.Load())
}
