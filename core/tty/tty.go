// Package tty hands the controlling terminal between process groups.
package tty

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Terminal is the shell's controlling terminal. Every operation is a no-op
// when the file isn't a terminal, so the shell still runs scripts and pipes.
type Terminal struct {
	fd          int
	interactive bool
	shellPgid   int
}

// New wraps f, normally os.Stdin.
func New(f *os.File) *Terminal {
	fd := int(f.Fd())
	return &Terminal{
		fd:          fd,
		interactive: term.IsTerminal(fd),
		shellPgid:   unix.Getpgrp(),
	}
}

// IsInteractive reports whether the file is a terminal.
func (t *Terminal) IsInteractive() bool {
	return t != nil && t.interactive
}

// ShellGroup returns the process group the shell runs in.
func (t *Terminal) ShellGroup() int {
	return t.shellPgid
}

// SetForeground makes pgid the terminal's foreground process group.
func (t *Terminal) SetForeground(pgid int) error {
	if !t.IsInteractive() {
		return nil
	}
	return unix.IoctlSetPointerInt(t.fd, unix.TIOCSPGRP, pgid)
}

// Foreground returns the terminal's foreground process group.
func (t *Terminal) Foreground() (int, error) {
	if !t.IsInteractive() {
		return t.shellPgid, nil
	}
	return unix.IoctlGetInt(t.fd, unix.TIOCGPGRP)
}

// Restore gives the terminal back to the shell.
func (t *Terminal) Restore() error {
	if !t.IsInteractive() {
		return nil
	}
	return t.SetForeground(t.shellPgid)
}
