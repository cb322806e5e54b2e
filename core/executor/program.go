package executor

import (
	"fmt"

	"github.com/josephlewis42/ushell/core/jobs"
	"github.com/josephlewis42/ushell/core/stdio"
)

// Kind is how a program name resolved.
type Kind int

const (
	// External programs are looked up on PATH and exec'd.
	External Kind = iota
	// Builtin programs run inside the shell and may change its state.
	Builtin
	// Tool programs are integrated utilities that only see their arguments.
	Tool
)

func (k Kind) String() string {
	switch k {
	case External:
		return "external"
	case Builtin:
		return "builtin"
	case Tool:
		return "tool"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Main is the entry point of an in-process program. args[0] is the name.
type Main func(std *stdio.Stdio, args []string) int

// Program is the result of resolving a program name.
type Program struct {
	Kind Kind
	// Main is nil for External programs.
	Main Main
}

// InProcess reports whether the program runs without exec.
func (p Program) InProcess() bool {
	return p.Kind != External && p.Main != nil
}

// Resolver maps a program name to what runs it.
type Resolver interface {
	Resolve(name string) Program
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(name string) Program

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(name string) Program {
	return f(name)
}

// Event names reported to an EventRecorder.
const (
	EventJobStarted = "job_started"
	EventJobStopped = "job_stopped"
	EventJobResumed = "job_resumed"
	EventJobDone    = "job_done"
)

// EventRecorder receives job lifecycle events.
type EventRecorder interface {
	JobEvent(event string, j *jobs.Job)
	ExecFailed(command string, err error)
}

type nopRecorder struct{}

func (nopRecorder) JobEvent(string, *jobs.Job) {}
func (nopRecorder) ExecFailed(string, error) {}
