// Package jobs is the bookkeeping side of job control: a bounded, ordered
// table of the pipelines the shell has started and their last known status.
//
// The table never manipulates processes itself, except for the non-blocking
// waits issued through its Waiter during reconciliation.
package jobs

import "fmt"

// Status is the last observed state of a job.
type Status int

const (
	Running Status = iota
	Stopped
	Done
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Done:
		return "Done"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Running":
		*s = Running
	case "Stopped":
		*s = Stopped
	case "Done":
		*s = Done
	default:
		return fmt.Errorf("unknown job status %q", string(text))
	}
	return nil
}

// Job is a pipeline tracked by the shell.
type Job struct {
	// ID is assigned in increasing order and never reused.
	ID int `json:"id"`
	// Pid is the tracked process, the last stage of the pipeline.
	Pid int `json:"pid"`
	// Pgid is the process group shared by every stage.
	Pgid int `json:"pgid"`
	// Pids holds the stages that have not been reaped yet.
	Pids []int `json:"pids,omitempty"`
	// Command is the display text.
	Command string `json:"command"`
	Status  Status `json:"status"`
	// Background is false while the job owns the terminal.
	Background bool `json:"background"`
	// ExitStatus is the exit code, or 128+signal, once the job is Done.
	ExitStatus int `json:"exit_status"`
}

// Group returns the process group to signal for the job.
func (j *Job) Group() int {
	if j.Pgid > 0 {
		return j.Pgid
	}
	return j.Pid
}

func (j *Job) forget(pid int) {
	for i, p := range j.Pids {
		if p == pid {
			j.Pids = append(j.Pids[:i], j.Pids[i+1:]...)
			return
		}
	}
}
