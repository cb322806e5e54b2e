package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/josephlewis42/ushell/core/jobs"
	"github.com/josephlewis42/ushell/core/stdio"
	"github.com/pborman/getopt/v2"
)

// Jobs lists the job table.
func Jobs(s *Shell, std *stdio.Stdio, args []string) int {
	opts := getopt.New()
	opts.SetProgram(args[0])
	opts.SetParameters("")
	long := opts.Bool('l', "list process IDs in addition to the normal information")
	pidsOnly := opts.Bool('p', "list process IDs only")
	running := opts.Bool('r', "restrict output to running jobs")
	stopped := opts.Bool('s', "restrict output to stopped jobs")
	help := opts.BoolLong("help", 'h', "show help and exit")

	if err := opts.Getopt(args, nil); err != nil {
		std.Errorf("%s: %v\n", args[0], err)
		opts.PrintUsage(std.Err)
		return stdio.ExitFailure
	}
	if *help {
		opts.PrintUsage(std.Out)
		return stdio.ExitSuccess
	}
	if opts.NArgs() > 0 {
		std.Errorf("%s: unexpected argument: %s\n", args[0], opts.Arg(0))
		return stdio.ExitFailure
	}

	s.catchUp()
	s.Jobs.Cleanup()

	for i, j := range s.Jobs.Jobs() {
		switch {
		case *running && j.Status != jobs.Running:
			continue
		case *stopped && j.Status != jobs.Stopped:
			continue
		}

		switch {
		case *pidsOnly:
			std.Println(j.Pid)
		case *long:
			std.Printf("[%d]%c  %-7d %-20s %s\n", j.ID, s.Jobs.Marker(i), j.Pid, j.Status, j.Command)
		default:
			std.Printf("[%d]%c  %-20s %s\n", j.ID, s.Jobs.Marker(i), j.Status, j.Command)
		}
	}
	return stdio.ExitSuccess
}

// parseJobSpec accepts N, %N, and the %+/%%/%- shorthands for the current
// and previous job.
func (s *Shell) parseJobSpec(name, spec string) (*jobs.Job, error) {
	switch spec {
	case "%+", "%%":
		if j, ok := s.Jobs.Current(); ok {
			return j, nil
		}
		return nil, fmt.Errorf("%s: no current job", name)
	case "%-":
		if j, ok := s.Jobs.Previous(); ok {
			return j, nil
		}
		return nil, fmt.Errorf("%s: no previous job", name)
	}

	id, err := strconv.Atoi(strings.TrimPrefix(spec, "%"))
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%s: invalid job id: %s", name, spec)
	}
	j, ok := s.Jobs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%s: %d: no such job", name, id)
	}
	return j, nil
}

// jobTarget resolves the job a fg or bg invocation refers to. fallback picks
// the job when no operand is given.
func (s *Shell) jobTarget(std *stdio.Stdio, args []string, fallback func() (*jobs.Job, error)) (*jobs.Job, bool) {
	var (
		j   *jobs.Job
		err error
	)
	switch len(args) {
	case 1:
		j, err = fallback()
	case 2:
		j, err = s.parseJobSpec(args[0], args[1])
	default:
		err = fmt.Errorf("%s: too many arguments", args[0])
	}
	if err != nil {
		std.Errorf("%v\n", err)
		return nil, false
	}

	if j.Status == jobs.Done {
		std.Errorf("%s: job %d has terminated\n", args[0], j.ID)
		s.Jobs.Cleanup()
		return nil, false
	}
	return j, true
}

func displayCommand(j *jobs.Job) string {
	return strings.TrimSuffix(j.Command, " &")
}

// Fg moves a job into the foreground and waits for it.
func Fg(s *Shell, std *stdio.Stdio, args []string) int {
	if s.stage || s.Exec == nil {
		std.Errorf("%s: no job control\n", args[0])
		return stdio.ExitFailure
	}

	s.catchUp()
	j, ok := s.jobTarget(std, args, func() (*jobs.Job, error) {
		if j, ok := s.Jobs.Current(); ok {
			return j, nil
		}
		return nil, fmt.Errorf("%s: no current job", args[0])
	})
	if !ok {
		return stdio.ExitFailure
	}

	std.Println(displayCommand(j))
	return s.Exec.Foreground(j)
}

// Bg continues a stopped job in the background.
func Bg(s *Shell, std *stdio.Stdio, args []string) int {
	if s.stage || s.Exec == nil {
		std.Errorf("%s: no job control\n", args[0])
		return stdio.ExitFailure
	}

	s.catchUp()
	j, ok := s.jobTarget(std, args, func() (*jobs.Job, error) {
		if s.Jobs.Len() == 0 {
			return nil, fmt.Errorf("%s: no current job", args[0])
		}
		if j, ok := s.Jobs.LastWithStatus(jobs.Stopped); ok {
			return j, nil
		}
		return nil, fmt.Errorf("%s: no stopped jobs", args[0])
	})
	if !ok {
		return stdio.ExitFailure
	}

	if j.Status == jobs.Running {
		std.Errorf("%s: job %d already in background\n", args[0], j.ID)
		return stdio.ExitSuccess
	}

	if err := s.Exec.Background(j); err != nil {
		std.Errorf("%s: %d: %v\n", args[0], j.ID, err)
		return stdio.ExitFailure
	}
	std.Printf("[%d]+ %s &\n", j.ID, displayCommand(j))
	return stdio.ExitSuccess
}

func init() {
	addBuiltin(groupJobs, "jobs [-lprs]", "List active jobs", Jobs)
	addBuiltin(groupJobs, "fg [%N]", "Bring job to foreground", Fg)
	addBuiltin(groupJobs, "bg [%N]", "Continue stopped job in background", Bg)
}
