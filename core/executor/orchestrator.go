// Package executor turns pipelines into process groups: it spawns one child
// per stage, wires pipes between them, and either waits for the group with
// the terminal or registers it as a background job.
package executor

import (
	"fmt"
	"io"
	"log"
	"os"
	"syscall"

	"github.com/josephlewis42/ushell/core/command"
	"github.com/josephlewis42/ushell/core/jobs"
	"github.com/josephlewis42/ushell/core/signals"
	"github.com/josephlewis42/ushell/core/stdio"
	"github.com/josephlewis42/ushell/core/tty"
	"golang.org/x/sys/unix"
)

// StatusExecFailure is returned when a pipeline couldn't be set up.
const StatusExecFailure = -1

// Orchestrator runs pipelines for the shell.
type Orchestrator struct {
	Jobs     *jobs.Table
	Signals  *signals.Controller
	Terminal *tty.Terminal
	Resolver Resolver
	Launcher Launcher

	// Stdio is used by in-process programs and for job notices.
	Stdio *stdio.Stdio
	// Stdin, Stdout and Stderr are inherited by stage children. They default
	// to the process's own.
	Stdin, Stdout, Stderr *os.File

	// Environ returns the exported environment for children.
	Environ func() []string
	Events  EventRecorder
	Log     *log.Logger
	// Waiter defaults to jobs.SystemWaiter.
	Waiter jobs.Waiter
}

// group is the set of processes started for a pipeline.
type group struct {
	pgid int
	pids []int
}

func (g *group) last() int {
	return g.pids[len(g.pids)-1]
}

// Execute runs the pipeline and returns its exit status.
//
// A lone builtin or tool without redirection or prefix assignments runs
// inside the shell. Anything else gets a process group of its own:
// background pipelines are registered as jobs and return 0 immediately,
// foreground pipelines own the terminal until they finish or stop.
func (o *Orchestrator) Execute(p command.Pipeline) int {
	if len(p.Stages) == 0 {
		return 0
	}
	if err := p.Validate(); err != nil {
		o.logger().Printf("ushell: %v", err)
		return StatusExecFailure
	}

	if p.Len() == 1 && !p.HasRedirect() && !p.Background && len(p.Stages[0].Env) == 0 {
		stage := p.Stages[0]
		if prog := o.Resolver.Resolve(stage.Name()); prog.InProcess() {
			return prog.Main(o.Stdio, stage.Args)
		}
	}

	g, err := o.spawn(p)
	if err != nil {
		o.logger().Printf("ushell: %v", err)
		o.events().ExecFailed(p.String(), err)
		return StatusExecFailure
	}

	if p.Background {
		o.registerBackground(p, g)
		return 0
	}
	return o.waitPipeline(p, g)
}

func (o *Orchestrator) spawn(p command.Pipeline) (*group, error) {
	n := len(p.Stages)

	var pipes [][2]*os.File
	closePipes := func() {
		for _, pipe := range pipes {
			pipe[0].Close()
			pipe[1].Close()
		}
	}
	for i := 0; i < n-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			closePipes()
			return nil, fmt.Errorf("pipe: %w", err)
		}
		pipes = append(pipes, [2]*os.File{r, w})
	}
	// The children hold their own copies.
	defer closePipes()

	environ := o.environ()
	g := &group{}
	for i, stage := range p.Stages {
		stdin, stdout := o.stdin(), o.stdout()
		if i > 0 {
			stdin = pipes[i-1][0]
		}
		if i < n-1 {
			stdout = pipes[i][1]
		}

		env := append(append([]string(nil), environ...), stage.Env...)
		if o.Resolver.Resolve(stage.Name()).Kind == Builtin {
			if snap, err := o.Jobs.MarshalJSON(); err == nil {
				env = append(env, JobsEnvVar+"="+string(snap))
			}
		}

		proc, err := os.StartProcess(o.Launcher.Path, o.Launcher.argv(stage), &os.ProcAttr{
			Env:   env,
			Files: []*os.File{stdin, stdout, o.stderr()},
			Sys: &syscall.SysProcAttr{
				Setpgid: true,
				Pgid:    g.pgid,
			},
		})
		if err != nil {
			o.abort(g)
			return nil, fmt.Errorf("%s: %w", stage.Name(), err)
		}
		pid := proc.Pid
		// Reaping goes through wait4 so the job table sees stops.
		proc.Release()

		if g.pgid == 0 {
			g.pgid = pid
		}
		// The child sets its group before exec; setting it here too means
		// neither side can observe the child outside the group. EACCES means
		// the child already exec'd, ESRCH that it already exited.
		if err := unix.Setpgid(pid, g.pgid); err != nil && err != unix.EACCES && err != unix.ESRCH {
			o.logger().Printf("ushell: setpgid %d: %v", pid, err)
		}
		g.pids = append(g.pids, pid)
	}

	o.checkGroup(g)
	return g, nil
}

// checkGroup warns when a stage ended up outside the pipeline's group.
func (o *Orchestrator) checkGroup(g *group) {
	for _, pid := range g.pids {
		pgid, err := unix.Getpgid(pid)
		if err != nil {
			continue
		}
		if pgid != g.pgid {
			o.logger().Printf("ushell: warning: process %d is in group %d, expected %d", pid, pgid, g.pgid)
		}
	}
}

// abort kills and reaps the stages started so far.
func (o *Orchestrator) abort(g *group) {
	if g.pgid == 0 {
		return
	}
	_ = unix.Kill(-g.pgid, unix.SIGKILL)
	for _, pid := range g.pids {
		_, _ = o.wait(pid, 0)
	}
}

func (o *Orchestrator) registerBackground(p command.Pipeline, g *group) {
	id, err := o.Jobs.Add(g.last(), p.String(), true)
	if err != nil {
		o.logger().Printf("ushell: %v, pipeline runs untracked", err)
		o.Jobs.Untrack(g.pids...)
		return
	}

	j, _ := o.Jobs.Get(id)
	j.Pgid = g.pgid
	j.Pids = append([]int(nil), g.pids...)
	fmt.Fprintf(o.Stdio.Out, "[%d] %d\n", j.ID, j.Pid)
	o.events().JobEvent(EventJobStarted, j)
}

func (o *Orchestrator) waitPipeline(p command.Pipeline, g *group) int {
	o.enterForeground(g.pgid)
	defer o.leaveForeground()

	status := 0
	for i, pid := range g.pids {
		ws, err := o.wait(pid, unix.WUNTRACED)
		if err != nil {
			o.logger().Printf("ushell: wait %d: %v", pid, err)
			if pid == g.last() {
				// Leave the rest to reconciliation.
				o.adopt(p.String(), g, g.pids[i:], jobs.Running)
				return StatusExecFailure
			}
			continue
		}

		if ws.Stopped() {
			if j := o.adopt(p.String(), g, g.pids[i:], jobs.Stopped); j != nil {
				o.stopNotice(j)
				o.events().JobEvent(EventJobStopped, j)
			}
			return 0
		}

		if pid == g.last() {
			status = jobs.ExitStatus(ws)
		}
	}
	return status
}

// adopt registers unreaped stages of a foreground pipeline as a job.
func (o *Orchestrator) adopt(text string, g *group, pids []int, status jobs.Status) *jobs.Job {
	id, err := o.Jobs.Add(g.last(), text, status == jobs.Stopped)
	if err != nil {
		o.logger().Printf("ushell: %v, resuming pipeline untracked", err)
		_ = unix.Kill(-g.pgid, unix.SIGCONT)
		o.Jobs.Untrack(pids...)
		return nil
	}
	j, _ := o.Jobs.Get(id)
	j.Pgid = g.pgid
	j.Pids = append([]int(nil), pids...)
	j.Status = status
	return j
}

// Foreground gives j the terminal, continues it if it's stopped and waits
// until it exits or stops again.
func (o *Orchestrator) Foreground(j *jobs.Job) int {
	o.enterForeground(j.Group())
	defer o.leaveForeground()

	if j.Status == jobs.Stopped {
		if err := unix.Kill(-j.Group(), unix.SIGCONT); err != nil && err != unix.ESRCH {
			o.logger().Printf("ushell: continue job %d: %v", j.ID, err)
		}
	}
	j.Status = jobs.Running
	j.Background = false
	o.events().JobEvent(EventJobResumed, j)

	ws, err := o.wait(j.Pid, unix.WUNTRACED)
	if err != nil {
		o.logger().Printf("ushell: wait %d: %v", j.Pid, err)
		return stdio.ExitFailure
	}

	if ws.Stopped() {
		j.Status = jobs.Stopped
		j.Background = true
		o.stopNotice(j)
		o.events().JobEvent(EventJobStopped, j)
		return 0
	}

	j.Record(ws)
	o.events().JobEvent(EventJobDone, j)
	_ = o.Jobs.Remove(j.ID)
	return j.ExitStatus
}

// Background continues j without giving it the terminal.
func (o *Orchestrator) Background(j *jobs.Job) error {
	if err := unix.Kill(-j.Group(), unix.SIGCONT); err != nil {
		return err
	}
	j.Status = jobs.Running
	j.Background = true
	o.events().JobEvent(EventJobResumed, j)
	return nil
}

func (o *Orchestrator) stopNotice(j *jobs.Job) {
	fmt.Fprintf(o.Stdio.Out, "\n[%d]+  Stopped                 %s\n", j.ID, j.Command)
}

func (o *Orchestrator) enterForeground(pgid int) {
	if o.Signals != nil {
		o.Signals.SetForeground(pgid)
	}
	if err := o.Terminal.SetForeground(pgid); err != nil {
		o.logger().Printf("ushell: tcsetpgrp %d: %v", pgid, err)
	}
}

func (o *Orchestrator) leaveForeground() {
	if err := o.Terminal.Restore(); err != nil {
		o.logger().Printf("ushell: tcsetpgrp: %v", err)
	}
	if o.Signals != nil {
		o.Signals.ClearForeground()
	}
}

// wait blocks until pid changes state, retrying interrupted waits.
func (o *Orchestrator) wait(pid int, options int) (unix.WaitStatus, error) {
	for {
		wpid, ws, err := o.waiter().Wait(pid, options)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return 0, err
		case wpid == pid:
			return ws, nil
		}
	}
}

func (o *Orchestrator) waiter() jobs.Waiter {
	if o.Waiter == nil {
		return jobs.SystemWaiter{}
	}
	return o.Waiter
}

func (o *Orchestrator) environ() []string {
	if o.Environ == nil {
		return os.Environ()
	}
	return o.Environ()
}

func (o *Orchestrator) events() EventRecorder {
	if o.Events == nil {
		return nopRecorder{}
	}
	return o.Events
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Log == nil {
		return log.New(io.Discard, "", 0)
	}
	return o.Log
}

func (o *Orchestrator) stdin() *os.File {
	if o.Stdin == nil {
		return os.Stdin
	}
	return o.Stdin
}

func (o *Orchestrator) stdout() *os.File {
	if o.Stdout == nil {
		return os.Stdout
	}
	return o.Stdout
}

func (o *Orchestrator) stderr() *os.File {
	if o.Stderr == nil {
		return os.Stderr
	}
	return o.Stderr
}
