package executor

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/josephlewis42/ushell/core/command"
	"github.com/josephlewis42/ushell/core/jobs"
	"github.com/josephlewis42/ushell/core/signals"
	"github.com/josephlewis42/ushell/core/stdio"
	"github.com/josephlewis42/ushell/core/tty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var inProcessRuns int

var testPrograms = map[string]Program{
	"t-true":  {Kind: Builtin, Main: func(*stdio.Stdio, []string) int { return 0 }},
	"t-false": {Kind: Builtin, Main: func(*stdio.Stdio, []string) int { return 1 }},
	"t-exit": {Kind: Tool, Main: func(_ *stdio.Stdio, args []string) int {
		code, _ := strconv.Atoi(args[1])
		return code
	}},
	"t-echo": {Kind: Tool, Main: func(s *stdio.Stdio, args []string) int {
		s.Println(strings.Join(args[1:], " "))
		return 0
	}},
	"t-cat": {Kind: Tool, Main: func(s *stdio.Stdio, args []string) int {
		if _, err := io.Copy(s.Out, s.In); err != nil {
			return 1
		}
		return 0
	}},
	"t-mark": {Kind: Builtin, Main: func(s *stdio.Stdio, args []string) int {
		inProcessRuns++
		s.Println("mark", os.Getpid())
		return 0
	}},
	"t-pgid": {Kind: Tool, Main: func(s *stdio.Stdio, args []string) int {
		s.Println(unix.Getpgrp())
		return 0
	}},
	"t-jobs": {Kind: Builtin, Main: func(s *stdio.Stdio, args []string) int {
		tbl, err := jobs.Restore([]byte(os.Getenv(JobsEnvVar)), jobs.FrozenWaiter{})
		if err != nil {
			s.Errorf("t-jobs: %v\n", err)
			return 1
		}
		for _, j := range tbl.Jobs() {
			s.Printf("%d %s %s\n", j.ID, j.Status, j.Command)
		}
		return 0
	}},
}

var testResolver = ResolverFunc(func(name string) Program {
	if prog, ok := testPrograms[name]; ok {
		return prog
	}
	return Program{Kind: External}
})

func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == StageCommand {
		os.Exit(RunStage(testResolver, os.Args[2:]) & 0xff)
	}
	os.Exit(m.Run())
}

type harness struct {
	o       *Orchestrator
	notices *bytes.Buffer
	stdout  *os.File
	stderr  *os.File
	logs    *bytes.Buffer
}

func newHarness(t *testing.T, opts ...jobs.Option) *harness {
	t.Helper()

	launcher, err := SelfLauncher()
	require.NoError(t, err)

	dir := t.TempDir()
	stdout, err := os.Create(filepath.Join(dir, "stdout"))
	require.NoError(t, err)
	stderr, err := os.Create(filepath.Join(dir, "stderr"))
	require.NoError(t, err)
	devNull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	t.Cleanup(func() {
		stdout.Close()
		stderr.Close()
		devNull.Close()
	})

	h := &harness{
		notices: &bytes.Buffer{},
		stdout:  stdout,
		stderr:  stderr,
		logs:    &bytes.Buffer{},
	}
	h.o = &Orchestrator{
		Jobs:     jobs.NewTable(jobs.SystemWaiter{}, opts...),
		Signals:  signals.New(io.Discard),
		Terminal: tty.New(devNull),
		Resolver: testResolver,
		Launcher: launcher,
		Stdio:    &stdio.Stdio{In: devNull, Out: h.notices, Err: h.notices},
		Stdin:    devNull,
		Stdout:   stdout,
		Stderr:   stderr,
	}
	h.o.Log = log.New(h.logs, "", 0)

	t.Cleanup(func() {
		for _, j := range h.o.Jobs.Jobs() {
			_ = unix.Kill(-j.Group(), unix.SIGKILL)
			_ = unix.Kill(-j.Group(), unix.SIGCONT)
		}
	})
	return h
}

func readFile(t *testing.T, f *os.File) string {
	t.Helper()
	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return string(data)
}

func pipeline(background bool, stages ...[]string) command.Pipeline {
	p := command.Pipeline{Background: background}
	for _, args := range stages {
		p.Stages = append(p.Stages, command.Command{Args: args})
	}
	return p
}

func argv(args ...string) []string { return args }

func waitForStatus(t *testing.T, tbl *jobs.Table, id int, want jobs.Status) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		tbl.Reconcile()
		j, ok := tbl.Get(id)
		require.True(t, ok, "job %d disappeared", id)
		if j.Status == want {
			return j
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %d is %v, want %v", id, j.Status, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestExecuteEmpty(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 0, h.o.Execute(command.Pipeline{}))
}

func TestExecuteEmptyStage(t *testing.T) {
	h := newHarness(t)
	p := command.Pipeline{Stages: []command.Command{{Args: argv("t-true")}, {}}}
	assert.Equal(t, StatusExecFailure, h.o.Execute(p))
}

func TestPipelineExitStatusIsLastStage(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, 0, h.o.Execute(pipeline(false, argv("t-false"), argv("t-true"))))
	assert.NotEqual(t, 0, h.o.Execute(pipeline(false, argv("t-true"), argv("t-false"))))
	assert.Equal(t, 42, h.o.Execute(pipeline(false, argv("t-true"), argv("t-exit", "42"))))
	assert.Equal(t, 0, h.o.Jobs.Len())
}

func TestExternalExitStatus(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 3, h.o.Execute(pipeline(false, argv("sh", "-c", "exit 3"))))
}

func TestSignalDeathStatus(t *testing.T) {
	h := newHarness(t)
	status := h.o.Execute(pipeline(false, argv("sh", "-c", "kill -TERM $$")))
	assert.Equal(t, 128+int(unix.SIGTERM), status)
}

func TestPipesConnectStages(t *testing.T) {
	h := newHarness(t)
	status := h.o.Execute(pipeline(false, argv("t-echo", "a", "b"), argv("t-cat"), argv("t-cat")))
	assert.Equal(t, 0, status)
	assert.Equal(t, "a b\n", readFile(t, h.stdout))
}

func TestExternalInPipeline(t *testing.T) {
	h := newHarness(t)
	status := h.o.Execute(pipeline(false, argv("t-echo", "one\ntwo\nthree"), argv("wc", "-l")))
	assert.Equal(t, 0, status)
	assert.Equal(t, "3", strings.TrimSpace(readFile(t, h.stdout)))
}

func TestFastPathRunsInProcess(t *testing.T) {
	h := newHarness(t)
	before := inProcessRuns

	assert.Equal(t, 0, h.o.Execute(pipeline(false, argv("t-mark"))))
	assert.Equal(t, before+1, inProcessRuns)
	assert.Equal(t, fmt.Sprintf("mark %d\n", os.Getpid()), h.notices.String())

	// Redirection forces a child even for builtins.
	out := filepath.Join(t.TempDir(), "out")
	p := command.Pipeline{Stages: []command.Command{{Args: argv("t-mark"), Out: out}}}
	assert.Equal(t, 0, h.o.Execute(p))
	assert.Equal(t, before+1, inProcessRuns)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotEqual(t, fmt.Sprintf("mark %d\n", os.Getpid()), string(data))
}

func TestRedirectionRoundTrip(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	f := filepath.Join(dir, "f")
	g := filepath.Join(dir, "g")

	write := command.Pipeline{Stages: []command.Command{{Args: argv("t-echo", "hello"), Out: f}}}
	require.Equal(t, 0, h.o.Execute(write))

	copyCmd := command.Pipeline{Stages: []command.Command{{Args: argv("t-cat"), In: f, Out: g}}}
	require.Equal(t, 0, h.o.Execute(copyCmd))

	data, err := os.ReadFile(g)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	appendCmd := command.Pipeline{Stages: []command.Command{{Args: argv("t-echo", "again"), Out: g, Append: true}}}
	require.Equal(t, 0, h.o.Execute(appendCmd))
	data, err = os.ReadFile(g)
	require.NoError(t, err)
	assert.Equal(t, "hello\nagain\n", string(data))

	truncate := command.Pipeline{Stages: []command.Command{{Args: argv("t-echo", "new"), Out: g}}}
	require.Equal(t, 0, h.o.Execute(truncate))
	data, err = os.ReadFile(g)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(data))
}

func TestRedirectionOpenFailure(t *testing.T) {
	h := newHarness(t)
	missing := filepath.Join(t.TempDir(), "missing")

	p := command.Pipeline{Stages: []command.Command{{Args: argv("t-cat"), In: missing}}}
	assert.Equal(t, 1, h.o.Execute(p))
	assert.Contains(t, readFile(t, h.stderr), "ushell: "+missing+": no such file or directory")
}

func TestCommandNotFound(t *testing.T) {
	h := newHarness(t)
	status := h.o.Execute(pipeline(false, argv("ushell-test-no-such-command")))
	assert.Equal(t, ExitNotFound, status)
	assert.Contains(t, readFile(t, h.stderr), "ushell: command not found: ushell-test-no-such-command")
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t)
	script := filepath.Join(t.TempDir(), "script")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0644))

	status := h.o.Execute(pipeline(false, argv(script)))
	assert.Equal(t, ExitNotFound, status)
	assert.Contains(t, readFile(t, h.stderr), "ushell: permission denied: "+script)
}

func TestStagesShareProcessGroup(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")

	p := command.Pipeline{Stages: []command.Command{
		{Args: argv("t-pgid"), Out: first},
		{Args: argv("t-pgid"), Out: second},
	}}
	require.Equal(t, 0, h.o.Execute(p))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.NotEqual(t, fmt.Sprintf("%d\n", unix.Getpgrp()), string(a))
	assert.NotContains(t, h.logs.String(), "warning")
}

func TestSpawnFailure(t *testing.T) {
	h := newHarness(t)
	h.o.Launcher.Path = filepath.Join(t.TempDir(), "missing-binary")

	assert.Equal(t, StatusExecFailure, h.o.Execute(pipeline(false, argv("t-true"), argv("t-true"))))
	assert.Equal(t, 0, h.o.Jobs.Len())
}

func TestBackgroundRegistersJob(t *testing.T) {
	h := newHarness(t)

	start := time.Now()
	status := h.o.Execute(pipeline(true, argv("sleep", "30")))
	assert.Equal(t, 0, status)
	assert.Less(t, time.Since(start), 10*time.Second)

	require.Equal(t, 1, h.o.Jobs.Len())
	j, _ := h.o.Jobs.Current()
	assert.Equal(t, jobs.Running, j.Status)
	assert.True(t, j.Background)
	assert.Equal(t, "sleep 30 &", j.Command)
	assert.Equal(t, fmt.Sprintf("[%d] %d\n", j.ID, j.Pid), h.notices.String())

	require.NoError(t, unix.Kill(-j.Group(), unix.SIGKILL))
	j = waitForStatus(t, h.o.Jobs, j.ID, jobs.Done)
	assert.Equal(t, 128+int(unix.SIGKILL), j.ExitStatus)
	assert.Equal(t, 1, h.o.Jobs.Cleanup())
}

func TestBackgroundTableFull(t *testing.T) {
	h := newHarness(t, jobs.WithCapacity(1))
	require.Equal(t, 0, h.o.Execute(pipeline(true, argv("sleep", "30"))))
	h.notices.Reset()

	assert.Equal(t, 0, h.o.Execute(pipeline(true, argv("t-true"))))
	assert.Equal(t, 1, h.o.Jobs.Len())
	assert.Empty(t, h.notices.String())
	assert.Contains(t, h.logs.String(), jobs.ErrTableFull.Error())
}

func TestStopBackgroundCycle(t *testing.T) {
	h := newHarness(t)

	status := h.o.Execute(pipeline(false, argv("sh", "-c", "kill -STOP $$; exit 7")))
	assert.Equal(t, 0, status)

	j, ok := h.o.Jobs.Current()
	require.True(t, ok)
	assert.Equal(t, jobs.Stopped, j.Status)
	assert.Equal(t, fmt.Sprintf("\n[%d]+  Stopped                 %s\n", j.ID, j.Command), h.notices.String())
	assert.Equal(t, 0, h.o.Signals.Foreground(), "indicator cleared after stop")

	require.NoError(t, h.o.Background(j))
	assert.Equal(t, jobs.Running, j.Status)
	assert.True(t, j.Background)

	j = waitForStatus(t, h.o.Jobs, j.ID, jobs.Done)
	assert.Equal(t, 7, j.ExitStatus)
}

func TestStopForegroundCycle(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, 0, h.o.Execute(pipeline(false, argv("sh", "-c", "kill -STOP $$; kill -STOP $$; exit 5"))))
	j, ok := h.o.Jobs.Current()
	require.True(t, ok)

	// Stops again after the first continue.
	assert.Equal(t, 0, h.o.Foreground(j))
	assert.Equal(t, jobs.Stopped, j.Status)
	assert.True(t, j.Background)

	assert.Equal(t, 5, h.o.Foreground(j))
	assert.Equal(t, 0, h.o.Jobs.Len(), "finished foreground job is removed")
	assert.Equal(t, 0, h.o.Signals.Foreground())
}

func TestSIGINTReachesForegroundPipeline(t *testing.T) {
	h := newHarness(t)
	h.o.Signals.Install()
	defer h.o.Signals.Stop()

	go func() {
		deadline := time.Now().Add(10 * time.Second)
		for h.o.Signals.Foreground() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		// Give the stages time to exec.
		time.Sleep(200 * time.Millisecond)
		syscall.Kill(os.Getpid(), syscall.SIGINT)
	}()

	status := h.o.Execute(pipeline(false, argv("sleep", "30"), argv("sleep", "30")))
	assert.Equal(t, 128+int(unix.SIGINT), status)
	assert.Equal(t, 0, h.o.Jobs.Len())
}

func TestBuiltinStageSeesJobTable(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, 0, h.o.Execute(pipeline(true, argv("sleep", "30"))))

	require.Equal(t, 0, h.o.Execute(pipeline(false, argv("t-jobs"), argv("t-cat"))))
	assert.Equal(t, "1 Running sleep 30 &\n", readFile(t, h.stdout))
}

func TestStageUsage(t *testing.T) {
	assert.Equal(t, stdio.ExitUsage, RunStage(testResolver, nil))
	assert.Equal(t, stdio.ExitUsage, RunStage(testResolver, []string{"--bogus"}))
}

func TestLauncherArgv(t *testing.T) {
	l := Launcher{Path: "/bin/ushell", Args: []string{StageCommand}}

	assert.Equal(t,
		[]string{"/bin/ushell", StageCommand, "--", "ls", "-l"},
		l.argv(command.Command{Args: argv("ls", "-l")}))
	assert.Equal(t,
		[]string{"/bin/ushell", StageCommand, "--in=a", "--out=b", "--append", "--", "cat"},
		l.argv(command.Command{Args: argv("cat"), In: "a", Out: "b", Append: true}))
}
