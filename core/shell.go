package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/josephlewis42/ushell/core/config"
	"github.com/josephlewis42/ushell/core/env"
	"github.com/josephlewis42/ushell/core/executor"
	"github.com/josephlewis42/ushell/core/jobs"
	"github.com/josephlewis42/ushell/core/signals"
	"github.com/josephlewis42/ushell/core/stdio"
	"github.com/josephlewis42/ushell/core/tty"
	"github.com/josephlewis42/ushell/tools"
	"golang.org/x/term"
	"mvdan.cc/sh/v3/syntax"
)

const (
	EnvHome   = "HOME"
	EnvPWD    = "PWD"
	EnvOldPWD = "OLDPWD"
	EnvUser   = "USER"

	// Name is used as $0 and as the prefix of shell diagnostics.
	Name    = "ushell"
	Version = "1.0.0"

	// ctrlZ is the byte a terminal in raw mode delivers for Ctrl+Z.
	ctrlZ = 26
)

// Options configures a new Shell.
type Options struct {
	Config *config.Configuration

	// Stdin, Stdout and Stderr default to the process's own. Stdin decides
	// whether the shell is interactive.
	Stdin, Stdout, Stderr *os.File

	// Environ seeds the shell variables, os.Environ() when nil.
	Environ []string

	// Launcher starts pipeline stages.
	Launcher executor.Launcher

	// Events receives job lifecycle events, may be nil.
	Events executor.EventRecorder

	// Log receives diagnostics that aren't part of a command's output.
	Log *log.Logger
}

// Shell is the interactive command interpreter.
type Shell struct {
	Env      *env.Env
	Config   *config.Configuration
	Jobs     *jobs.Table
	Signals  *signals.Controller
	Terminal *tty.Terminal
	Exec     *executor.Orchestrator
	Stdio    *stdio.Stdio
	Readline *readline.Instance

	stdin   *os.File
	aliases map[string]string
	history []string
	lastRet int
	log     *log.Logger
	prompt  *color.Color

	// stage is set when the shell runs a single pipeline stage and has no
	// job control.
	stage bool

	// Set to true to quit the shell
	Quit     bool
	exitCode int
}

// NewShell creates a shell that owns the process's job control. Close
// releases its signal handlers.
func NewShell(opts Options) (*Shell, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	stdin, stdout, stderr := opts.Stdin, opts.Stdout, opts.Stderr
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	logger := opts.Log
	if logger == nil {
		logger = log.New(stderr, "", 0)
	}

	s := &Shell{
		Env:      env.FromEnviron(environ),
		Config:   cfg,
		Jobs:     jobs.NewTable(jobs.SystemWaiter{}),
		Signals:  signals.New(stdout),
		Terminal: tty.New(stdin),
		Stdio:    &stdio.Stdio{In: stdin, Out: stdout, Err: stderr},
		stdin:    stdin,
		aliases:  make(map[string]string),
		log:      logger,
		prompt:   newPromptColor(cfg.Color, stdout),
	}

	for k, v := range cfg.Environment {
		s.Env.Setenv(k, v)
	}
	for k, v := range cfg.Aliases {
		s.aliases[k] = v
	}
	if wd, err := os.Getwd(); err == nil {
		s.Env.Setenv(EnvPWD, wd)
	}

	s.Exec = &executor.Orchestrator{
		Jobs:     s.Jobs,
		Signals:  s.Signals,
		Terminal: s.Terminal,
		Resolver: s,
		Launcher: opts.Launcher,
		Stdio:    s.Stdio,
		Stdin:    stdin,
		Stdout:   stdout,
		Stderr:   stderr,
		Environ:  s.Env.Environ,
		Events:   opts.Events,
		Log:      logger,
	}

	s.Signals.Install()
	return s, nil
}

// NewStageShell creates the shell used by a single pipeline stage. It sees
// the job table the parent passed down, frozen, and has no job control.
func NewStageShell() *Shell {
	table := jobs.NewTable(jobs.FrozenWaiter{})
	if snap, ok := os.LookupEnv(executor.JobsEnvVar); ok {
		if restored, err := jobs.Restore([]byte(snap), jobs.FrozenWaiter{}); err == nil {
			table = restored
		}
		// Keep the snapshot out of exec'd programs.
		os.Unsetenv(executor.JobsEnvVar)
	}

	cfg := config.Default()
	return &Shell{
		Env:     env.FromEnviron(os.Environ()),
		Config:  cfg,
		Jobs:    table,
		Stdio:   stdio.Default(),
		stdin:   os.Stdin,
		aliases: make(map[string]string),
		log:     log.New(os.Stderr, "", 0),
		prompt:  newPromptColor(config.ColorNever, os.Stdout),
		stage:   true,
	}
}

func newPromptColor(mode string, out *os.File) *color.Color {
	c := color.New(color.FgGreen, color.Bold)
	switch mode {
	case config.ColorAlways:
		c.EnableColor()
	case config.ColorAuto:
		if term.IsTerminal(int(out.Fd())) {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	default:
		c.DisableColor()
	}
	return c
}

// Close stops signal handling and gives the terminal back.
func (s *Shell) Close() error {
	if s.Signals != nil {
		s.Signals.Stop()
	}
	if s.Readline != nil {
		s.Readline.Close()
	}
	return s.Terminal.Restore()
}

// LastStatus is the exit status of the last command.
func (s *Shell) LastStatus() int {
	return s.lastRet
}

// ExitCode is the status the shell process should exit with.
func (s *Shell) ExitCode() int {
	if s.Quit {
		return s.exitCode
	}
	return s.lastRet & 0xff
}

// Resolve implements executor.Resolver: builtins first, then the integrated
// tools, then PATH.
func (s *Shell) Resolve(name string) executor.Program {
	if builtin, ok := AllBuiltins[name]; ok {
		return executor.Program{
			Kind: executor.Builtin,
			Main: func(std *stdio.Stdio, args []string) int {
				return builtin.Proc.Main(s, std, args)
			},
		}
	}
	if tool, ok := tools.Lookup(name); ok {
		return executor.Program{Kind: executor.Tool, Main: executor.Main(tool)}
	}
	return executor.Program{Kind: executor.External}
}

func (s *Shell) promptText() string {
	prompt := s.Config.Prompt

	pwd := s.Env.Get(EnvPWD)
	if home := s.Env.Get(EnvHome); home != "" && (pwd == home || strings.HasPrefix(pwd, home+"/")) {
		pwd = "~" + strings.TrimPrefix(pwd, home)
	}
	prompt = strings.ReplaceAll(prompt, `\w`, pwd)
	prompt = strings.ReplaceAll(prompt, `\u`, s.Env.Get(EnvUser))

	if os.Geteuid() == 0 {
		prompt = strings.ReplaceAll(prompt, `\$`, "#")
	} else {
		prompt = strings.ReplaceAll(prompt, `\$`, "$")
	}

	return s.prompt.Sprint(prompt)
}

// filterInput drops Ctrl+Z at the prompt: the shell has nothing to suspend
// and must never stop itself.
func filterInput(r rune) (rune, bool) {
	if r == ctrlZ {
		return r, false
	}
	return r, true
}

// RunInteractive reads and runs lines until exit or end of input. Standard
// input that isn't a terminal is read as a script.
func (s *Shell) RunInteractive() int {
	if !s.Terminal.IsInteractive() {
		s.RunScript(s.stdin, "")
		return s.ExitCode()
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:              s.promptText(),
		HistoryFile:         s.Config.HistoryPath(),
		HistoryLimit:        s.Config.HistoryLimit,
		Stdin:               readline.NewCancelableStdin(s.stdin),
		Stdout:              s.Stdio.Out,
		Stderr:              s.Stdio.Err,
		FuncIsTerminal:      s.Terminal.IsInteractive,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		s.log.Printf("%s: %v", Name, err)
		return stdio.ExitFailure
	}
	s.Readline = rl

	for !s.Quit {
		s.reap()

		rl.SetPrompt(s.promptText())
		line, err := rl.Readline()

		switch {
		case err == io.EOF:
			fmt.Fprintln(s.Stdio.Out)
			return s.ExitCode()

		case err == readline.ErrInterrupt:
			// Interrupt clears line.
			continue

		case err != nil:
			s.log.Printf("%s: readline: %v", Name, err)
			return stdio.ExitFailure

		case strings.TrimSpace(line) == "":
			continue

		default:
			s.history = append(s.history, line)
			s.RunCommand(line)
		}
	}
	return s.ExitCode()
}

// RunStartup runs the configured startup commands.
func (s *Shell) RunStartup() {
	for _, line := range s.Config.Startup {
		if s.Quit {
			return
		}
		s.RunCommand(line)
	}
}

// RunCommand parses and runs one command line and returns its status.
func (s *Shell) RunCommand(line string) int {
	prog, err := syntax.NewParser().Parse(strings.NewReader(line), "")
	if err != nil {
		s.Stdio.Errorf("%s: syntax error: %v\n", Name, err)
		s.lastRet = stdio.ExitUsage
		return s.lastRet
	}
	s.executeStmts(prog.Stmts)
	s.reap()
	return s.lastRet
}

// RunScript runs commands from r as they're read, so commands that read
// the same input see the rest of it. name is used in syntax errors.
func (s *Shell) RunScript(r io.Reader, name string) int {
	parser := syntax.NewParser()
	err := parser.Interactive(r, func(stmts []*syntax.Stmt) bool {
		if parser.Incomplete() {
			return true
		}
		s.executeStmts(stmts)
		s.reap()
		return !s.Quit
	})
	if err != nil {
		prefix := Name
		if name != "" {
			prefix = name
		}
		s.Stdio.Errorf("%s: syntax error: %v\n", prefix, err)
		s.lastRet = stdio.ExitUsage
	}
	return s.lastRet
}

// reap catches the job table up after children changed state.
func (s *Shell) reap() {
	if s.Signals == nil || !s.Signals.TakeChildExited() {
		return
	}
	s.reconcile()
	s.Jobs.Cleanup()
}

// catchUp reconciles whether or not SIGCHLD arrived. Job control builtins
// call it so users never see stale state.
func (s *Shell) catchUp() {
	if s.Signals != nil {
		s.Signals.TakeChildExited()
	}
	s.reconcile()
}

func (s *Shell) reconcile() {
	for _, j := range s.Jobs.Reconcile() {
		switch j.Status {
		case jobs.Done:
			s.event(executor.EventJobDone, j)
		case jobs.Stopped:
			s.event(executor.EventJobStopped, j)
		case jobs.Running:
			s.event(executor.EventJobResumed, j)
		}
	}
}

func (s *Shell) event(name string, j *jobs.Job) {
	if s.Exec != nil && s.Exec.Events != nil {
		s.Exec.Events.JobEvent(name, j)
	}
}
