package executor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"

	"github.com/josephlewis42/ushell/core/command"
	"github.com/josephlewis42/ushell/core/stdio"
	"github.com/pborman/getopt/v2"
	"golang.org/x/sys/unix"
)

const (
	// StageCommand is the hidden sub-command that runs one pipeline stage.
	StageCommand = "__stage"

	// JobsEnvVar carries a snapshot of the job table to builtin stages.
	JobsEnvVar = "USHELL_JOBS"

	// ExitNotFound is returned when a stage can't exec its program.
	ExitNotFound = 127
)

// Launcher starts pipeline stages by re-executing a binary in stage mode.
type Launcher struct {
	// Path is the binary to run, normally the shell itself.
	Path string
	// Args select stage mode, e.g. []string{StageCommand}.
	Args []string
}

// SelfLauncher returns a Launcher for the running executable.
func SelfLauncher() (Launcher, error) {
	path, err := os.Executable()
	if err != nil {
		return Launcher{}, fmt.Errorf("locating shell executable: %w", err)
	}
	return Launcher{Path: path, Args: []string{StageCommand}}, nil
}

// argv builds the child's argument vector for stage.
func (l Launcher) argv(stage command.Command) []string {
	argv := append([]string{l.Path}, l.Args...)
	if stage.In != "" {
		argv = append(argv, "--in="+stage.In)
	}
	if stage.Out != "" {
		argv = append(argv, "--out="+stage.Out)
		if stage.Append {
			argv = append(argv, "--append")
		}
	}
	argv = append(argv, "--")
	return append(argv, stage.Args...)
}

// RunStage is the child side of a pipeline stage. It applies the stage's file
// redirections, then runs the builtin or tool named by the first operand, or
// replaces the process with the external program.
//
// args are the arguments following StageCommand. The returned value is the
// process exit code; RunStage doesn't return when exec succeeds.
func RunStage(r Resolver, args []string) int {
	std := stdio.Default()

	// Ignored dispositions survive exec, so background stages aren't stopped
	// for touching the terminal.
	signal.Ignore(unix.SIGTTOU, unix.SIGTTIN)

	opts := getopt.New()
	in := opts.StringLong("in", 0, "", "read standard input from FILE", "FILE")
	out := opts.StringLong("out", 0, "", "write standard output to FILE", "FILE")
	appendOut := opts.BoolLong("append", 0, "append to the --out file instead of truncating")

	if err := opts.Getopt(append([]string{StageCommand}, args...), nil); err != nil {
		std.Errorf("ushell: %s: %v\n", StageCommand, err)
		return stdio.ExitUsage
	}
	argv := opts.Args()
	if len(argv) == 0 {
		std.Errorf("ushell: %s: missing command\n", StageCommand)
		return stdio.ExitUsage
	}

	if *in != "" {
		if err := redirect(unix.Stdin, *in, os.O_RDONLY); err != nil {
			std.Errorf("ushell: %s: %v\n", *in, unwrapPath(err))
			return stdio.ExitFailure
		}
	}
	if *out != "" {
		flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if *appendOut {
			flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		if err := redirect(unix.Stdout, *out, flag); err != nil {
			std.Errorf("ushell: %s: %v\n", *out, unwrapPath(err))
			return stdio.ExitFailure
		}
	}

	if prog := r.Resolve(argv[0]); prog.InProcess() {
		return prog.Main(std, argv)
	}

	return execExternal(std, argv)
}

func redirect(fd int, path string, flag int) error {
	f, err := os.OpenFile(path, flag, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	return unix.Dup2(int(f.Fd()), fd)
}

func unwrapPath(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	return err
}

func execExternal(std *stdio.Stdio, argv []string) int {
	path, err := exec.LookPath(argv[0])
	if errors.Is(err, exec.ErrDot) {
		err = nil
	}
	if err == nil {
		err = unix.Exec(path, argv, os.Environ())
	}

	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		std.Errorf("ushell: command not found: %s\n", argv[0])
	case errors.Is(err, fs.ErrPermission):
		std.Errorf("ushell: permission denied: %s\n", argv[0])
	default:
		std.Errorf("ushell: %s: %v\n", argv[0], err)
	}
	return ExitNotFound
}
