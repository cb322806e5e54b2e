// Package stdio holds the stream triple handed to builtins and tools.
package stdio

import (
	"fmt"
	"io"
	"os"
)

// Exit codes following POSIX conventions.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Stdio holds the standard I/O streams for a builtin or tool.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Default returns Stdio configured with os.Stdin, os.Stdout, os.Stderr.
func Default() *Stdio {
	return &Stdio{
		In:  os.Stdin,
		Out: os.Stdout,
		Err: os.Stderr,
	}
}

// Errorf writes a formatted error message to stderr.
func (s *Stdio) Errorf(format string, args ...any) {
	fmt.Fprintf(s.Err, format, args...)
}

// Printf writes a formatted message to stdout.
func (s *Stdio) Printf(format string, args ...any) {
	fmt.Fprintf(s.Out, format, args...)
}

// Println writes a message to stdout with a newline.
func (s *Stdio) Println(args ...any) {
	fmt.Fprintln(s.Out, args...)
}

// UsageError prints a usage error and returns ExitUsage.
func UsageError(s *Stdio, name, message string) int {
	s.Errorf("%s: %s\n", name, message)
	return ExitUsage
}

// FileError prints a file-related error and returns ExitFailure.
func FileError(s *Stdio, name, path string, err error) int {
	s.Errorf("%s: %s: %v\n", name, path, err)
	return ExitFailure
}
