package tools

import (
	"fmt"
	"os"
	"strings"

	"github.com/benhoyt/goawk/interp"
	"github.com/benhoyt/goawk/parser"
	"github.com/josephlewis42/ushell/core/stdio"
	"github.com/pborman/getopt/v2"
)

// Awk runs an AWK program over files or stdin.
func Awk(s *stdio.Stdio, args []string) int {
	opts := getopt.New()
	fs := opts.String('F', "", "use FS as the input field separator", "FS")
	var assigns []string
	opts.FlagLong(&assigns, "assign", 'v', "assign VAR=VALUE before the program runs", "VAR=VALUE")
	operands, code, ok := parseFlags(s, opts, "'PROGRAM' [FILE...]", args)
	if !ok {
		return code
	}
	if len(operands) == 0 {
		return stdio.UsageError(s, args[0], "missing program")
	}
	src, files := operands[0], operands[1:]

	prog, err := parser.ParseProgram([]byte(src), nil)
	if err != nil {
		s.Errorf("%s: %v\n", args[0], err)
		return stdio.ExitUsage
	}

	var vars []string
	if *fs != "" {
		vars = append(vars, "FS", *fs)
	}
	for _, assign := range assigns {
		name, value, ok := strings.Cut(assign, "=")
		if !ok {
			return stdio.UsageError(s, args[0], fmt.Sprintf("invalid -v argument: %q", assign))
		}
		vars = append(vars, name, value)
	}

	var environ []string
	for _, entry := range os.Environ() {
		if name, value, ok := strings.Cut(entry, "="); ok {
			environ = append(environ, name, value)
		}
	}

	status, err := interp.ExecProgram(prog, &interp.Config{
		Argv0:   args[0],
		Stdin:   s.In,
		Output:  s.Out,
		Error:   s.Err,
		Args:    files,
		Vars:    vars,
		Environ: environ,
	})
	if err != nil {
		s.Errorf("%s: %v\n", args[0], err)
		return stdio.ExitFailure
	}
	return status
}
