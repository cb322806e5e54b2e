package tools

import (
	"bufio"
	"io"
	"os"

	"github.com/josephlewis42/ushell/core/stdio"
	"github.com/pborman/getopt/v2"
)

// Cat concatenates files to stdout. "-" or no operands read stdin.
func Cat(s *stdio.Stdio, args []string) int {
	opts := getopt.New()
	number := opts.Bool('n', "number all output lines")
	files, code, ok := parseFlags(s, opts, "[FILE...]", args)
	if !ok {
		return code
	}
	if len(files) == 0 {
		files = []string{"-"}
	}

	line := 0
	status := stdio.ExitSuccess
	for _, name := range files {
		var r io.Reader = s.In
		if name != "-" {
			f, err := os.Open(name)
			if err != nil {
				status = stdio.FileError(s, args[0], name, unwrap(err))
				continue
			}
			defer f.Close()
			r = f
		}

		if !*number {
			if _, err := io.Copy(s.Out, r); err != nil {
				status = stdio.FileError(s, args[0], name, unwrap(err))
			}
			continue
		}

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line++
			s.Printf("%6d\t%s\n", line, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			status = stdio.FileError(s, args[0], name, unwrap(err))
		}
	}
	return status
}
