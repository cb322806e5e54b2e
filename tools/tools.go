// Package tools holds the shell's integrated file utilities. Tools only see
// their arguments and streams, never shell state, so they run the same way
// inside the shell and as a pipeline stage.
package tools

import (
	"sort"

	"github.com/josephlewis42/ushell/core/stdio"
	"github.com/pborman/getopt/v2"
)

// Tool is the entry point of an integrated utility. args[0] is its name.
type Tool func(s *stdio.Stdio, args []string) int

var registry = map[string]Tool{
	"myawk":   Awk,
	"mycat":   Cat,
	"mycp":    Cp,
	"myls":    Ls,
	"mymkdir": Mkdir,
	"mymv":    Mv,
	"myrm":    Rm,
	"myrmdir": Rmdir,
	"mystat":  Stat,
	"mytouch": Touch,
}

// Lookup finds a tool by name.
func Lookup(name string) (Tool, bool) {
	tool, ok := registry[name]
	return tool, ok
}

// Names lists the tools in sorted order.
func Names() []string {
	var out []string
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// parseFlags parses args with opts, adding -h/--help. ok is false when the
// tool should return code right away.
func parseFlags(s *stdio.Stdio, opts *getopt.Set, params string, args []string) (operands []string, code int, ok bool) {
	opts.SetProgram(args[0])
	opts.SetParameters(params)
	help := opts.BoolLong("help", 'h', "show this help and exit")

	if err := opts.Getopt(args, nil); err != nil {
		s.Errorf("%s: %v\n", args[0], err)
		opts.PrintUsage(s.Err)
		return nil, stdio.ExitUsage, false
	}
	if *help {
		opts.PrintUsage(s.Out)
		return nil, stdio.ExitSuccess, false
	}
	return opts.Args(), stdio.ExitSuccess, true
}
