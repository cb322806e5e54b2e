package core

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/josephlewis42/ushell/core/env"
	"github.com/josephlewis42/ushell/core/stdio"
	"github.com/josephlewis42/ushell/tools"
	"github.com/kballard/go-shellquote"
	"github.com/pborman/getopt/v2"
)

// AllBuiltins holds a list of all registered shell builtins
var AllBuiltins = make(map[string]*BuiltinEntry)

type ShellBuiltin interface {
	Main(s *Shell, std *stdio.Stdio, args []string) int
}

type ShellBuiltinFunc func(s *Shell, std *stdio.Stdio, args []string) int

func (f ShellBuiltinFunc) Main(s *Shell, std *stdio.Stdio, args []string) int {
	return f(s, std, args)
}

var _ ShellBuiltin = (ShellBuiltinFunc)(nil)

// BuiltinEntry describes a builtin for help and commands.
type BuiltinEntry struct {
	Name    string `json:"name"`
	Usage   string `json:"usage"`
	Summary string `json:"summary"`
	Group   string `json:"group"`

	Proc ShellBuiltin `json:"-"`
}

const (
	groupShell = "Built-in Commands"
	groupJobs  = "Job Control"
)

func addBuiltin(group, usage, summary string, proc ShellBuiltinFunc) {
	name := strings.Fields(usage)[0]
	AllBuiltins[name] = &BuiltinEntry{
		Name:    name,
		Usage:   usage,
		Summary: summary,
		Group:   group,
		Proc:    proc,
	}
}

// ListBuiltins returns the builtins sorted by name.
func ListBuiltins() []*BuiltinEntry {
	var out []*BuiltinEntry
	for _, entry := range AllBuiltins {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(name string) bool {
	return identRegex.MatchString(name)
}

func unwrapPath(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	return err
}

// Cd is the cd shell builtin
func Cd(s *Shell, std *stdio.Stdio, args []string) int {
	var dir string
	switch len(args) {
	case 1:
		home, ok := s.Env.Lookup(EnvHome)
		if !ok || home == "" {
			std.Errorf("%s: HOME not set\n", args[0])
			return stdio.ExitFailure
		}
		dir = home
	case 2:
		dir = args[1]
		if dir == "-" {
			dir = s.Env.Get(EnvOldPWD)
			if dir == "" {
				std.Errorf("%s: OLDPWD not set\n", args[0])
				return stdio.ExitFailure
			}
			std.Println(dir)
		}
	default:
		std.Errorf("%s: too many arguments\n", args[0])
		return stdio.ExitFailure
	}

	if err := os.Chdir(dir); err != nil {
		return stdio.FileError(std, args[0], dir, unwrapPath(err))
	}
	if prev, ok := s.Env.Lookup(EnvPWD); ok {
		s.Env.Setenv(EnvOldPWD, prev)
	}
	if wd, err := os.Getwd(); err == nil {
		s.Env.Setenv(EnvPWD, wd)
	}
	return stdio.ExitSuccess
}

// Pwd prints the working directory.
func Pwd(s *Shell, std *stdio.Stdio, args []string) int {
	wd, err := os.Getwd()
	if err != nil {
		std.Errorf("%s: %v\n", args[0], err)
		return stdio.ExitFailure
	}
	std.Println(wd)
	return stdio.ExitSuccess
}

// Echo prints its arguments. A leading -n suppresses the newline.
func Echo(s *Shell, std *stdio.Stdio, args []string) int {
	args = args[1:]
	newline := true
	if len(args) > 0 && args[0] == "-n" {
		newline = false
		args = args[1:]
	}
	std.Printf("%s", strings.Join(args, " "))
	if newline {
		std.Println()
	}
	return stdio.ExitSuccess
}

// Export marks variables for child processes, optionally setting them.
func Export(s *Shell, std *stdio.Stdio, args []string) int {
	if len(args) == 1 {
		for _, pair := range s.Env.Environ() {
			name, value := env.SplitPair(pair)
			std.Printf("export %s=%s\n", name, shellquote.Join(value))
		}
		return stdio.ExitSuccess
	}

	status := stdio.ExitSuccess
	for _, arg := range args[1:] {
		name, value, hasValue := strings.Cut(arg, "=")
		if !validIdentifier(name) {
			std.Errorf("%s: `%s': not a valid identifier\n", args[0], arg)
			status = stdio.ExitFailure
			continue
		}
		if hasValue {
			s.Env.Setenv(name, value)
		} else {
			s.Env.Export(name)
		}
	}
	return status
}

// Set lists the shell variables or sets shell-local ones.
func Set(s *Shell, std *stdio.Stdio, args []string) int {
	if len(args) == 1 {
		for _, pair := range s.Env.All() {
			std.Println(pair)
		}
		return stdio.ExitSuccess
	}

	for _, arg := range args[1:] {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || !validIdentifier(name) {
			std.Errorf("%s: invalid format (use VAR=value)\n", args[0])
			return stdio.ExitFailure
		}
		s.Env.Set(name, value)
	}
	return stdio.ExitSuccess
}

// Unset removes variables.
func Unset(s *Shell, std *stdio.Stdio, args []string) int {
	opts := getopt.New()
	opts.Bool('f', "treat NAME as a function")
	opts.Bool('v', "treat NAME as a variable")
	names, code, ok := parseBuiltinFlags(std, opts, "NAME...", args)
	if !ok {
		return code
	}
	if len(names) == 0 {
		std.Errorf("%s: usage: unset VAR\n", args[0])
		return stdio.ExitFailure
	}

	for _, name := range names {
		s.Env.Unset(name)
	}
	return stdio.ExitSuccess
}

// Env prints the exported environment.
func Env(s *Shell, std *stdio.Stdio, args []string) int {
	for _, pair := range s.Env.Environ() {
		std.Println(pair)
	}
	return stdio.ExitSuccess
}

// Alias defines or lists aliases.
func Alias(s *Shell, std *stdio.Stdio, args []string) int {
	printAlias := func(name string) {
		std.Printf("alias %s=%s\n", name, shellquote.Join(s.aliases[name]))
	}

	if len(args) == 1 {
		var names []string
		for name := range s.aliases {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			printAlias(name)
		}
		return stdio.ExitSuccess
	}

	status := stdio.ExitSuccess
	for _, arg := range args[1:] {
		name, value, ok := strings.Cut(arg, "=")
		switch {
		case ok && name != "" && !strings.ContainsAny(name, " \t|&;<>"):
			s.aliases[name] = value
		case ok:
			std.Errorf("%s: `%s': invalid alias name\n", args[0], name)
			status = stdio.ExitFailure
		default:
			if _, found := s.aliases[name]; !found {
				std.Errorf("%s: %s: not found\n", args[0], name)
				status = stdio.ExitFailure
				continue
			}
			printAlias(name)
		}
	}
	return status
}

// Unalias removes aliases.
func Unalias(s *Shell, std *stdio.Stdio, args []string) int {
	opts := getopt.New()
	all := opts.Bool('a', "remove all alias definitions")
	names, code, ok := parseBuiltinFlags(std, opts, "[-a] NAME...", args)
	if !ok {
		return code
	}

	if *all {
		s.aliases = make(map[string]string)
		return stdio.ExitSuccess
	}
	if len(names) == 0 {
		std.Errorf("%s: usage: unalias [-a] name [name ...]\n", args[0])
		return stdio.ExitUsage
	}

	status := stdio.ExitSuccess
	for _, name := range names {
		if _, found := s.aliases[name]; !found {
			std.Errorf("%s: %s: not found\n", args[0], name)
			status = stdio.ExitFailure
			continue
		}
		delete(s.aliases, name)
	}
	return status
}

// Exit quits the shell
func Exit(s *Shell, std *stdio.Stdio, args []string) int {
	code := s.lastRet & 0xff
	switch len(args) {
	case 1:
	case 2:
		n, err := strconv.Atoi(args[1])
		if err != nil {
			std.Errorf("%s: %s: numeric argument required\n", args[0], args[1])
			code = stdio.ExitUsage
			break
		}
		code = n & 0xff
	default:
		std.Errorf("%s: too many arguments\n", args[0])
		return stdio.ExitFailure
	}

	s.Quit = true
	s.exitCode = code
	return code
}

func History(s *Shell, std *stdio.Stdio, args []string) int {
	opts := getopt.New()
	reset := opts.Bool('c', "clear the history by deleting all entries")
	if _, code, ok := parseBuiltinFlags(std, opts, "[-c]", args); !ok {
		return code
	}

	if *reset {
		if s.Readline != nil {
			s.Readline.ResetHistory()
		}
		s.history = nil
		std.Println("History cleared")
		return stdio.ExitSuccess
	}

	if len(s.history) == 0 {
		std.Println("No history")
		return stdio.ExitSuccess
	}
	for i, line := range s.history {
		std.Printf("%5d  %s\n", i+1, line)
	}
	return stdio.ExitSuccess
}

func Help(s *Shell, std *stdio.Stdio, args []string) int {
	if len(args) > 1 {
		status := stdio.ExitSuccess
		for _, topic := range args[1:] {
			entry, ok := AllBuiltins[topic]
			if !ok {
				std.Errorf("%s: no help topics match `%s'\n", args[0], topic)
				status = stdio.ExitFailure
				continue
			}
			std.Printf("%s: %s\n    %s\n", entry.Name, entry.Usage, entry.Summary)
		}
		return status
	}

	std.Printf("Unified Shell (%s) v%s\n", Name, Version)
	for _, group := range []string{groupShell, groupJobs} {
		std.Printf("\n%s:\n", group)
		for _, entry := range ListBuiltins() {
			if entry.Group == group {
				std.Printf("  %-20s %s\n", entry.Usage, entry.Summary)
			}
		}
		if group == groupJobs {
			std.Printf("  %-20s %s\n", "cmd &", "Run command in background")
		}
	}

	std.Printf("\nIntegrated Tools:\n  %s\n", strings.Join(tools.Names(), ", "))
	return stdio.ExitSuccess
}

// PrintVersion prints version information.
func PrintVersion(s *Shell, std *stdio.Stdio, args []string) int {
	std.Printf("Unified Shell (%s) v%s\n", Name, Version)
	return stdio.ExitSuccess
}

type catalogEntry struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Usage   string `json:"usage,omitempty"`
	Summary string `json:"summary,omitempty"`
}

func catalog() []catalogEntry {
	var out []catalogEntry
	for _, entry := range ListBuiltins() {
		out = append(out, catalogEntry{Name: entry.Name, Kind: "builtin", Usage: entry.Usage, Summary: entry.Summary})
	}
	for _, name := range tools.Names() {
		out = append(out, catalogEntry{Name: name, Kind: "tool"})
	}
	return out
}

// Commands lists everything the shell runs without PATH.
func Commands(s *Shell, std *stdio.Stdio, args []string) int {
	opts := getopt.New()
	asJSON := opts.BoolLong("json", 0, "print a JSON catalog")
	if _, code, ok := parseBuiltinFlags(std, opts, "[--json]", args); !ok {
		return code
	}

	if *asJSON {
		out, err := json.MarshalIndent(map[string]interface{}{"commands": catalog()}, "", "  ")
		if err != nil {
			std.Errorf("%s: %v\n", args[0], err)
			return stdio.ExitFailure
		}
		std.Println(string(out))
		return stdio.ExitSuccess
	}

	for _, entry := range catalog() {
		std.Printf("%-8s %s\n", entry.Kind, entry.Name)
	}
	return stdio.ExitSuccess
}

// True does nothing, successfully.
func True(*Shell, *stdio.Stdio, []string) int {
	return stdio.ExitSuccess
}

// False does nothing, unsuccessfully.
func False(*Shell, *stdio.Stdio, []string) int {
	return stdio.ExitFailure
}

// parseBuiltinFlags parses args with opts, adding -h/--help. ok is false when
// the builtin should return code right away.
func parseBuiltinFlags(std *stdio.Stdio, opts *getopt.Set, params string, args []string) (operands []string, code int, ok bool) {
	opts.SetProgram(args[0])
	opts.SetParameters(params)
	help := opts.BoolLong("help", 'h', "show help and exit")

	if err := opts.Getopt(args, nil); err != nil {
		std.Errorf("%s: %v\n", args[0], err)
		opts.PrintUsage(std.Err)
		return nil, stdio.ExitUsage, false
	}
	if *help {
		opts.PrintUsage(std.Out)
		return nil, stdio.ExitSuccess, false
	}
	return opts.Args(), stdio.ExitSuccess, true
}

func init() {
	addBuiltin(groupShell, "cd [dir]", "Change directory (default: $HOME, - for $OLDPWD)", Cd)
	addBuiltin(groupShell, "pwd", "Print working directory", Pwd)
	addBuiltin(groupShell, "echo [-n] [args...]", "Display arguments", Echo)
	addBuiltin(groupShell, "export [VAR[=value]...]", "Set and export environment variables", Export)
	addBuiltin(groupShell, "set [VAR=value...]", "Set shell variables, or list them all", Set)
	addBuiltin(groupShell, "unset VAR...", "Remove variables", Unset)
	addBuiltin(groupShell, "env", "Display exported variables", Env)
	addBuiltin(groupShell, "alias [name[=value]...]", "Define or display aliases", Alias)
	addBuiltin(groupShell, "unalias [-a] name...", "Remove aliases", Unalias)
	addBuiltin(groupShell, "exit [code]", "Exit the shell", Exit)
	addBuiltin(groupShell, "help [name...]", "Display help for builtins", Help)
	addBuiltin(groupShell, "history [-c]", "Display or clear command history", History)
	addBuiltin(groupShell, "version", "Display version information", PrintVersion)
	addBuiltin(groupShell, "commands [--json]", "List builtins and integrated tools", Commands)
	addBuiltin(groupShell, "true", "Return success", True)
	addBuiltin(groupShell, "false", "Return failure", False)
}
