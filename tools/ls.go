package tools

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/josephlewis42/ushell/core/stdio"
	"github.com/pborman/getopt/v2"
)

// Ls lists directory contents.
func Ls(s *stdio.Stdio, args []string) int {
	opts := getopt.New()
	all := opts.Bool('a', "do not ignore entries starting with .")
	long := opts.Bool('l', "use a long listing format")
	paths, code, ok := parseFlags(s, opts, "[FILE...]", args)
	if !ok {
		return code
	}
	if len(paths) == 0 {
		paths = []string{"."}
	}

	status := stdio.ExitSuccess
	for i, path := range paths {
		info, err := os.Lstat(path)
		if err != nil {
			status = stdio.FileError(s, args[0], path, unwrap(err))
			continue
		}

		if !info.IsDir() {
			printEntry(s, info, path, *long)
			continue
		}

		if len(paths) > 1 {
			if i > 0 {
				s.Println()
			}
			s.Printf("%s:\n", path)
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			status = stdio.FileError(s, args[0], path, unwrap(err))
			continue
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Name() < entries[j].Name()
		})
		for _, entry := range entries {
			if !*all && strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			entryInfo, err := os.Lstat(filepath.Join(path, entry.Name()))
			if err != nil {
				status = stdio.FileError(s, args[0], entry.Name(), unwrap(err))
				continue
			}
			printEntry(s, entryInfo, entry.Name(), *long)
		}
	}
	return status
}

func printEntry(s *stdio.Stdio, info os.FileInfo, name string, long bool) {
	if !long {
		s.Println(name)
		return
	}
	s.Printf("%s %8d %s %s\n", info.Mode(), info.Size(), info.ModTime().Format("Jan _2 15:04"), name)
}
