package tools

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/josephlewis42/ushell/core/stdio"
	"github.com/pborman/getopt/v2"
)

// unwrap strips the operation and path from filesystem errors, callers print
// the path themselves.
func unwrap(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Err
	}
	return err
}

func missingOperand(s *stdio.Stdio, name string) int {
	return stdio.UsageError(s, name, "missing operand")
}

// Touch creates files or updates their timestamps.
func Touch(s *stdio.Stdio, args []string) int {
	opts := getopt.New()
	noCreate := opts.Bool('c', "do not create any files")
	files, code, ok := parseFlags(s, opts, "FILE...", args)
	if !ok {
		return code
	}
	if len(files) == 0 {
		return missingOperand(s, args[0])
	}

	status := stdio.ExitSuccess
	now := time.Now()
	for _, name := range files {
		err := os.Chtimes(name, now, now)
		if errors.Is(err, fs.ErrNotExist) && !*noCreate {
			var f *os.File
			f, err = os.OpenFile(name, os.O_CREATE|os.O_WRONLY, 0666)
			if err == nil {
				err = f.Close()
			}
		} else if errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
		if err != nil {
			status = stdio.FileError(s, args[0], name, unwrap(err))
		}
	}
	return status
}

// Mkdir creates directories.
func Mkdir(s *stdio.Stdio, args []string) int {
	opts := getopt.New()
	parents := opts.Bool('p', "make parent directories as needed, no error if existing")
	verbose := opts.Bool('v', "print a message for each created directory")
	dirs, code, ok := parseFlags(s, opts, "DIRECTORY...", args)
	if !ok {
		return code
	}
	if len(dirs) == 0 {
		return missingOperand(s, args[0])
	}

	status := stdio.ExitSuccess
	for _, dir := range dirs {
		var err error
		if *parents {
			err = os.MkdirAll(dir, 0777)
		} else {
			err = os.Mkdir(dir, 0777)
		}
		if err != nil {
			status = stdio.FileError(s, args[0], dir, unwrap(err))
			continue
		}
		if *verbose {
			s.Printf("%s: created directory '%s'\n", args[0], dir)
		}
	}
	return status
}

// Rmdir removes empty directories.
func Rmdir(s *stdio.Stdio, args []string) int {
	opts := getopt.New()
	dirs, code, ok := parseFlags(s, opts, "DIRECTORY...", args)
	if !ok {
		return code
	}
	if len(dirs) == 0 {
		return missingOperand(s, args[0])
	}

	status := stdio.ExitSuccess
	for _, dir := range dirs {
		info, err := os.Lstat(dir)
		switch {
		case err != nil:
		case !info.IsDir():
			err = errors.New("not a directory")
		default:
			// os.Remove falls back to unlink, which would hide ENOTEMPTY.
			err = syscallRmdir(dir)
		}
		if err != nil {
			status = stdio.FileError(s, args[0], dir, unwrap(err))
		}
	}
	return status
}

// Rm removes files, and directory trees with -r.
func Rm(s *stdio.Stdio, args []string) int {
	opts := getopt.New()
	recursive := opts.Bool('r', "remove directories and their contents recursively")
	force := opts.Bool('f', "ignore nonexistent files, never prompt")
	files, code, ok := parseFlags(s, opts, "FILE...", args)
	if !ok {
		return code
	}
	if len(files) == 0 {
		if *force {
			return stdio.ExitSuccess
		}
		return missingOperand(s, args[0])
	}

	status := stdio.ExitSuccess
	for _, name := range files {
		info, err := os.Lstat(name)
		switch {
		case err != nil:
		case info.IsDir() && !*recursive:
			err = errors.New("is a directory")
		case info.IsDir():
			err = os.RemoveAll(name)
		default:
			err = os.Remove(name)
		}
		if err != nil && !(*force && errors.Is(err, fs.ErrNotExist)) {
			status = stdio.FileError(s, args[0], name, unwrap(err))
		}
	}
	return status
}

// Mv renames SOURCE to DEST, or moves sources into DIRECTORY.
func Mv(s *stdio.Stdio, args []string) int {
	opts := getopt.New()
	operands, code, ok := parseFlags(s, opts, "SOURCE... DEST", args)
	if !ok {
		return code
	}
	if len(operands) < 2 {
		return missingOperand(s, args[0])
	}

	return eachTarget(s, args[0], operands, func(src, dst string) error {
		return os.Rename(src, dst)
	})
}

// Cp copies regular files.
func Cp(s *stdio.Stdio, args []string) int {
	opts := getopt.New()
	operands, code, ok := parseFlags(s, opts, "SOURCE... DEST", args)
	if !ok {
		return code
	}
	if len(operands) < 2 {
		return missingOperand(s, args[0])
	}

	return eachTarget(s, args[0], operands, copyFile)
}

// eachTarget applies op to every source, resolving the destination the way
// cp and mv do: into the last operand when it's a directory.
func eachTarget(s *stdio.Stdio, name string, operands []string, op func(src, dst string) error) int {
	sources, dest := operands[:len(operands)-1], operands[len(operands)-1]
	destIsDir := false
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		destIsDir = true
	}
	if len(sources) > 1 && !destIsDir {
		return stdio.FileError(s, name, dest, errors.New("not a directory"))
	}

	status := stdio.ExitSuccess
	for _, src := range sources {
		target := dest
		if destIsDir {
			target = filepath.Join(dest, filepath.Base(src))
		}
		if err := op(src, target); err != nil {
			status = stdio.FileError(s, name, src, unwrap(err))
		}
	}
	return status
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New("is a directory")
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
