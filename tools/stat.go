package tools

import (
	"os"

	"github.com/josephlewis42/ushell/core/stdio"
	"github.com/pborman/getopt/v2"
)

// Stat prints file metadata.
func Stat(s *stdio.Stdio, args []string) int {
	opts := getopt.New()
	files, code, ok := parseFlags(s, opts, "FILE...", args)
	if !ok {
		return code
	}
	if len(files) == 0 {
		return missingOperand(s, args[0])
	}

	status := stdio.ExitSuccess
	for _, name := range files {
		info, err := os.Lstat(name)
		if err != nil {
			status = stdio.FileError(s, args[0], name, unwrap(err))
			continue
		}
		s.Printf("  File: %s\n", name)
		s.Printf("  Size: %-10d %s\n", info.Size(), fileType(info.Mode()))
		s.Printf("Access: %s\n", info.Mode())
		s.Printf("Modify: %s\n", info.ModTime().Format("2006-01-02 15:04:05.000000000 -0700"))
	}
	return status
}

func fileType(mode os.FileMode) string {
	switch {
	case mode.IsRegular():
		return "regular file"
	case mode.IsDir():
		return "directory"
	case mode&os.ModeSymlink != 0:
		return "symbolic link"
	case mode&os.ModeNamedPipe != 0:
		return "fifo"
	case mode&os.ModeSocket != 0:
		return "socket"
	case mode&os.ModeDevice != 0:
		return "device"
	default:
		return "other"
	}
}
