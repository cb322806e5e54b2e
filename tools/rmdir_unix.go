package tools

import (
	"os"

	"golang.org/x/sys/unix"
)

func syscallRmdir(dir string) error {
	if err := unix.Rmdir(dir); err != nil {
		return &os.PathError{Op: "rmdir", Path: dir, Err: err}
	}
	return nil
}
