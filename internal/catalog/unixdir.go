package catalog

import (
	"os"

	"golang.org/x/sys/unix"
)

// createDatabaseDir makes a fresh database directory via the raw unix
// syscall layer rather than os.Mkdir, surfacing failures as the
// catalog's own UnixError kind (spec.md §7).
func createDatabaseDir(path string) error {
	if err := unix.Mkdir(path, 0o755); err != nil {
		return &UnixError{Op: "mkdir", Path: path, Err: err}
	}
	return nil
}

// chdirInto chdirs the process into path, matching the original
// catalog's working-directory convention for resolving per-table file
// names relative to the open database.
func chdirInto(path string) error {
	if err := unix.Chdir(path); err != nil {
		return &UnixError{Op: "chdir", Path: path, Err: err}
	}
	return nil
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
