package catalog

import "fmt"

// Error kinds exposed by the core, per spec.md §7.

type InvalidValueCountError struct {
	Table    string
	Expected int
	Got      int
}

func (e *InvalidValueCountError) Error() string {
	return fmt.Sprintf("catalog: table %s expects %d-byte records, got %d bytes", e.Table, e.Expected, e.Got)
}

type DatabaseExistsError struct{ Path string }

func (e *DatabaseExistsError) Error() string { return fmt.Sprintf("catalog: database already exists: %s", e.Path) }

type DatabaseNotFoundError struct{ Path string }

func (e *DatabaseNotFoundError) Error() string { return fmt.Sprintf("catalog: database not found: %s", e.Path) }

type TableExistsError struct{ Name string }

func (e *TableExistsError) Error() string { return fmt.Sprintf("catalog: table already exists: %s", e.Name) }

type TableNotFoundError struct{ Name string }

func (e *TableNotFoundError) Error() string { return fmt.Sprintf("catalog: table not found: %s", e.Name) }

type IndexExistsError struct {
	Table string
	Col   string
}

func (e *IndexExistsError) Error() string {
	return fmt.Sprintf("catalog: index already exists on %s.%s", e.Table, e.Col)
}

type IndexNotFoundError struct {
	Table string
	Col   string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("catalog: index not found on %s.%s", e.Table, e.Col)
}

// UnixError wraps a failed OS call (directory create, chdir) made
// through golang.org/x/sys/unix.
type UnixError struct {
	Op   string
	Path string
	Err  error
}

func (e *UnixError) Error() string {
	return fmt.Sprintf("catalog: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *UnixError) Unwrap() error { return e.Err }
