// Package catalog ties the record file, B+tree index, lock manager,
// and transaction manager together into the system catalog and DML
// glue described in spec.md §4.5 (component C8): table/column/index
// metadata, and the atomicity contract that couples a record mutation
// to its index mutations and write-log entry.
package catalog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deltadb/txcore/internal/bptree"
	"github.com/deltadb/txcore/internal/pageio"
	"github.com/deltadb/txcore/internal/recfile"
	"github.com/deltadb/txcore/internal/txlock"
	"github.com/deltadb/txcore/internal/txn"
)

const metaFileName = "db.meta"

// Config configures a Catalog. Chdir mirrors the original
// implementation's habit of chdir-ing into the open database directory;
// it is opt-in here (default false) since every file path this package
// touches is already resolved relative to Dir, and a process-wide chdir
// would race across concurrently open catalogs in tests.
type Config struct {
	Dir      string
	PageSize int
	Chdir    bool

	// InMemory routes every table's record file and index file through
	// pageio.OpenMemFile instead of an on-disk file. db.meta still lands
	// under Dir; table and index contents do not survive Close. Mutually
	// exclusive with DirectIO.
	InMemory bool

	// DirectIO opens every table's record file and index file with
	// pageio.OpenDirectIO (O_DIRECT) instead of the buffered os.File
	// backend. The page size must be a multiple of the platform's
	// O_DIRECT block size. Mutually exclusive with InMemory.
	DirectIO bool

	// FlushInterval, if nonzero, gives every table/index pager a
	// background flush schedule (pageio's robfig/cron wiring) instead of
	// relying solely on the flush that happens at Close.
	FlushInterval time.Duration
}

// tableHandle is one open table: its schema, its record file, and its
// open index trees keyed by column name.
type tableHandle struct {
	fd      int
	meta    TabMeta
	pager   *pageio.Pager
	rf      *recfile.File
	indexes map[string]*bptree.Tree
	idxPgr  map[string]*pageio.Pager
}

// Catalog is an open database: the loaded DbMeta plus every open
// table/index file handle, cached by name (spec.md §4.5).
type Catalog struct {
	mu     sync.Mutex
	dir    string
	meta   *DbMeta
	tables map[string]*tableHandle
	nextFd int

	pageSize      int
	inMemory      bool
	directIO      bool
	flushInterval time.Duration
	lm            *txlock.LockManager
	txnMgr        *txn.Manager
	logger        *log.Logger
}

// Create makes a brand-new database directory and an empty db.meta.
func Create(cfg Config) (*Catalog, error) {
	if cfg.InMemory && cfg.DirectIO {
		return nil, fmt.Errorf("catalog: InMemory and DirectIO are mutually exclusive")
	}
	if dirExists(cfg.Dir) {
		return nil, &DatabaseExistsError{Path: cfg.Dir}
	}
	if err := createDatabaseDir(cfg.Dir); err != nil {
		return nil, err
	}
	if cfg.Chdir {
		if err := chdirInto(cfg.Dir); err != nil {
			return nil, err
		}
	}
	c := newCatalog(cfg)
	c.meta = newDbMeta(filepath.Base(cfg.Dir))
	if err := c.saveMeta(); err != nil {
		return nil, err
	}
	return c, nil
}

// Open loads an existing database directory's db.meta and reopens
// every table and index file it names.
func Open(cfg Config) (*Catalog, error) {
	if cfg.InMemory && cfg.DirectIO {
		return nil, fmt.Errorf("catalog: InMemory and DirectIO are mutually exclusive")
	}
	if !dirExists(cfg.Dir) {
		return nil, &DatabaseNotFoundError{Path: cfg.Dir}
	}
	if cfg.Chdir {
		if err := chdirInto(cfg.Dir); err != nil {
			return nil, err
		}
	}
	c := newCatalog(cfg)
	meta, err := loadMeta(filepath.Join(cfg.Dir, metaFileName))
	if err != nil {
		return nil, err
	}
	c.meta = meta
	for name, tab := range meta.Tables {
		if err := c.openTableFiles(name, tab); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newCatalog(cfg Config) *Catalog {
	ps := cfg.PageSize
	if ps == 0 {
		ps = pageio.DefaultPageSize
	}
	c := &Catalog{
		dir:           cfg.Dir,
		tables:        make(map[string]*tableHandle),
		pageSize:      ps,
		inMemory:      cfg.InMemory,
		directIO:      cfg.DirectIO,
		flushInterval: cfg.FlushInterval,
		lm:            txlock.NewLockManager(),
		logger:        log.New(os.Stderr, "catalog: ", log.LstdFlags),
	}
	c.txnMgr = txn.NewManager(c.lm, c)
	return c
}

func (c *Catalog) recordFilePath(table string) string {
	return filepath.Join(c.dir, table)
}

func (c *Catalog) indexFilePath(table string, colIdx int) string {
	return filepath.Join(c.dir, indexFileName(table, colIdx))
}

func (c *Catalog) saveMeta() error {
	buf, err := yaml.Marshal(c.meta)
	if err != nil {
		return fmt.Errorf("catalog: marshal db.meta: %w", err)
	}
	return os.WriteFile(filepath.Join(c.dir, metaFileName), buf, 0o644)
}

func loadMeta(path string) (*DbMeta, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read db.meta: %w", err)
	}
	var meta DbMeta
	if err := yaml.Unmarshal(buf, &meta); err != nil {
		return nil, fmt.Errorf("catalog: parse db.meta: %w", err)
	}
	if meta.Tables == nil {
		meta.Tables = make(map[string]TabMeta)
	}
	return &meta, nil
}

// Close flushes and closes every open table/index pager and persists
// db.meta.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, th := range c.tables {
		for _, p := range th.idxPgr {
			if err := p.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := th.pager.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.saveMeta(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ListTables returns every table name in the catalog (SPEC_FULL.md §6
// introspection supplement).
func (c *Catalog) ListTables() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.meta.Tables))
	for name := range c.meta.Tables {
		out = append(out, name)
	}
	return out
}

// DescribeTable returns a table's schema.
func (c *Catalog) DescribeTable(name string) (TabMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.meta.Tables[name]
	if !ok {
		return TabMeta{}, &TableNotFoundError{Name: name}
	}
	return t, nil
}
