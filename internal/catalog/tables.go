package catalog

import (
	"fmt"
	"os"

	"github.com/deltadb/txcore/internal/bptree"
	"github.com/deltadb/txcore/internal/pageio"
	"github.com/deltadb/txcore/internal/recfile"
)

// pagerConfig builds the PagerConfig for a table or index file at path,
// routing through the in-memory or O_DIRECT disk backend and/or a
// background-flush schedule when the catalog was opened with those
// options set.
func (c *Catalog) pagerConfig(path string) (pageio.PagerConfig, error) {
	cfg := pageio.PagerConfig{Path: path, PageSize: c.pageSize, FlushInterval: c.flushInterval}
	switch {
	case c.inMemory:
		cfg.Path = ""
		cfg.Disk = pageio.OpenMemFile()
		cfg.NewDisk = true
	case c.directIO:
		// Stat before OpenDirectIO touches the filesystem: once it
		// returns, the file exists either way and newness can no
		// longer be inferred from Path alone.
		_, statErr := os.Stat(path)
		disk, err := pageio.OpenDirectIO(path)
		if err != nil {
			return pageio.PagerConfig{}, fmt.Errorf("catalog: open direct-io file %s: %w", path, err)
		}
		cfg.Disk = disk
		cfg.NewDisk = statErr != nil
	}
	return cfg, nil
}

func colTypeToKeySpec(c ColMeta) bptree.KeySpec {
	switch c.Type {
	case TypeInt:
		return bptree.KeySpec{Type: bptree.ColInt32, Len: 4}
	case TypeBigInt:
		return bptree.KeySpec{Type: bptree.ColInt64, Len: 8}
	case TypeFloat:
		return bptree.KeySpec{Type: bptree.ColFloat64, Len: 8}
	case TypeChar:
		return bptree.KeySpec{Type: bptree.ColChar, Len: c.Len}
	default:
		return bptree.KeySpec{Type: bptree.ColChar, Len: c.Len}
	}
}

// CreateTable defines a new table with the given columns (some of
// which may be marked Indexed) and opens its record file and every
// indexed column's B+tree file.
func (c *Catalog) CreateTable(name string, cols []ColMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.meta.Tables[name]; exists {
		return &TableExistsError{Name: name}
	}

	recordSize := 0
	for i := range cols {
		cols[i].Offset = recordSize
		recordSize += cols[i].Len
	}
	tab := TabMeta{Name: name, Cols: cols, RecordSize: recordSize}

	pcfg, err := c.pagerConfig(c.recordFilePath(name))
	if err != nil {
		return err
	}
	pager, err := pageio.OpenPager(pcfg)
	if err != nil {
		return fmt.Errorf("catalog: open record file for %s: %w", name, err)
	}
	rf, err := recfile.Create(pager, recordSize)
	if err != nil {
		return fmt.Errorf("catalog: init record file for %s: %w", name, err)
	}

	th := &tableHandle{
		fd:      c.nextFd,
		meta:    tab,
		pager:   pager,
		rf:      rf,
		indexes: make(map[string]*bptree.Tree),
		idxPgr:  make(map[string]*pageio.Pager),
	}
	c.nextFd++

	for i, col := range cols {
		if !col.Indexed {
			continue
		}
		if err := c.createIndexLocked(th, i, col); err != nil {
			return err
		}
	}

	c.tables[name] = th
	c.meta.Tables[name] = tab
	return c.saveMeta()
}

func (c *Catalog) createIndexLocked(th *tableHandle, colIdx int, col ColMeta) error {
	pcfg, err := c.pagerConfig(c.indexFilePath(th.meta.Name, colIdx))
	if err != nil {
		return err
	}
	idxPager, err := pageio.OpenPager(pcfg)
	if err != nil {
		return fmt.Errorf("catalog: open index file for %s.%s: %w", th.meta.Name, col.Name, err)
	}
	tree, err := bptree.Create(idxPager, colTypeToKeySpec(col))
	if err != nil {
		return fmt.Errorf("catalog: init index for %s.%s: %w", th.meta.Name, col.Name, err)
	}
	th.indexes[col.Name] = tree
	th.idxPgr[col.Name] = idxPager
	return nil
}

// openTableFiles reopens a previously-created table's record file and
// every indexed column's index file, used by Open.
func (c *Catalog) openTableFiles(name string, tab TabMeta) error {
	pcfg, err := c.pagerConfig(c.recordFilePath(name))
	if err != nil {
		return err
	}
	pager, err := pageio.OpenPager(pcfg)
	if err != nil {
		return fmt.Errorf("catalog: reopen record file for %s: %w", name, err)
	}
	rf, err := recfile.Open(pager, tab.RecordSize)
	if err != nil {
		return fmt.Errorf("catalog: reload record file for %s: %w", name, err)
	}
	th := &tableHandle{
		fd:      c.nextFd,
		meta:    tab,
		pager:   pager,
		rf:      rf,
		indexes: make(map[string]*bptree.Tree),
		idxPgr:  make(map[string]*pageio.Pager),
	}
	c.nextFd++

	for i, col := range tab.Cols {
		if !col.Indexed {
			continue
		}
		idxPcfg, err := c.pagerConfig(c.indexFilePath(name, i))
		if err != nil {
			return err
		}
		idxPager, err := pageio.OpenPager(idxPcfg)
		if err != nil {
			return fmt.Errorf("catalog: reopen index for %s.%s: %w", name, col.Name, err)
		}
		tree, err := bptree.Open(idxPager, colTypeToKeySpec(col))
		if err != nil {
			return fmt.Errorf("catalog: reload index for %s.%s: %w", name, col.Name, err)
		}
		th.indexes[col.Name] = tree
		th.idxPgr[col.Name] = idxPager
	}
	c.tables[name] = th
	return nil
}

func (c *Catalog) tableHandle(name string) (*tableHandle, error) {
	th, ok := c.tables[name]
	if !ok {
		return nil, &TableNotFoundError{Name: name}
	}
	return th, nil
}

// keyBytes extracts the raw key bytes for col from a full row buffer.
func keyBytes(col ColMeta, row []byte) []byte {
	return row[col.Offset : col.Offset+col.Len]
}
