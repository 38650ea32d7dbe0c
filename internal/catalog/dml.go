package catalog

import (
	"fmt"

	"github.com/deltadb/txcore/internal/recfile"
	"github.com/deltadb/txcore/internal/txn"
)

// InsertRow implements spec.md §4.5's INSERT atomicity contract:
// acquire table IX and per-record X (after the Rid is known), insert
// the record, insert an index entry for each indexed column, and
// append a WriteRecord to the session's write log.
func (c *Catalog) InsertRow(s *Session, table string, row []byte) (recfile.Rid, error) {
	c.mu.Lock()
	th, err := c.tableHandle(table)
	c.mu.Unlock()
	if err != nil {
		return recfile.Rid{}, err
	}
	if len(row) != th.meta.RecordSize {
		return recfile.Rid{}, &InvalidValueCountError{Table: table, Expected: th.meta.RecordSize, Got: len(row)}
	}

	if err := c.lm.LockIXOnTable(s.Txn, th.fd); err != nil {
		return recfile.Rid{}, err
	}
	rid, err := th.rf.InsertRecord(row)
	if err != nil {
		return recfile.Rid{}, fmt.Errorf("catalog: insert into %s: %w", table, err)
	}
	if err := c.lm.LockExclusiveOnRecord(s.Txn, th.fd, rid); err != nil {
		return recfile.Rid{}, err
	}

	for _, col := range th.meta.IndexedCols() {
		tree := th.indexes[col.Name]
		if ok, err := tree.InsertEntry(keyBytes(col, row), rid); err != nil {
			return recfile.Rid{}, fmt.Errorf("catalog: index %s.%s insert: %w", table, col.Name, err)
		} else if !ok {
			return recfile.Rid{}, &IndexEntryDuplicateError{Table: table, Col: col.Name}
		}
	}

	s.Txn.AppendWrite(txn.WriteRecord{Op: txn.OpInsert, TableName: table, Rid: rid})
	return rid, nil
}

// UpdateRow implements spec.md §4.5's UPDATE atomicity contract.
func (c *Catalog) UpdateRow(s *Session, table string, rid recfile.Rid, newRow []byte) error {
	c.mu.Lock()
	th, err := c.tableHandle(table)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if len(newRow) != th.meta.RecordSize {
		return &InvalidValueCountError{Table: table, Expected: th.meta.RecordSize, Got: len(newRow)}
	}

	if err := c.lm.LockIXOnTable(s.Txn, th.fd); err != nil {
		return err
	}
	if err := c.lm.LockExclusiveOnRecord(s.Txn, th.fd, rid); err != nil {
		return err
	}

	preImage, err := th.rf.GetRecord(rid)
	if err != nil {
		return fmt.Errorf("catalog: update %s/%v: %w", table, rid, err)
	}

	for _, col := range th.meta.IndexedCols() {
		oldKey := keyBytes(col, preImage)
		newKey := keyBytes(col, newRow)
		if string(oldKey) == string(newKey) {
			continue
		}
		tree := th.indexes[col.Name]
		if ok, err := tree.DeleteEntry(oldKey); err != nil {
			return fmt.Errorf("catalog: index %s.%s delete old key: %w", table, col.Name, err)
		} else if !ok {
			return &IndexNotFoundError{Table: table, Col: col.Name}
		}
	}

	if err := th.rf.UpdateRecord(rid, newRow); err != nil {
		return fmt.Errorf("catalog: update %s/%v: %w", table, rid, err)
	}

	for _, col := range th.meta.IndexedCols() {
		oldKey := keyBytes(col, preImage)
		newKey := keyBytes(col, newRow)
		if string(oldKey) == string(newKey) {
			continue
		}
		tree := th.indexes[col.Name]
		if ok, err := tree.InsertEntry(newKey, rid); err != nil {
			return fmt.Errorf("catalog: index %s.%s insert new key: %w", table, col.Name, err)
		} else if !ok {
			return &IndexEntryDuplicateError{Table: table, Col: col.Name}
		}
	}

	s.Txn.AppendWrite(txn.WriteRecord{Op: txn.OpUpdate, TableName: table, Rid: rid, PreImage: preImage})
	return nil
}

// DeleteRow implements spec.md §4.5's DELETE atomicity contract.
func (c *Catalog) DeleteRow(s *Session, table string, rid recfile.Rid) error {
	c.mu.Lock()
	th, err := c.tableHandle(table)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.lm.LockIXOnTable(s.Txn, th.fd); err != nil {
		return err
	}
	if err := c.lm.LockExclusiveOnRecord(s.Txn, th.fd, rid); err != nil {
		return err
	}

	preImage, err := th.rf.GetRecord(rid)
	if err != nil {
		return fmt.Errorf("catalog: delete %s/%v: %w", table, rid, err)
	}

	for _, col := range th.meta.IndexedCols() {
		tree := th.indexes[col.Name]
		if _, err := tree.DeleteEntry(keyBytes(col, preImage)); err != nil {
			return fmt.Errorf("catalog: index %s.%s delete: %w", table, col.Name, err)
		}
	}
	if err := th.rf.DeleteRecord(rid); err != nil {
		return fmt.Errorf("catalog: delete %s/%v: %w", table, rid, err)
	}

	s.Txn.AppendWrite(txn.WriteRecord{Op: txn.OpDelete, TableName: table, Rid: rid, PreImage: preImage})
	return nil
}

// GetRow acquires S on rid and returns a copy of its bytes.
func (c *Catalog) GetRow(s *Session, table string, rid recfile.Rid) ([]byte, error) {
	c.mu.Lock()
	th, err := c.tableHandle(table)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := c.lm.LockISOnTable(s.Txn, th.fd); err != nil {
		return nil, err
	}
	if err := c.lm.LockSharedOnRecord(s.Txn, th.fd, rid); err != nil {
		return nil, err
	}
	return th.rf.GetRecord(rid)
}

// ForEach runs fn over every live row of table in (page_no, slot_no)
// order, stopping early if fn returns false.
func (c *Catalog) ForEach(table string, fn func(recfile.Rid, []byte) bool) error {
	c.mu.Lock()
	th, err := c.tableHandle(table)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return th.rf.ForEach(fn)
}

// RangeScan returns every rid in the half-open key range [lo, hi) from
// the index on col, using the B+tree's leaf-chain iterator.
func (c *Catalog) RangeScan(table, col string, lo, hi []byte) ([]recfile.Rid, error) {
	c.mu.Lock()
	th, err := c.tableHandle(table)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	tree, ok := th.indexes[col]
	if !ok {
		return nil, &IndexNotFoundError{Table: table, Col: col}
	}
	start, err := tree.LowerBound(lo)
	if err != nil {
		return nil, err
	}
	end, err := tree.LowerBound(hi)
	if err != nil {
		return nil, err
	}
	var out []recfile.Rid
	it := tree.NewIterator(start, end)
	for {
		_, rid, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, rid)
	}
	return out, nil
}

// Lookup resolves rid for key via table's index on col.
func (c *Catalog) Lookup(table, col string, key []byte) (recfile.Rid, bool, error) {
	c.mu.Lock()
	th, err := c.tableHandle(table)
	c.mu.Unlock()
	if err != nil {
		return recfile.Rid{}, false, err
	}
	tree, ok := th.indexes[col]
	if !ok {
		return recfile.Rid{}, false, &IndexNotFoundError{Table: table, Col: col}
	}
	return tree.GetValue(key)
}

// IndexEntryDuplicateError is raised when insert_entry rejects a
// duplicate key (spec.md §6: "false iff duplicate").
type IndexEntryDuplicateError struct {
	Table string
	Col   string
}

func (e *IndexEntryDuplicateError) Error() string {
	return fmt.Sprintf("catalog: duplicate key rejected by index %s.%s", e.Table, e.Col)
}

// ── txn.RollbackHandler ─────────────────────────────────────────────

// RollbackInsert undoes an INSERT_TUPLE write record: delete every
// index entry keyed by the current record, then delete the record
// itself (spec.md §4.4).
func (c *Catalog) RollbackInsert(table string, rid recfile.Rid) error {
	c.mu.Lock()
	th, err := c.tableHandle(table)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	row, err := th.rf.GetRecord(rid)
	if err != nil {
		return fmt.Errorf("catalog: rollback insert %s/%v: %w", table, rid, err)
	}
	for _, col := range th.meta.IndexedCols() {
		if _, err := th.indexes[col.Name].DeleteEntry(keyBytes(col, row)); err != nil {
			return fmt.Errorf("catalog: rollback insert index %s.%s: %w", table, col.Name, err)
		}
	}
	return th.rf.DeleteRecord(rid)
}

// RollbackDelete undoes a DELETE_TUPLE write record: re-insert the
// saved bytes as a new record through InsertRecord (a fresh Rid, not
// necessarily the deleted one) and point every index entry at that new
// Rid.
func (c *Catalog) RollbackDelete(table string, preImage []byte) error {
	c.mu.Lock()
	th, err := c.tableHandle(table)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	rid, err := th.rf.InsertRecord(preImage)
	if err != nil {
		return fmt.Errorf("catalog: rollback delete %s: %w", table, err)
	}
	for _, col := range th.meta.IndexedCols() {
		if ok, err := th.indexes[col.Name].InsertEntry(keyBytes(col, preImage), rid); err != nil {
			return fmt.Errorf("catalog: rollback delete index %s.%s: %w", table, col.Name, err)
		} else if !ok {
			return fmt.Errorf("catalog: rollback delete index %s.%s: key now duplicate", table, col.Name)
		}
	}
	return nil
}

// RollbackUpdate undoes an UPDATE_TUPLE write record: for each indexed
// column, delete the current key entry and insert the pre-image key
// entry at the same Rid, then overwrite the record bytes with the
// pre-image (spec.md §4.4).
func (c *Catalog) RollbackUpdate(table string, rid recfile.Rid, preImage []byte) error {
	c.mu.Lock()
	th, err := c.tableHandle(table)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	current, err := th.rf.GetRecord(rid)
	if err != nil {
		return fmt.Errorf("catalog: rollback update %s/%v: %w", table, rid, err)
	}
	for _, col := range th.meta.IndexedCols() {
		curKey := keyBytes(col, current)
		preKey := keyBytes(col, preImage)
		if string(curKey) == string(preKey) {
			continue
		}
		tree := th.indexes[col.Name]
		if _, err := tree.DeleteEntry(curKey); err != nil {
			return fmt.Errorf("catalog: rollback update index %s.%s delete: %w", table, col.Name, err)
		}
		if ok, err := tree.InsertEntry(preKey, rid); err != nil {
			return fmt.Errorf("catalog: rollback update index %s.%s insert: %w", table, col.Name, err)
		} else if !ok {
			return fmt.Errorf("catalog: rollback update index %s.%s: pre-image key now duplicate", table, col.Name)
		}
	}
	return th.rf.UpdateRecord(rid, preImage)
}
