package txn

import (
	"errors"
	"testing"

	"github.com/deltadb/txcore/internal/recfile"
	"github.com/deltadb/txcore/internal/txlock"
)

// fakeRollback records the calls Abort dispatches to it, in order, so
// tests can assert the newest-to-oldest replay order from spec.md §4.4.
type fakeRollback struct {
	calls []string
	fail  bool
}

func (f *fakeRollback) RollbackInsert(table string, rid recfile.Rid) error {
	f.calls = append(f.calls, "insert:"+table)
	if f.fail {
		return errors.New("boom")
	}
	return nil
}
func (f *fakeRollback) RollbackDelete(table string, pre []byte) error {
	f.calls = append(f.calls, "delete:"+table)
	return nil
}
func (f *fakeRollback) RollbackUpdate(table string, rid recfile.Rid, pre []byte) error {
	f.calls = append(f.calls, "update:"+table)
	return nil
}

func TestManager_BeginAssignsDistinctIDs(t *testing.T) {
	lm := txlock.NewLockManager()
	m := NewManager(lm, &fakeRollback{})
	t1 := m.Begin()
	t2 := m.Begin()
	if t1.ID() == t2.ID() {
		t.Fatal("Begin returned the same id twice")
	}
	if got, ok := m.Lookup(t1.ID()); !ok || got != t1 {
		t.Fatal("Lookup did not return the transaction Begin created")
	}
}

func TestManager_CommitClearsWriteSetAndReleasesLocks(t *testing.T) {
	lm := txlock.NewLockManager()
	m := NewManager(lm, &fakeRollback{})
	tx := m.Begin()
	rid := recfile.Rid{PageNo: 1}
	if err := lm.LockExclusiveOnRecord(tx, 5, rid); err != nil {
		t.Fatalf("lock: %v", err)
	}
	tx.AppendWrite(WriteRecord{Op: OpInsert, TableName: "t", Rid: rid})

	m.Commit(tx)

	if tx.PublicState() != StateCommitted {
		t.Fatalf("state after commit = %v, want Committed", tx.PublicState())
	}
	if len(tx.WriteSet()) != 0 {
		t.Fatal("write set should be empty after commit")
	}
	tx2 := m.Begin()
	if err := lm.LockExclusiveOnRecord(tx2, 5, rid); err != nil {
		t.Fatalf("second txn should acquire X after commit released it: %v", err)
	}
}

func TestManager_AbortReplaysWriteSetNewestFirst(t *testing.T) {
	lm := txlock.NewLockManager()
	rb := &fakeRollback{}
	m := NewManager(lm, rb)
	tx := m.Begin()
	tx.AppendWrite(WriteRecord{Op: OpInsert, TableName: "a"})
	tx.AppendWrite(WriteRecord{Op: OpUpdate, TableName: "b"})
	tx.AppendWrite(WriteRecord{Op: OpDelete, TableName: "c"})

	if err := m.Abort(tx); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	want := []string{"delete:c", "update:b", "insert:a"}
	if len(rb.calls) != len(want) {
		t.Fatalf("rollback calls = %v, want %v", rb.calls, want)
	}
	for i := range want {
		if rb.calls[i] != want[i] {
			t.Fatalf("rollback calls = %v, want %v", rb.calls, want)
		}
	}
	if tx.PublicState() != StateAborted {
		t.Fatalf("state after abort = %v, want Aborted", tx.PublicState())
	}
}

func TestManager_AbortPropagatesRollbackError(t *testing.T) {
	lm := txlock.NewLockManager()
	rb := &fakeRollback{fail: true}
	m := NewManager(lm, rb)
	tx := m.Begin()
	tx.AppendWrite(WriteRecord{Op: OpInsert, TableName: "a"})
	if err := m.Abort(tx); err == nil {
		t.Fatal("expected Abort to propagate the rollback handler's error")
	}
}
