// Package txn implements the transaction manager (spec component C7):
// Begin/Commit/Abort, the write-log that Abort rolls back through, and
// lock release at the single termination point strict 2PL prescribes.
//
// txn never imports the catalog package. Abort drives rollback through
// the small RollbackHandler interface so the catalog's DML glue can
// supply the actual record-file/index mutations without introducing an
// import cycle (catalog imports txn, not the other way around).
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/deltadb/txcore/internal/recfile"
	"github.com/deltadb/txcore/internal/txlock"
)

// WriteOp identifies the kind of mutation a WriteRecord logs.
type WriteOp int

const (
	OpInsert WriteOp = iota
	OpDelete
	OpUpdate
)

// WriteRecord is one entry in a transaction's write log (spec.md §3):
// enough to invert the operation during Abort. PreImage is unused for
// OpInsert.
type WriteRecord struct {
	Op        WriteOp
	TableName string
	Rid       recfile.Rid
	PreImage  []byte
}

// State is a transaction's position in the strict-2PL lifecycle.
type State int

const (
	StateDefault State = iota
	StateGrowing
	StateShrinking
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "DEFAULT"
	case StateGrowing:
		return "GROWING"
	case StateShrinking:
		return "SHRINKING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "?"
	}
}

// Transaction is {txn_id, state, lock_set, write_set} from spec.md §3.
// It implements txlock.TxnHandle so the lock manager can drive its
// state transitions directly.
type Transaction struct {
	mu       sync.Mutex
	id       uint64
	state    txlock.TxnState
	lockSet  map[txlock.LockDataId]struct{}
	writeSet []WriteRecord
}

func (t *Transaction) ID() uint64 { return t.id }

func (t *Transaction) State() txlock.TxnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) SetState(s txlock.TxnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// PublicState returns the transaction's state in this package's own
// State enum, for callers outside the lock manager.
func (t *Transaction) PublicState() State {
	return State(t.State())
}

// AddLock records id in the transaction's lock_set. The lock manager
// calls this after a successful grant.
func (t *Transaction) AddLock(id txlock.LockDataId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lockSet[id] = struct{}{}
}

// LockSet returns a snapshot of held LockDataIds.
func (t *Transaction) LockSet() []txlock.LockDataId {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]txlock.LockDataId, 0, len(t.lockSet))
	for id := range t.lockSet {
		out = append(out, id)
	}
	return out
}

// AppendWrite appends a WriteRecord to the write_set.
func (t *Transaction) AppendWrite(w WriteRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeSet = append(t.writeSet, w)
}

// WriteSet returns a copy of the write log in order.
func (t *Transaction) WriteSet() []WriteRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]WriteRecord, len(t.writeSet))
	copy(out, t.writeSet)
	return out
}

// RollbackHandler supplies the inverse operations Abort dispatches to,
// per spec.md §4.4. Implemented by the catalog's DML glue.
type RollbackHandler interface {
	RollbackInsert(tableName string, rid recfile.Rid) error
	RollbackDelete(tableName string, preImage []byte) error
	RollbackUpdate(tableName string, rid recfile.Rid, preImage []byte) error
}

// Manager is the transaction manager: the process-wide txn_map plus
// the lock manager every Commit/Abort releases locks through.
type Manager struct {
	mu       sync.Mutex
	txns     map[uint64]*Transaction
	nextID   uint64
	lm       *txlock.LockManager
	rollback RollbackHandler
}

// NewManager returns a Manager bound to lm for lock release and rb for
// Abort's rollback dispatch.
func NewManager(lm *txlock.LockManager, rb RollbackHandler) *Manager {
	return &Manager{txns: make(map[uint64]*Transaction), lm: lm, rollback: rb}
}

// Begin allocates a fresh transaction, registers it in the global
// txn_map, and returns it in state DEFAULT.
func (m *Manager) Begin() *Transaction {
	id := atomic.AddUint64(&m.nextID, 1)
	t := &Transaction{id: id, state: txlock.TxnDefault, lockSet: make(map[txlock.LockDataId]struct{})}
	m.mu.Lock()
	m.txns[id] = t
	m.mu.Unlock()
	return t
}

// Lookup returns the transaction registered under id, if any.
func (m *Manager) Lookup(id uint64) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	return t, ok
}

func (m *Manager) unlockAll(t *Transaction) {
	for _, id := range t.LockSet() {
		m.lm.Unlock(t, id)
	}
}

// Commit clears the write set (nothing is written back here; durability
// is out of scope) and releases every held lock.
func (m *Manager) Commit(t *Transaction) {
	t.mu.Lock()
	t.writeSet = nil
	t.mu.Unlock()
	m.unlockAll(t)
	t.SetState(txlock.TxnCommitted)
}

// Abort replays the write log newest-to-oldest, inverting each
// operation through the RollbackHandler, then releases every held
// lock (spec.md §4.4).
func (m *Manager) Abort(t *Transaction) error {
	writes := t.WriteSet()
	for i := len(writes) - 1; i >= 0; i-- {
		w := writes[i]
		var err error
		switch w.Op {
		case OpInsert:
			err = m.rollback.RollbackInsert(w.TableName, w.Rid)
		case OpDelete:
			err = m.rollback.RollbackDelete(w.TableName, w.PreImage)
		case OpUpdate:
			err = m.rollback.RollbackUpdate(w.TableName, w.Rid, w.PreImage)
		default:
			err = fmt.Errorf("txn: unknown write op %d", w.Op)
		}
		if err != nil {
			return fmt.Errorf("txn: abort rollback of %v on %s/%v: %w", w.Op, w.TableName, w.Rid, err)
		}
	}
	m.unlockAll(t)
	t.SetState(txlock.TxnAborted)
	return nil
}
