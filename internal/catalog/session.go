package catalog

import (
	"github.com/google/uuid"

	"github.com/deltadb/txcore/internal/txn"
)

// Session is the concrete realization of spec.md §6's
// Context = (lock_manager, log_manager, transaction): a uuid-tagged
// handle bundling a transaction with the catalog it runs DML against.
// The uuid correlates a session's lock waits and log lines across the
// lifetime of one client connection (the client/server loop itself is
// an external collaborator, out of scope here).
type Session struct {
	ID  uuid.UUID
	Txn *txn.Transaction
	cat *Catalog
}

// NewSession begins a transaction and wraps it in a fresh session.
func (c *Catalog) NewSession() *Session {
	return &Session{
		ID:  uuid.New(),
		Txn: c.txnMgr.Begin(),
		cat: c,
	}
}

// Commit commits the session's transaction.
func (s *Session) Commit() {
	s.cat.logger.Printf("session %s: commit txn %d", s.ID, s.Txn.ID())
	s.cat.txnMgr.Commit(s.Txn)
}

// Abort aborts the session's transaction, rolling back its write log.
func (s *Session) Abort() error {
	s.cat.logger.Printf("session %s: abort txn %d", s.ID, s.Txn.ID())
	return s.cat.txnMgr.Abort(s.Txn)
}
