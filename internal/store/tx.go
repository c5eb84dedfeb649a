package store

import "github.com/jmoiron/sqlx"

// sqlTx adapts *sqlx.Tx to the Tx interface. Begin/Commit/Rollback do not
// nest: a second Begin while one is outstanding on the same connection
// blocks behind the store's single-writer mutex rather than composing.
type sqlTx struct {
	tx *sqlx.Tx
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }
