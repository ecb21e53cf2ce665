package vault

import (
	"context"
	"database/sql"
	"fmt"
)

// withTx runs fn inside a metadata-store transaction, committing on
// success and rolling back on error or panic. Every multi-row mutation
// in the engine goes through here.
func (v *Vault) withTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vault: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("vault: failed to commit transaction: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}
