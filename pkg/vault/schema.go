package vault

import (
	"context"
	"database/sql"
	"fmt"
)

// createSchema defines the metadata tables. The row shapes here are the
// vault's compatibility surface; changing them breaks vaults created by
// earlier builds.
func createSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vault_identity (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			key_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			name TEXT PRIMARY KEY,
			current_version INTEGER NOT NULL,
			original_path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS file_versions (
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			blob_id TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (name, version)
		)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name TEXT PRIMARY KEY,
			body BLOB NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("vault: failed to create schema: %w", err)
		}
	}
	return nil
}
