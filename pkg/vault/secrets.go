package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/forest6511/dmvault/pkg/audit"
)

// Secret is one named encrypted value with a tag set. Secrets carry no
// version history: update replaces the value and the tag set in a single
// commit. Value is only populated by ShowSecret.
type Secret struct {
	Name      string
	Value     []byte
	Tags      []string
	UpdatedAt time.Time
}

// normTags canonicalizes a tag list into a sorted duplicate-free set.
func normTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = normName(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func encodeTags(tags []string) (string, error) {
	b, err := json.Marshal(normTags(tags))
	if err != nil {
		return "", fmt.Errorf("vault: failed to encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(s string) []string {
	var tags []string
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil
	}
	return tags
}

// tagsIntersect reports whether the two sets share at least one tag.
// An empty filter matches everything.
func tagsIntersect(tags, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	for _, f := range filter {
		if _, ok := set[normName(f)]; ok {
			return true
		}
	}
	return false
}

// AddSecret stores a new named secret. The value is encrypted through
// the gateway before it touches the metadata store; there is no separate
// blob, so consistency is a single-row transaction.
func (v *Vault) AddSecret(ctx context.Context, name, value string, tags []string) error {
	lock, err := acquireLock(v.lockPath(), lockExclusive)
	if err != nil {
		return err
	}
	defer lock.release()

	if err := v.gate(); err != nil {
		return err
	}

	name = normName(name)
	body, err := v.gw.Encrypt([]byte(value), v.identity.KeyID)
	if err != nil {
		_ = v.audit.Log(audit.OpSecretAdd, name, audit.ResultError, "encrypt failed")
		return fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	tagsJSON, err := encodeTags(tags)
	if err != nil {
		return err
	}

	err = v.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM secrets WHERE name = ?`, name).Scan(&exists); err != nil {
			return fmt.Errorf("vault: failed to check secret: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %q", ErrSecretExists, name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO secrets (name, body, tags, updated_at) VALUES (?, ?, ?, ?)`,
			name, body, tagsJSON, time.Now().UTC()); err != nil {
			return fmt.Errorf("vault: failed to insert secret: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	_ = v.audit.Log(audit.OpSecretAdd, name, audit.ResultSuccess, "")
	return nil
}

// UpdateSecret replaces an existing secret's value and tag set in one
// commit. Tags are re-set, not merged.
func (v *Vault) UpdateSecret(ctx context.Context, name, value string, tags []string) error {
	lock, err := acquireLock(v.lockPath(), lockExclusive)
	if err != nil {
		return err
	}
	defer lock.release()

	if err := v.gate(); err != nil {
		return err
	}

	name = normName(name)
	body, err := v.gw.Encrypt([]byte(value), v.identity.KeyID)
	if err != nil {
		_ = v.audit.Log(audit.OpSecretUpdate, name, audit.ResultError, "encrypt failed")
		return fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	tagsJSON, err := encodeTags(tags)
	if err != nil {
		return err
	}

	err = v.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE secrets SET body = ?, tags = ?, updated_at = ? WHERE name = ?`,
			body, tagsJSON, time.Now().UTC(), name)
		if err != nil {
			return fmt.Errorf("vault: failed to update secret: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("vault: failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %q", ErrSecretNotFound, name)
		}
		return nil
	})
	if err != nil {
		return err
	}

	_ = v.audit.Log(audit.OpSecretUpdate, name, audit.ResultSuccess, "")
	return nil
}

// RemoveSecret deletes a secret by name.
func (v *Vault) RemoveSecret(ctx context.Context, name string) error {
	lock, err := acquireLock(v.lockPath(), lockExclusive)
	if err != nil {
		return err
	}
	defer lock.release()

	if err := v.gate(); err != nil {
		return err
	}

	name = normName(name)
	err = v.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name)
		if err != nil {
			return fmt.Errorf("vault: failed to delete secret: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("vault: failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %q", ErrSecretNotFound, name)
		}
		return nil
	})
	if err != nil {
		return err
	}

	_ = v.audit.Log(audit.OpSecretRemove, name, audit.ResultSuccess, "")
	return nil
}

// ListSecrets returns secrets whose tag set intersects the filter,
// without values. An empty filter returns every secret, ordered by name.
func (v *Vault) ListSecrets(ctx context.Context, filterTags []string) ([]*Secret, error) {
	lock, err := acquireLock(v.lockPath(), lockShared)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	rows, err := v.db.QueryContext(ctx,
		`SELECT name, tags, updated_at FROM secrets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to query secrets: %w", err)
	}
	defer rows.Close()

	var out []*Secret
	for rows.Next() {
		var s Secret
		var tagsJSON string
		if err := rows.Scan(&s.Name, &tagsJSON, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("vault: failed to scan secret row: %w", err)
		}
		s.Tags = decodeTags(tagsJSON)
		if tagsIntersect(s.Tags, filterTags) {
			out = append(out, &s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: error iterating secret rows: %w", err)
	}
	return out, nil
}

// ShowSecret decrypts and returns exactly one secret. The rest of the
// store is never decrypted.
func (v *Vault) ShowSecret(ctx context.Context, name string) (*Secret, error) {
	lock, err := acquireLock(v.lockPath(), lockShared)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	name = normName(name)
	var body []byte
	var tagsJSON string
	var updatedAt time.Time
	err = v.db.QueryRowContext(ctx,
		`SELECT body, tags, updated_at FROM secrets WHERE name = ?`, name).
		Scan(&body, &tagsJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrSecretNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read secret: %w", err)
	}

	value, err := v.gw.Decrypt(body, v.identity.KeyID)
	if err != nil {
		_ = v.audit.Log(audit.OpSecretShow, name, audit.ResultError, "decrypt failed")
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	_ = v.audit.Log(audit.OpSecretShow, name, audit.ResultSuccess, "")
	return &Secret{
		Name:      name,
		Value:     value,
		Tags:      decodeTags(tagsJSON),
		UpdatedAt: updatedAt,
	}, nil
}
