package vault

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/dmvault/pkg/keyring"
)

// newTestVault initializes a fresh vault in a temp directory with a
// fresh keyring key and returns both, plus the key's fingerprint.
func newTestVault(t *testing.T) (*Vault, *keyring.Keyring, string) {
	t.Helper()
	ring := keyring.Open(t.TempDir())
	k, err := ring.Generate("test", nil)
	require.NoError(t, err)

	v := New(t.TempDir(), ring)
	require.NoError(t, v.Init(context.Background(), k.Fingerprint))
	t.Cleanup(func() { v.Close() })
	return v, ring, k.Fingerprint
}

func TestInitBindsFullFingerprint(t *testing.T) {
	ring := keyring.Open(t.TempDir())
	k, err := ring.Generate("test", nil)
	require.NoError(t, err)

	v := New(t.TempDir(), ring)
	// Init with an abbreviated identifier; the stored binding must be
	// the full fingerprint.
	require.NoError(t, v.Init(context.Background(), k.Fingerprint[:12]))
	defer v.Close()

	require.NotNil(t, v.Identity())
	assert.Equal(t, k.Fingerprint, v.Identity().KeyID)
}

func TestOpenExistingVault(t *testing.T) {
	v, ring, fingerprint := newTestVault(t)
	root := v.Root()
	require.NoError(t, v.Close())

	reopened := New(root, ring)
	require.NoError(t, reopened.Open(context.Background()))
	defer reopened.Close()

	assert.Equal(t, fingerprint, reopened.Identity().KeyID)
}

func TestInitTwiceFails(t *testing.T) {
	v, ring, fingerprint := newTestVault(t)

	again := New(v.Root(), ring)
	err := again.Init(context.Background(), fingerprint)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitRejectsUnknownKey(t *testing.T) {
	ring := keyring.Open(t.TempDir())
	v := New(t.TempDir(), ring)

	err := v.Init(context.Background(), "ffffffffffff0000")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.False(t, v.exists(), "no vault state may survive a rejected init")
}

func TestInitRejectsRevokedKey(t *testing.T) {
	ring := keyring.Open(t.TempDir())
	k, err := ring.Generate("test", nil)
	require.NoError(t, err)
	k.Revoked = true
	require.NoError(t, ring.Save(k))

	v := New(t.TempDir(), ring)
	err = v.Init(context.Background(), k.Fingerprint)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestInitRecoversFromInterruptedInit(t *testing.T) {
	ring := keyring.Open(t.TempDir())
	k, err := ring.Generate("test", nil)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("schema without identity", func(t *testing.T) {
		// A crash between schema creation and the identity commit
		// leaves a store file with empty tables behind.
		v := New(t.TempDir(), ring)
		db, err := openDB(v.dbPath())
		require.NoError(t, err)
		require.NoError(t, createSchema(ctx, db))
		require.NoError(t, db.Close())

		require.NoError(t, v.Init(ctx, k.Fingerprint))
		defer v.Close()
		assert.Equal(t, k.Fingerprint, v.Identity().KeyID)
	})

	t.Run("empty store file", func(t *testing.T) {
		v := New(t.TempDir(), ring)
		require.NoError(t, os.WriteFile(v.dbPath(), nil, FileMode))

		require.NoError(t, v.Init(ctx, k.Fingerprint))
		defer v.Close()
		assert.Equal(t, k.Fingerprint, v.Identity().KeyID)
	})
}

func TestOpenRejectsInterruptedInit(t *testing.T) {
	ring := keyring.Open(t.TempDir())
	ctx := context.Background()

	v := New(t.TempDir(), ring)
	db, err := openDB(v.dbPath())
	require.NoError(t, err)
	require.NoError(t, createSchema(ctx, db))
	require.NoError(t, db.Close())

	// No committed identity means no vault, not a storage error.
	err = v.Open(ctx)
	assert.ErrorIs(t, err, ErrVaultNotFound)
}

func TestInitStorePermissions(t *testing.T) {
	v, _, _ := newTestVault(t)

	info, err := os.Stat(v.dbPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FileMode), info.Mode().Perm())
}

func TestOpenMissingVault(t *testing.T) {
	ring := keyring.Open(t.TempDir())
	v := New(t.TempDir(), ring)

	err := v.Open(context.Background())
	assert.ErrorIs(t, err, ErrVaultNotFound)
}

func TestGateBlocksMutationWhenKeyRevoked(t *testing.T) {
	v, ring, fingerprint := newTestVault(t)
	ctx := context.Background()

	k, status, err := ring.Resolve(fingerprint)
	require.NoError(t, err)
	require.Equal(t, keyring.StatusValid, status)
	k.Revoked = true
	require.NoError(t, ring.Save(k))

	err = v.AddSecret(ctx, "api-token", "hunter2", nil)
	assert.ErrorIs(t, err, ErrInvalidKey)

	// The gate can be disabled by policy.
	v.ValidateBeforeMutate = false
	assert.NoError(t, v.AddSecret(ctx, "api-token", "hunter2", nil))
}

func TestConcurrentWriterRejected(t *testing.T) {
	v, _, _ := newTestVault(t)

	lock, err := acquireLock(v.lockPath(), lockExclusive)
	require.NoError(t, err)
	defer lock.release()

	err = v.AddSecret(context.Background(), "blocked", "value", nil)
	assert.ErrorIs(t, err, ErrVaultBusy)
}

func TestSharedLocksOverlap(t *testing.T) {
	v, _, _ := newTestVault(t)

	lock, err := acquireLock(v.lockPath(), lockShared)
	require.NoError(t, err)
	defer lock.release()

	// A read-only operation takes a shared lock and must not conflict.
	_, err = v.ListSecrets(context.Background(), nil)
	assert.NoError(t, err)
}
