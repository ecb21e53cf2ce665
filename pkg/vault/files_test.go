package vault

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSource creates a plaintext source file outside the vault root.
func writeSource(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0600))
	return path
}

func TestAddFile(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	src := writeSource(t, "notes.txt", []byte("the plaintext"))
	obj, err := v.AddFile(ctx, src)
	require.NoError(t, err)

	assert.Equal(t, "notes.txt", obj.Name)
	assert.Equal(t, int64(1), obj.CurrentVersion)
	assert.Equal(t, src, obj.OriginalPath)

	// Exactly one ciphertext blob, and it is not the plaintext.
	entries, err := os.ReadDir(v.objectsDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	blob, err := os.ReadFile(filepath.Join(v.objectsDir(), entries[0].Name()))
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "the plaintext")
}

func TestAddFileDuplicate(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	src := writeSource(t, "dup.txt", []byte("one"))
	_, err := v.AddFile(ctx, src)
	require.NoError(t, err)

	// Same tracked name from a different directory still collides.
	other := writeSource(t, "dup.txt", []byte("two"))
	_, err = v.AddFile(ctx, other)
	assert.ErrorIs(t, err, ErrFileExists)
}

func TestAddFileMissingSource(t *testing.T) {
	v, _, _ := newTestVault(t)

	_, err := v.AddFile(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestExportRoundTrip(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	content := []byte("round trip payload \x00\x01\x02")
	src := writeSource(t, "data.bin", content)
	_, err := v.AddFile(ctx, src)
	require.NoError(t, err)

	// Remove the source so export recreates it at the original path.
	require.NoError(t, os.Remove(src))

	dest, err := v.ExportFile(ctx, "data.bin", ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, src, dest)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FileMode), info.Mode().Perm())
}

func TestExportDestinationExists(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	src := writeSource(t, "keep.txt", []byte("vaulted"))
	_, err := v.AddFile(ctx, src)
	require.NoError(t, err)

	// Source still on disk: refuse without consent.
	_, err = v.ExportFile(ctx, "keep.txt", ExportOptions{})
	assert.ErrorIs(t, err, ErrDestinationExists)

	// A declining confirmation is the same refusal.
	_, err = v.ExportFile(ctx, "keep.txt", ExportOptions{
		Confirm: func(string) bool { return false },
	})
	assert.ErrorIs(t, err, ErrDestinationExists)

	// AssumeYes overwrites.
	_, err = v.ExportFile(ctx, "keep.txt", ExportOptions{AssumeYes: true})
	assert.NoError(t, err)
}

func TestUpdateFileVersions(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	src := writeSource(t, "config.yaml", []byte("v1 content"))
	obj, err := v.AddFile(ctx, src)
	require.NoError(t, err)
	require.Equal(t, int64(1), obj.CurrentVersion)

	require.NoError(t, os.WriteFile(src, []byte("v2 content"), 0600))
	obj, err = v.UpdateFile(ctx, "config.yaml", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), obj.CurrentVersion)

	versions, err := v.FileVersions(ctx, "config.yaml")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, int64(1), versions[0].Version)
	assert.Equal(t, int64(2), versions[1].Version)
	assert.NotEqual(t, versions[0].BlobID, versions[1].BlobID)
	assert.NotEqual(t, versions[0].ContentHash, versions[1].ContentHash)

	// Historical versions stay exportable byte for byte.
	dest, err := v.ExportFile(ctx, "config.yaml", ExportOptions{Version: 1, AssumeYes: true})
	require.NoError(t, err)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1 content"), got)

	dest, err = v.ExportFile(ctx, "config.yaml", ExportOptions{AssumeYes: true})
	require.NoError(t, err)
	got, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2 content"), got)
}

func TestUpdateFileFrom(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	src := writeSource(t, "app.env", []byte("original"))
	_, err := v.AddFile(ctx, src)
	require.NoError(t, err)

	alt := writeSource(t, "staging.env", []byte("replacement"))
	obj, err := v.UpdateFile(ctx, "app.env", alt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), obj.CurrentVersion)

	// The recorded original path is unchanged; --from is a one-shot
	// source override.
	files, err := v.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, src, files[0].OriginalPath)
}

func TestUpdateFileNotTracked(t *testing.T) {
	v, _, _ := newTestVault(t)

	_, err := v.UpdateFile(context.Background(), "ghost.txt", "")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestExportUnknownVersion(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	src := writeSource(t, "one.txt", []byte("x"))
	_, err := v.AddFile(ctx, src)
	require.NoError(t, err)

	_, err = v.ExportFile(ctx, "one.txt", ExportOptions{Version: 9})
	assert.ErrorIs(t, err, ErrVersionUnknown)
}

func TestRemoveFileDeletesAllVersions(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	src := writeSource(t, "gone.txt", []byte("a"))
	_, err := v.AddFile(ctx, src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(src, []byte("b"), 0600))
	_, err = v.UpdateFile(ctx, "gone.txt", "")
	require.NoError(t, err)

	require.NoError(t, v.RemoveFile(ctx, "gone.txt"))

	entries, err := os.ReadDir(v.objectsDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "every version blob must be deleted")

	state, err := v.State(ctx, "gone.txt")
	require.NoError(t, err)
	assert.False(t, state.Present)

	// Removing again reports absence, same as removing the unknown.
	err = v.RemoveFile(ctx, "gone.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestTrackedNameNormalized(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	// Decomposed form on disk, composed form in the query: one name.
	src := writeSource(t, "café.txt", []byte("nfc"))
	_, err := v.AddFile(ctx, src)
	require.NoError(t, err)

	state, err := v.State(ctx, "café.txt")
	require.NoError(t, err)
	assert.True(t, state.Present)
}

func TestStagedCommitUndoesFailedCommit(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	blobID := "staged-orphan-check"
	commitErr := errors.New("induced commit failure")

	err := v.stagedCommit(ctx,
		func() error { return v.writeBlob(blobID, []byte("ciphertext")) },
		func() error { return v.removeBlob(blobID) },
		func(ctx context.Context, tx *sql.Tx) error { return commitErr },
	)
	require.ErrorIs(t, err, commitErr)

	// The staged blob must not survive the failed commit.
	_, statErr := os.Stat(v.blobPath(blobID))
	assert.True(t, os.IsNotExist(statErr), "staged blob must be undone")
}

func TestStateAbsentName(t *testing.T) {
	v, _, _ := newTestVault(t)

	state, err := v.State(context.Background(), "never-added.txt")
	require.NoError(t, err)
	assert.False(t, state.Present)
	assert.Zero(t, state.Version)
}
