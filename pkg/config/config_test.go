package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, c)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
vault_root: /srv/vault
keyring_dir: /srv/keys
validate_before_mutate: false
export:
  relative: true
  assume_yes: true
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/vault", c.VaultRoot)
	assert.Equal(t, "/srv/keys", c.KeyringDir)
	assert.False(t, c.ValidatePolicy())
	assert.True(t, c.Export.Relative)
	assert.True(t, c.Export.AssumeYes)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "vault_root: [not: closed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolveRootPrecedence(t *testing.T) {
	c := &Config{VaultRoot: "/from/file"}

	t.Setenv(EnvRoot, "/from/env")
	assert.Equal(t, "/from/flag", c.ResolveRoot("/from/flag"))
	assert.Equal(t, "/from/env", c.ResolveRoot(""))

	t.Setenv(EnvRoot, "")
	assert.Equal(t, "/from/file", c.ResolveRoot(""))

	empty := &Config{}
	assert.Equal(t, ".", empty.ResolveRoot(""))
}

func TestResolveKeyringDirPrecedence(t *testing.T) {
	c := &Config{KeyringDir: "/file/keys"}

	t.Setenv(EnvKeyring, "/env/keys")
	assert.Equal(t, "/flag/keys", c.ResolveKeyringDir("/flag/keys"))
	assert.Equal(t, "/env/keys", c.ResolveKeyringDir(""))

	t.Setenv(EnvKeyring, "")
	assert.Equal(t, "/file/keys", c.ResolveKeyringDir(""))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	empty := &Config{}
	assert.Equal(t, filepath.Join(home, ".dmvault", "keyring"), empty.ResolveKeyringDir(""))
}

func TestValidatePolicyDefault(t *testing.T) {
	assert.True(t, (&Config{}).ValidatePolicy())

	on := true
	assert.True(t, (&Config{ValidateBeforeMutate: &on}).ValidatePolicy())

	off := false
	assert.False(t, (&Config{ValidateBeforeMutate: &off}).ValidatePolicy())
}
