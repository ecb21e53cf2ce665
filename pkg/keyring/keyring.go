// Package keyring manages the asymmetric key identities a vault encrypts
// against. Keys live as individual JSON files in a keyring directory and
// are addressed by fingerprint (SHA-256 of the X25519 public key, hex).
// Encryption uses anonymous NaCl sealed boxes, so encrypting requires only
// the public half while decrypting requires the private half.
package keyring

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/forest6511/dmvault/pkg/crypto"
)

const (
	// FileMode is the permission for key files (owner read/write only).
	FileMode = 0600
	// DirMode is the permission for the keyring directory.
	DirMode = 0700

	keyFileSuffix = ".json"
)

// Capability flags a key may carry.
const (
	CapEncrypt = "encrypt"
	CapSign    = "sign"
)

// Sentinel errors.
var (
	ErrKeyNotFound      = errors.New("keyring: key not found")
	ErrKeyUnusable      = errors.New("keyring: key is unusable for encryption")
	ErrAmbiguousKey     = errors.New("keyring: fingerprint prefix matches more than one key")
	ErrNoPrivateKey     = errors.New("keyring: key has no private half")
	ErrPassphraseNeeded = errors.New("keyring: private key is passphrase-protected")
	ErrBadPassphrase    = errors.New("keyring: wrong passphrase for private key")
	ErrCorruptKeyFile   = errors.New("keyring: corrupt key file")
	ErrDecryptFailed    = errors.New("keyring: decryption failed")
)

// Status is the transient result of validating a key identity.
// It is never persisted.
type Status int

const (
	// StatusValid means the key exists, is not expired or revoked, and
	// supports encryption.
	StatusValid Status = iota
	// StatusNotFound means no key matches the identifier.
	StatusNotFound
	// StatusUnusable means the key exists but is expired, revoked, or
	// lacks the encrypt capability.
	StatusUnusable
	// StatusAmbiguous means the identifier is a prefix of more than one
	// fingerprint.
	StatusAmbiguous
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusNotFound:
		return "not found"
	case StatusUnusable:
		return "unusable"
	case StatusAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// sealedPrivate is a passphrase-protected private key: argon2id salt plus
// the AES-GCM sealed key material.
type sealedPrivate struct {
	Salt   string `json:"salt"`
	Sealed string `json:"sealed"`
}

// Key is one key identity in the ring. PrivateKey is empty for
// public-only entries; SealedPrivateKey is set instead when the private
// half is passphrase-protected.
type Key struct {
	Fingerprint      string         `json:"fingerprint"`
	Name             string         `json:"name,omitempty"`
	PublicKey        string         `json:"public_key"`
	PrivateKey       string         `json:"private_key,omitempty"`
	SealedPrivateKey *sealedPrivate `json:"sealed_private_key,omitempty"`
	Capabilities     []string       `json:"capabilities"`
	CreatedAt        time.Time      `json:"created_at"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	Revoked          bool           `json:"revoked,omitempty"`
}

// CanEncrypt reports whether the key carries the encrypt capability.
func (k *Key) CanEncrypt() bool {
	for _, c := range k.Capabilities {
		if c == CapEncrypt {
			return true
		}
	}
	return false
}

// CanSign reports whether the key carries the sign capability.
func (k *Key) CanSign() bool {
	for _, c := range k.Capabilities {
		if c == CapSign {
			return true
		}
	}
	return false
}

// Expired reports whether the key's expiry has passed.
func (k *Key) Expired() bool {
	return k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt)
}

// Usable reports whether the key may be used for encryption right now.
func (k *Key) Usable() bool {
	return !k.Revoked && !k.Expired() && k.CanEncrypt()
}

// HasPrivateKey reports whether a private half is stored, protected or not.
func (k *Key) HasPrivateKey() bool {
	return k.PrivateKey != "" || k.SealedPrivateKey != nil
}

func (k *Key) publicKeyBytes() (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(k.PublicKey)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: bad public key encoding", ErrCorruptKeyFile)
	}
	var pub [32]byte
	copy(pub[:], raw)
	return &pub, nil
}

// PassphraseFunc supplies the passphrase for a sealed private key. It is
// called at most once per Decrypt, only when the key is protected.
type PassphraseFunc func(fingerprint string) ([]byte, error)

// Keyring is a directory of key files.
type Keyring struct {
	dir string

	// Passphrase is consulted for passphrase-protected private keys.
	// When nil, Decrypt fails with ErrPassphraseNeeded for such keys.
	Passphrase PassphraseFunc
}

// Open returns a Keyring rooted at dir. The directory is created lazily
// on the first Save.
func Open(dir string) *Keyring {
	return &Keyring{dir: dir}
}

// Dir returns the keyring directory.
func (r *Keyring) Dir() string {
	return r.dir
}

// Generate creates a fresh encrypt-capable key pair and stores it in the
// ring. When passphrase is non-empty the private half is sealed with an
// argon2id-derived key. Returns the stored key.
func (r *Keyring) Generate(name string, passphrase []byte) (*Key, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keyring: failed to generate key pair: %w", err)
	}

	k := &Key{
		Fingerprint:  Fingerprint(pub[:]),
		Name:         name,
		PublicKey:    base64.StdEncoding.EncodeToString(pub[:]),
		Capabilities: []string{CapEncrypt},
		CreatedAt:    time.Now().UTC(),
	}

	if len(passphrase) > 0 {
		salt, err := crypto.NewSalt()
		if err != nil {
			return nil, err
		}
		kek := crypto.DeriveKey(passphrase, salt)
		defer crypto.SecureWipe(kek)
		sealed, err := crypto.Seal(kek, priv[:])
		if err != nil {
			return nil, fmt.Errorf("keyring: failed to seal private key: %w", err)
		}
		k.SealedPrivateKey = &sealedPrivate{
			Salt:   base64.StdEncoding.EncodeToString(salt),
			Sealed: base64.StdEncoding.EncodeToString(sealed),
		}
	} else {
		k.PrivateKey = base64.StdEncoding.EncodeToString(priv[:])
	}
	crypto.SecureWipe(priv[:])

	if err := r.Save(k); err != nil {
		return nil, err
	}
	return k, nil
}

// Save writes a key file under its full fingerprint.
func (r *Keyring) Save(k *Key) error {
	if err := os.MkdirAll(r.dir, DirMode); err != nil {
		return fmt.Errorf("keyring: failed to create keyring directory: %w", err)
	}
	data, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return fmt.Errorf("keyring: failed to marshal key: %w", err)
	}
	path := filepath.Join(r.dir, k.Fingerprint+keyFileSuffix)
	if err := os.WriteFile(path, data, FileMode); err != nil {
		return fmt.Errorf("keyring: failed to write key file: %w", err)
	}
	return nil
}

// List returns every key in the ring, unordered.
func (r *Keyring) List() ([]*Key, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("keyring: failed to read keyring directory: %w", err)
	}

	var keys []*Key
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), keyFileSuffix) {
			continue
		}
		k, err := r.load(filepath.Join(r.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (r *Keyring) load(path string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyring: failed to read key file: %w", err)
	}
	var k Key
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptKeyFile, filepath.Base(path))
	}
	return &k, nil
}

// Resolve finds the single key matching keyID: exact fingerprint match
// first, then unambiguous fingerprint prefix. Matching is
// case-insensitive over the hex fingerprint.
func (r *Keyring) Resolve(keyID string) (*Key, Status, error) {
	id := strings.ToLower(strings.TrimSpace(keyID))
	if id == "" {
		return nil, StatusNotFound, nil
	}

	// Exact match is a direct file lookup.
	exact := filepath.Join(r.dir, id+keyFileSuffix)
	if _, err := os.Stat(exact); err == nil {
		k, err := r.load(exact)
		if err != nil {
			return nil, StatusNotFound, err
		}
		return k, statusOf(k), nil
	}

	keys, err := r.List()
	if err != nil {
		return nil, StatusNotFound, err
	}

	var matches []*Key
	for _, k := range keys {
		if strings.HasPrefix(strings.ToLower(k.Fingerprint), id) {
			matches = append(matches, k)
		}
	}
	switch len(matches) {
	case 0:
		return nil, StatusNotFound, nil
	case 1:
		return matches[0], statusOf(matches[0]), nil
	default:
		return nil, StatusAmbiguous, nil
	}
}

func statusOf(k *Key) Status {
	if !k.Usable() {
		return StatusUnusable
	}
	return StatusValid
}

// Validate reports the status of a key identity without side effects.
// It is safe to call repeatedly; the returned error covers keyring I/O
// problems only, never the key's own state.
func (r *Keyring) Validate(keyID string) (Status, error) {
	_, status, err := r.Resolve(keyID)
	return status, err
}

// Encrypt seals plaintext to the key's public half using an anonymous
// NaCl sealed box. The key must resolve and be usable.
func (r *Keyring) Encrypt(plaintext []byte, keyID string) ([]byte, error) {
	k, err := r.resolveUsable(keyID)
	if err != nil {
		return nil, err
	}

	pub, err := k.publicKeyBytes()
	if err != nil {
		return nil, err
	}
	out, err := box.SealAnonymous(nil, plaintext, pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keyring: failed to seal: %w", err)
	}
	return out, nil
}

// Decrypt opens a sealed box with the key's private half, unsealing a
// passphrase-protected private key first if necessary. Revoked or expired
// keys may still decrypt: losing access to existing ciphertext on
// revocation would make every vault export fail permanently.
func (r *Keyring) Decrypt(ciphertext []byte, keyID string) ([]byte, error) {
	k, status, err := r.Resolve(keyID)
	if err != nil {
		return nil, err
	}
	switch status {
	case StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	case StatusAmbiguous:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousKey, keyID)
	}

	priv, err := r.privateKeyBytes(k)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(priv[:])

	pub, err := k.publicKeyBytes()
	if err != nil {
		return nil, err
	}

	plaintext, ok := box.OpenAnonymous(nil, ciphertext, pub, priv)
	if !ok {
		return nil, fmt.Errorf("%w: key %s", ErrDecryptFailed, k.Fingerprint)
	}
	return plaintext, nil
}

func (r *Keyring) resolveUsable(keyID string) (*Key, error) {
	k, status, err := r.Resolve(keyID)
	if err != nil {
		return nil, err
	}
	switch status {
	case StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	case StatusAmbiguous:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousKey, keyID)
	case StatusUnusable:
		return nil, fmt.Errorf("%w: %s", ErrKeyUnusable, k.Fingerprint)
	}
	return k, nil
}

func (r *Keyring) privateKeyBytes(k *Key) (*[32]byte, error) {
	var raw []byte
	switch {
	case k.PrivateKey != "":
		decoded, err := base64.StdEncoding.DecodeString(k.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: bad private key encoding", ErrCorruptKeyFile)
		}
		raw = decoded

	case k.SealedPrivateKey != nil:
		if r.Passphrase == nil {
			return nil, fmt.Errorf("%w: %s", ErrPassphraseNeeded, k.Fingerprint)
		}
		passphrase, err := r.Passphrase(k.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("keyring: failed to obtain passphrase: %w", err)
		}
		defer crypto.SecureWipe(passphrase)

		salt, err := base64.StdEncoding.DecodeString(k.SealedPrivateKey.Salt)
		if err != nil {
			return nil, fmt.Errorf("%w: bad salt encoding", ErrCorruptKeyFile)
		}
		sealed, err := base64.StdEncoding.DecodeString(k.SealedPrivateKey.Sealed)
		if err != nil {
			return nil, fmt.Errorf("%w: bad sealed key encoding", ErrCorruptKeyFile)
		}

		kek := crypto.DeriveKey(passphrase, salt)
		defer crypto.SecureWipe(kek)
		raw, err = crypto.Open(kek, sealed)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadPassphrase, k.Fingerprint)
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrNoPrivateKey, k.Fingerprint)
	}

	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: bad private key length", ErrCorruptKeyFile)
	}
	var priv [32]byte
	copy(priv[:], raw)
	crypto.SecureWipe(raw)
	return &priv, nil
}

// Fingerprint returns the hex SHA-256 digest of a raw public key.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}
