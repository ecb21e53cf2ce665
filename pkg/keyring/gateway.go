package keyring

// Gateway is the narrow view of the keyring the vault engine depends on.
// Keeping the engine behind this interface lets tests swap in fakes that
// inject failures between the encrypt step and the metadata commit.
type Gateway interface {
	// Encrypt seals plaintext to the identified key. Fails when the key
	// does not resolve to exactly one usable identity.
	Encrypt(plaintext []byte, keyID string) ([]byte, error)

	// Decrypt recovers plaintext with the identified key's private half.
	Decrypt(ciphertext []byte, keyID string) ([]byte, error)

	// Validate reports the key's status without side effects.
	Validate(keyID string) (Status, error)
}

var _ Gateway = (*Keyring)(nil)
