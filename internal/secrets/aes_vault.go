package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/creditkit/decisionflow/pkg/schema"
)

// Secrets are persisted as a small envelope: a format version byte, the
// GCM nonce, then the ciphertext. The version byte leaves room for key
// rotation without re-encrypting every credential at once.
const envelopeV1 byte = 1

const defaultKDFIterations = 100_000

// DataSourceKey returns the vault key holding the credentials for a
// data-source type, e.g. "datasource/credit_bureau".
func DataSourceKey(sourceType string) string {
	return "datasource/" + sourceType
}

// ResolveCredentials resolves the credentials blob for a data-source
// type and decodes it as a JSON object.
func ResolveCredentials(ctx context.Context, v Vault, sourceType string) (map[string]any, error) {
	plaintext, err := v.Resolve(ctx, DataSourceKey(sourceType))
	if err != nil {
		return nil, err
	}
	var creds map[string]any
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault,
			"credentials for source %q are not a JSON object: %s", sourceType, err.Error())
	}
	return creds, nil
}

// VaultConfig configures key derivation for the AES vault.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type VaultConfig struct {
	MasterKey  []byte // raw 32-byte key (takes priority)
	Passphrase string // derive key via PBKDF2
	Salt       []byte // salt for PBKDF2 (required with Passphrase)
	Iterations int    // PBKDF2 iterations (default 100_000)
}

func (cfg VaultConfig) key() ([]byte, error) {
	switch {
	case len(cfg.MasterKey) == 32:
		return cfg.MasterKey, nil
	case len(cfg.MasterKey) > 0:
		return nil, schema.NewErrorf(schema.ErrCodeVault,
			"master key must be 32 bytes, got %d", len(cfg.MasterKey))
	case cfg.Passphrase == "":
		return nil, schema.NewError(schema.ErrCodeVault, "either master_key or passphrase is required")
	case len(cfg.Salt) == 0:
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = defaultKDFIterations
	}
	return pbkdf2.Key([]byte(cfg.Passphrase), cfg.Salt, iterations, 32, sha256.New), nil
}

// AESVault keeps data-source credentials encrypted at rest with
// AES-256-GCM, decrypting only at resolution time.
type AESVault struct {
	store SecretStore
	aead  cipher.AEAD
}

// NewAESVault creates a vault over the given secret store.
func NewAESVault(s SecretStore, cfg VaultConfig) (*AESVault, error) {
	key, err := cfg.key()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

func (v *AESVault) Store(ctx context.Context, key string, value []byte) error {
	sealed, err := v.seal(value)
	if err != nil {
		return err
	}
	return v.store.StoreSecret(ctx, key, sealed)
}

func (v *AESVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	return v.open(sealed)
}

func (v *AESVault) Delete(ctx context.Context, key string) error {
	return v.store.DeleteSecret(ctx, key)
}

func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}

func (v *AESVault) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	envelope := make([]byte, 0, 1+len(nonce)+len(plaintext)+v.aead.Overhead())
	envelope = append(envelope, envelopeV1)
	envelope = append(envelope, nonce...)
	return v.aead.Seal(envelope, nonce, plaintext, nil), nil
}

func (v *AESVault) open(envelope []byte) ([]byte, error) {
	if len(envelope) < 1+v.aead.NonceSize() {
		return nil, schema.NewError(schema.ErrCodeVault, "secret envelope too short")
	}
	if envelope[0] != envelopeV1 {
		return nil, schema.NewErrorf(schema.ErrCodeVault,
			"unknown secret envelope version %d", envelope[0])
	}
	nonce := envelope[1 : 1+v.aead.NonceSize()]
	plaintext, err := v.aead.Open(nil, nonce, envelope[1+v.aead.NonceSize():], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt failed: %s", err.Error())
	}
	return plaintext, nil
}
