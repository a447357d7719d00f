package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

const (
	// DefaultIterations is the OWASP-recommended minimum for HMAC-SHA256.
	DefaultIterations = 480_000
	saltLen           = 16
	aesKeyLen         = 32
	sealVersion       = 1
)

// sealedKey is the exported form of one sealed private key.
type sealedKey struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Network    string `json:"network"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Vault seals wallet private keys with AES-256-GCM under a key derived once
// from a password with PBKDF2-HMAC-SHA256.
type Vault struct {
	mu   sync.RWMutex
	gcm  cipher.AEAD
	salt []byte
	keys map[string]sealedKey
}

// NewVault derives the sealing key. An empty password is rejected;
// iterations <= 0 uses DefaultIterations.
func NewVault(password string, iterations int) (*Vault, error) {
	if password == "" {
		return nil, errors.New("wallet: vault password must not be empty")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("wallet: generating salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("wallet: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("wallet: creating GCM: %w", err)
	}
	return &Vault{gcm: gcm, salt: salt, keys: make(map[string]sealedKey)}, nil
}

// Store seals k's private key under its address.
func (v *Vault) Store(k Key) error {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("wallet: generating nonce: %w", err)
	}
	ct := v.gcm.Seal(nil, nonce, ethcrypto.FromECDSA(k.PrivateKey), []byte(k.Address))

	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[k.Address] = sealedKey{
		Version:    sealVersion,
		Address:    k.Address,
		Network:    k.Network,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}
	return nil
}

// Open unseals the private key of address.
func (v *Vault) Open(address string) (*ecdsa.PrivateKey, error) {
	v.mu.RLock()
	sk, ok := v.keys[address]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wallet: key for %s: %w", address, domain.ErrNotFound)
	}
	nonce, err := base64.StdEncoding.DecodeString(sk.Nonce)
	if err != nil {
		return nil, fmt.Errorf("wallet: decoding nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(sk.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("wallet: decoding ciphertext: %w", err)
	}
	plain, err := v.gcm.Open(nil, nonce, ct, []byte(sk.Address))
	if err != nil {
		return nil, fmt.Errorf("wallet: decryption failed: %w", err)
	}
	pk, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid sealed key: %w", err)
	}
	return pk, nil
}

// Export returns the sealed form of address as JSON.
func (v *Vault) Export(address string) ([]byte, error) {
	v.mu.RLock()
	sk, ok := v.keys[address]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wallet: key for %s: %w", address, domain.ErrNotFound)
	}
	return json.MarshalIndent(sk, "", "  ")
}

// Len returns the number of sealed keys.
func (v *Vault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}
