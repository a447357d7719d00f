// Package wallet creates synthetic settlement wallets, keeps their keys
// sealed, and signs pseudo-transaction receipts.
package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

// Key is a freshly generated wallet.
type Key struct {
	Address    string
	Network    string
	PrivateKey *ecdsa.PrivateKey
}

// PrivateKeyHex returns the hex-encoded private key without 0x prefix.
func (k Key) PrivateKeyHex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(k.PrivateKey))
}

// Generator derives wallet addresses from secp256k1 keys. EVM networks get
// checksummed 0x addresses; networks listed as base58 get the compressed
// public key X coordinate in base58.
type Generator struct {
	base58Networks map[string]bool
}

// NewGenerator creates a Generator. Network names are case-insensitive.
func NewGenerator(base58Networks []string) *Generator {
	m := make(map[string]bool, len(base58Networks))
	for _, n := range base58Networks {
		m[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return &Generator{base58Networks: m}
}

// New generates a key and its address for network.
func (g *Generator) New(network string) (Key, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return Key{}, fmt.Errorf("wallet: generate key: %w", err)
	}
	return Key{
		Address:    g.Address(network, &pk.PublicKey),
		Network:    network,
		PrivateKey: pk,
	}, nil
}

// Address renders pub in the format used by network.
func (g *Generator) Address(network string, pub *ecdsa.PublicKey) string {
	if g.base58Networks[strings.ToLower(network)] {
		compressed := ethcrypto.CompressPubkey(pub)
		return base58.Encode(compressed[1:])
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex()
}

// IsBase58 reports whether network uses base58 addresses.
func (g *Generator) IsBase58(network string) bool {
	return g.base58Networks[strings.ToLower(network)]
}

// TxHash derives a 0x-prefixed Keccak256 hash from the given parts.
func TxHash(parts ...[]byte) string {
	return ethcrypto.Keccak256Hash(parts...).Hex()
}
