package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	receiptTypeHash = ethcrypto.Keccak256(
		[]byte("Receipt(bytes32 txHash,string wallet,string asset,string network,uint256 amount,string kind,uint256 timestamp)"),
	)
)

const (
	receiptDomainName    = "RouteEngineSettlement"
	receiptDomainVersion = "1"
	// amountScale fixes amounts to 8 decimal places before hashing.
	amountScale = 1e8
)

// Receipt is the signed summary of one pseudo-transaction.
type Receipt struct {
	TxHash    string  `json:"tx_hash"`
	Wallet    string  `json:"wallet"`
	Asset     string  `json:"asset"`
	Network   string  `json:"network"`
	Amount    float64 `json:"amount"`
	Kind      string  `json:"kind"`
	Timestamp int64   `json:"timestamp"`
}

// ReceiptSigner signs receipts with the operator key using EIP-712 typed
// data hashing.
type ReceiptSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewReceiptSigner creates a signer from a hex-encoded secp256k1 key. An
// empty key generates an ephemeral operator key.
func NewReceiptSigner(privateKeyHex string, chainID int) (*ReceiptSigner, error) {
	var (
		pk  *ecdsa.PrivateKey
		err error
	)
	if keyHex := strings.TrimPrefix(privateKeyHex, "0x"); keyHex != "" {
		pk, err = ethcrypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, fmt.Errorf("wallet: invalid operator key: %w", err)
		}
	} else {
		pk, err = ethcrypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("wallet: generate operator key: %w", err)
		}
	}
	return &ReceiptSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  buildDomainSeparator(receiptDomainName, receiptDomainVersion, chainID),
	}, nil
}

// Address returns the operator address.
func (s *ReceiptSigner) Address() common.Address {
	return s.address
}

// Sign returns the hex-encoded 65-byte signature over r.
func (s *ReceiptSigner) Sign(r Receipt) (string, error) {
	digest, err := s.digest(r)
	if err != nil {
		return "", err
	}
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("wallet: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// VerifyReceipt reports whether signature over r recovers to the operator.
func (s *ReceiptSigner) VerifyReceipt(r Receipt, signature string) bool {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return false
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	digest, err := s.digest(r)
	if err != nil {
		return false
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false
	}
	return ethcrypto.PubkeyToAddress(*pub) == s.address
}

func (s *ReceiptSigner) digest(r Receipt) ([]byte, error) {
	txHash, err := hex.DecodeString(strings.TrimPrefix(r.TxHash, "0x"))
	if err != nil || len(txHash) != 32 {
		return nil, fmt.Errorf("wallet: invalid tx hash %q", r.TxHash)
	}
	if r.Amount < 0 || math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) {
		return nil, fmt.Errorf("wallet: invalid amount %v", r.Amount)
	}
	amount, _ := new(big.Float).SetFloat64(math.Round(r.Amount * amountScale)).Int(nil)

	structHash := ethcrypto.Keccak256(
		concatBytes(
			receiptTypeHash,
			txHash,
			ethcrypto.Keccak256([]byte(r.Wallet)),
			ethcrypto.Keccak256([]byte(r.Asset)),
			ethcrypto.Keccak256([]byte(r.Network)),
			bigIntTo32Bytes(amount),
			ethcrypto.Keccak256([]byte(r.Kind)),
			bigIntTo32Bytes(big.NewInt(r.Timestamp)),
		),
	)
	return eip712Hash(s.domainSep, structHash), nil
}

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
