// utils/keys.go
package utils

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

var ErrInvalidPrivateKey = errors.New("invalid secp256k1 private key")

// GenerateKey creates a new secp256k1 private key and its derived address.
func GenerateKey() (privKey []byte, address string, err error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate secp256k1 key: %w", err)
	}
	raw := key.Serialize()
	addr, err := AddressFromPrivateKey(raw)
	if err != nil {
		return nil, "", err
	}
	return raw, addr, nil
}

// AddressFromPrivateKey derives the 0x-prefixed account address for a raw
// 32-byte secp256k1 private key: keccak256 of the uncompressed public key
// (without the 0x04 prefix byte), last 20 bytes.
func AddressFromPrivateKey(privKey []byte) (string, error) {
	if len(privKey) != 32 {
		return "", ErrInvalidPrivateKey
	}
	key := secp256k1.PrivKeyFromBytes(privKey)
	pub := key.PubKey().SerializeUncompressed()

	h := sha3.NewLegacyKeccak256()
	h.Write(pub[1:])
	digest := h.Sum(nil)

	return "0x" + hex.EncodeToString(digest[12:]), nil
}

// ParsePrivateKeyHex decodes a hex-encoded private key, tolerating an
// optional 0x prefix.
func ParsePrivateKeyHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidPrivateKey
	}
	return raw, nil
}

// NormalizeAddress lowercases an address for comparison and storage.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
