package utils

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyDerivesMatchingAddress(t *testing.T) {
	priv, addr, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, priv, 32)
	assert.Len(t, addr, 42)
	assert.True(t, strings.HasPrefix(addr, "0x"))
	assert.Equal(t, addr, strings.ToLower(addr), "addresses are stored lowercased")

	derived, err := AddressFromPrivateKey(priv)
	require.NoError(t, err)
	assert.Equal(t, addr, derived)
}

func TestAddressFromPrivateKeyKnownVector(t *testing.T) {
	// Well-known test key: keccak-derived address for private key 0x01.
	priv := make([]byte, 32)
	priv[31] = 0x01

	addr, err := AddressFromPrivateKey(priv)
	require.NoError(t, err)
	assert.Equal(t, "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", addr)
}

func TestAddressFromPrivateKeyRejectsBadLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		_, err := AddressFromPrivateKey(make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidPrivateKey, "length %d", n)
	}
}

func TestParsePrivateKeyHex(t *testing.T) {
	raw := make([]byte, 32)
	raw[0] = 0xab
	encoded := hex.EncodeToString(raw)

	for _, input := range []string{encoded, "0x" + encoded, "  " + encoded + "  "} {
		parsed, err := ParsePrivateKeyHex(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, raw, parsed)
	}

	for _, input := range []string{"", "0x", "zzzz", encoded[:40], encoded + "00"} {
		_, err := ParsePrivateKeyHex(input)
		assert.ErrorIs(t, err, ErrInvalidPrivateKey, "input %q", input)
	}
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcdef", NormalizeAddress("  0xABCdef "))
}
