package address

import (
	"crypto/rand"
	"testing"

	mldsa "github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromPublicKey(t *testing.T) {
	pub, _, err := mldsa.GenerateKey(rand.Reader)
	require.NoError(t, err)

	addr, err := New(pub)
	require.NoError(t, err)

	assert.Len(t, addr.Bytes(), AddressByteLength)
	assert.True(t, IsValid(addr.String()))
	assert.False(t, addr.IsZero())

	// Same key derives the same address
	again, err := New(pub)
	require.NoError(t, err)
	assert.True(t, addr.Equal(again))
}

func TestNewNilKey(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("0x1234567890abcdef1234567890abcdef12345678"))
	assert.Error(t, Validate("1234567890abcdef1234567890abcdef12345678"))   // no prefix
	assert.Error(t, Validate("0x1234"))                                     // too short
	assert.Error(t, Validate("0x1234567890abcdef1234567890abcdef1234567g")) // bad hex
}

func TestStringRoundTrip(t *testing.T) {
	original := "0x1234567890abcdef1234567890abcdef12345678"

	addr, err := FromString(original)
	require.NoError(t, err)
	assert.Equal(t, original, addr.String())

	fromBytes, err := FromBytes(addr.Bytes())
	require.NoError(t, err)
	assert.True(t, addr.Equal(fromBytes))
}

func TestJSONRoundTrip(t *testing.T) {
	addr, err := FromString("0x1234567890abcdef1234567890abcdef12345678")
	require.NoError(t, err)

	data, err := addr.MarshalJSON()
	require.NoError(t, err)

	var decoded Address
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.True(t, addr.Equal(&decoded))
}
