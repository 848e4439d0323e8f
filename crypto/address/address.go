// Package address implements 20-byte 0x-prefixed protocol addresses
// derived from ML-DSA public keys with Blake2b.
package address

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	mldsa "github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"golang.org/x/crypto/blake2b"
)

const (
	AddressPrefix     = "0x"
	AddressLength     = 42 // "0x" + 40 hex characters
	AddressByteLength = 20
)

// Address is a 20-byte protocol address
type Address [AddressByteLength]byte

// New derives an Address from a public key: the last 20 bytes of the
// Blake2b-256 hash of the key bytes.
func New(pubKey *mldsa.PublicKey) (*Address, error) {
	if pubKey == nil {
		return nil, fmt.Errorf("public key cannot be nil")
	}

	pubKeyBytes := pubKey.Bytes()
	if len(pubKeyBytes) == 0 {
		return nil, fmt.Errorf("public key bytes cannot be empty")
	}

	hashBytes := blake2b.Sum256(pubKeyBytes)

	var address Address
	copy(address[:], hashBytes[len(hashBytes)-AddressByteLength:])
	return &address, nil
}

// FromString parses a 0x-prefixed hex address
func FromString(addr string) (*Address, error) {
	if err := Validate(addr); err != nil {
		return nil, fmt.Errorf("invalid address format: %v", err)
	}

	raw, err := hex.DecodeString(addr[2:])
	if err != nil {
		return nil, fmt.Errorf("invalid address hex: %v", err)
	}

	var address Address
	copy(address[:], raw)
	return &address, nil
}

// FromBytes creates an Address from raw bytes
func FromBytes(addressBytes []byte) (*Address, error) {
	if len(addressBytes) != AddressByteLength {
		return nil, fmt.Errorf("address bytes must be exactly %d bytes, got %d",
			AddressByteLength, len(addressBytes))
	}

	var address Address
	copy(address[:], addressBytes)
	return &address, nil
}

// Validate checks whether a string is a well-formed 0x address
func Validate(addr string) error {
	if len(addr) != AddressLength {
		return fmt.Errorf("address must be exactly %d characters long, got %d", AddressLength, len(addr))
	}

	if !strings.HasPrefix(addr, AddressPrefix) {
		return fmt.Errorf("address must start with '%s', got '%s'", AddressPrefix, addr[:2])
	}

	if _, err := hex.DecodeString(addr[2:]); err != nil {
		return fmt.Errorf("address contains invalid hex: %v", err)
	}

	return nil
}

// IsValid reports whether a string is a well-formed 0x address
func IsValid(addr string) bool {
	return Validate(addr) == nil
}

// Bytes returns the raw 20-byte address
func (a *Address) Bytes() []byte {
	if a == nil {
		return nil
	}
	return a[:]
}

// String returns the 0x-prefixed hex representation
func (a *Address) String() string {
	if a == nil {
		return AddressPrefix + strings.Repeat("0", AddressByteLength*2)
	}
	return fmt.Sprintf("%s%x", AddressPrefix, a[:])
}

// IsZero reports whether the address is all zeros
func (a *Address) IsZero() bool {
	if a == nil {
		return true
	}
	for _, b := range a {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether two addresses are identical
func (a *Address) Equal(other *Address) bool {
	if a == nil && other == nil {
		return true
	}
	if a == nil || other == nil {
		return false
	}
	return bytes.Equal(a[:], other[:])
}

// MarshalJSON implements json.Marshaler
func (a *Address) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, a.String())), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Address) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("invalid JSON data for address")
	}

	parsed, err := FromString(string(data[1 : len(data)-1]))
	if err != nil {
		return fmt.Errorf("failed to parse address from JSON: %v", err)
	}

	copy(a[:], parsed[:])
	return nil
}
