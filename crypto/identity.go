// Package crypto provides the node's signing identity. Keys are ML-DSA-44
// (post-quantum) and addresses are derived in the address subpackage.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	mldsa "github.com/cloudflare/circl/sign/mldsa/mldsa44"

	"github.com/UncleTom29/predictlink-evm/crypto/address"
)

var ErrInvalidSignature = errors.New("signature verification failed")

// Identity is an ML-DSA-44 keypair with its derived protocol address
type Identity struct {
	priv *mldsa.PrivateKey
	pub  *mldsa.PublicKey
	addr *address.Address
}

// GenerateIdentity creates a fresh signing identity
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := mldsa.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %v", err)
	}

	addr, err := address.New(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address: %v", err)
	}

	return &Identity{priv: priv, pub: pub, addr: addr}, nil
}

// IdentityFromPrivateKeyBytes restores an identity from a serialized
// private key
func IdentityFromPrivateKeyBytes(data []byte) (*Identity, error) {
	if len(data) != mldsa.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d",
			len(data), mldsa.PrivateKeySize)
	}

	priv := new(mldsa.PrivateKey)
	if err := priv.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to decode private key: %v", err)
	}

	pub, ok := priv.Public().(*mldsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("private key did not yield an ML-DSA public key")
	}

	addr, err := address.New(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address: %v", err)
	}

	return &Identity{priv: priv, pub: pub, addr: addr}, nil
}

// Address returns the identity's protocol address
func (id *Identity) Address() string {
	return id.addr.String()
}

// PublicKeyBytes returns the serialized public key
func (id *Identity) PublicKeyBytes() []byte {
	return id.pub.Bytes()
}

// PrivateKeyBytes returns the serialized private key
func (id *Identity) PrivateKeyBytes() []byte {
	return id.priv.Bytes()
}

// Sign produces a detached signature over data
func (id *Identity) Sign(data []byte) ([]byte, error) {
	sig := make([]byte, mldsa.SignatureSize)
	if err := mldsa.SignTo(id.priv, data, nil, false, sig); err != nil {
		return nil, fmt.Errorf("failed to sign: %v", err)
	}
	return sig, nil
}

// Verify checks a detached signature against a serialized public key
func Verify(pubKeyBytes, data, sig []byte) error {
	if len(pubKeyBytes) != mldsa.PublicKeySize {
		return fmt.Errorf("invalid public key size: got %d, want %d",
			len(pubKeyBytes), mldsa.PublicKeySize)
	}

	pub := new(mldsa.PublicKey)
	if err := pub.UnmarshalBinary(pubKeyBytes); err != nil {
		return fmt.Errorf("failed to decode public key: %v", err)
	}

	if !mldsa.Verify(pub, data, nil, sig) {
		return ErrInvalidSignature
	}
	return nil
}
