// Package sealer is the cryptography collaborator: it seals a project key for
// one recipient with NaCl box (X25519 + XSalsa20-Poly1305) and opens it
// again on the client side.
//
// Nonces are drawn from crypto/rand for every Seal call and are returned
// separately from the ciphertext, because the envelope stores them in their
// own column.
package sealer

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	// KeySize is the length of box public and private keys.
	KeySize = 32

	// NonceSize is the length of a box nonce.
	NonceSize = 24

	// ProjectKeySize is the length of generated project keys.
	ProjectKeySize = 32
)

// ErrOpen is returned when a ciphertext fails authentication.
var ErrOpen = errors.New("sealer: message authentication failed")

// Box seals messages from one sender keypair.
type Box struct {
	privateKey [KeySize]byte
	publicKey  [KeySize]byte
	rand       io.Reader
}

// New creates a Box for the sender's private key.
func New(privateKey []byte) (*Box, error) {
	if len(privateKey) != KeySize {
		return nil, fmt.Errorf("sealer: private key must be %d bytes, got %d", KeySize, len(privateKey))
	}
	pub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("sealer: derive public key: %w", err)
	}

	b := &Box{rand: rand.Reader}
	copy(b.privateKey[:], privateKey)
	copy(b.publicKey[:], pub)
	return b, nil
}

// GenerateKeyPair creates a fresh box keypair.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("sealer: generate key: %w", err)
	}
	return pub[:], priv[:], nil
}

// GenerateProjectKey creates a random symmetric project key.
func GenerateProjectKey() ([]byte, error) {
	key := make([]byte, ProjectKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("sealer: generate project key: %w", err)
	}
	return key, nil
}

// PublicKey returns the sender's public key.
func (b *Box) PublicKey() []byte {
	out := make([]byte, KeySize)
	copy(out, b.publicKey[:])
	return out
}

// Seal encrypts projectKey for the recipient under a fresh random nonce.
func (b *Box) Seal(projectKey, recipientPublicKey []byte) (ciphertext, nonce []byte, err error) {
	if len(recipientPublicKey) != KeySize {
		return nil, nil, fmt.Errorf("sealer: recipient public key must be %d bytes, got %d",
			KeySize, len(recipientPublicKey))
	}

	var n [NonceSize]byte
	if _, err := io.ReadFull(b.rand, n[:]); err != nil {
		return nil, nil, fmt.Errorf("sealer: read nonce: %w", err)
	}
	var peer [KeySize]byte
	copy(peer[:], recipientPublicKey)

	ciphertext = box.Seal(nil, projectKey, &n, &peer, &b.privateKey)
	return ciphertext, n[:], nil
}

// Open decrypts an envelope on the recipient side.
func Open(ciphertext, nonce, senderPublicKey, recipientPrivateKey []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("sealer: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	if len(senderPublicKey) != KeySize || len(recipientPrivateKey) != KeySize {
		return nil, fmt.Errorf("sealer: keys must be %d bytes", KeySize)
	}

	var n [NonceSize]byte
	var peer, priv [KeySize]byte
	copy(n[:], nonce)
	copy(peer[:], senderPublicKey)
	copy(priv[:], recipientPrivateKey)

	plain, ok := box.Open(nil, ciphertext, &n, &peer, &priv)
	if !ok {
		return nil, ErrOpen
	}
	return plain, nil
}
