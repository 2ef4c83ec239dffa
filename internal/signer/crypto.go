package signer

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	payloadVersion  = "v1"
	hkdfInfoPayload = "console/payload/v1"
)

// DeriveConversationKey computes the symmetric payload key between one
// x25519 private key and a peer public key. Both directions of a pair derive
// the same key, so a payload encrypted to the caller's own public key opens
// only with the matching private key.
func DeriveConversationKey(privateKey, peerPublicKey []byte) ([]byte, error) {
	if len(privateKey) != curve25519.ScalarSize || len(peerPublicKey) != curve25519.PointSize {
		return nil, ErrInvalidPeerKey
	}
	shared, err := curve25519.X25519(privateKey, peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	reader := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfoPayload))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// SealPayload encrypts plaintext under a conversation key. The encoding is
// "v1.<nonce>.<ciphertext>" with base64url fields.
func SealPayload(key, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, []byte(payloadVersion))
	return payloadVersion + "." +
		base64.RawURLEncoding.EncodeToString(nonce) + "." +
		base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// OpenPayload reverses SealPayload. A wrong key fails AEAD authentication;
// it never yields plausible-looking plaintext.
func OpenPayload(key []byte, payload string) ([]byte, error) {
	parts := strings.Split(payload, ".")
	if len(parts) != 3 || parts[0] != payloadVersion {
		return nil, ErrInvalidCiphertext
	}
	nonce, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrInvalidCiphertext
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(payloadVersion))
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrInvalidCiphertext)
	}
	return plaintext, nil
}
