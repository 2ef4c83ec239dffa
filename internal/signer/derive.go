package signer

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"ecash-console/go-client/pkg/models"

	"github.com/mr-tron/base58/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoSigning    = "console/identity/signing/v1"
	hkdfInfoEncryption = "console/identity/encryption/v1"

	identityIDPrefix = "pid1"
)

// KeyMaterial holds both halves of a locally derived identity: an ed25519
// signing pair and an x25519 encryption pair, expanded from one seed.
type KeyMaterial struct {
	SigningPrivateKey    ed25519.PrivateKey
	SigningPublicKey     ed25519.PublicKey
	EncryptionPrivateKey []byte
	EncryptionPublicKey  []byte
}

func DeriveKeyMaterial(seed []byte) (*KeyMaterial, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("empty seed")
	}
	signingSeed, err := hkdfExpand(seed, hkdfInfoSigning, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	encryptionPriv, err := hkdfExpand(seed, hkdfInfoEncryption, curve25519.ScalarSize)
	if err != nil {
		return nil, err
	}
	encryptionPub, err := curve25519.X25519(encryptionPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	signingPriv := ed25519.NewKeyFromSeed(signingSeed)
	return &KeyMaterial{
		SigningPrivateKey:    signingPriv,
		SigningPublicKey:     signingPriv.Public().(ed25519.PublicKey),
		EncryptionPrivateKey: encryptionPriv,
		EncryptionPublicKey:  encryptionPub,
	}, nil
}

// NewMnemonic creates a fresh 24-word recovery phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func SeedFromMnemonic(mnemonic string) ([]byte, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	return bip39.NewSeed(mnemonic, ""), nil
}

// BuildIdentityID derives the stable human-readable identity ID from a
// signing public key.
func BuildIdentityID(signingPublicKey []byte) (string, error) {
	if len(signingPublicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid signing public key size: %d", len(signingPublicKey))
	}
	h := blake2b.Sum256(signingPublicKey)
	return identityIDPrefix + base58.Encode(h[:]), nil
}

func IdentityFromKeys(keys *KeyMaterial) (models.Identity, error) {
	if keys == nil {
		return models.Identity{}, fmt.Errorf("nil key material")
	}
	id, err := BuildIdentityID(keys.SigningPublicKey)
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{
		ID:                  id,
		SigningPublicKey:    append([]byte(nil), keys.SigningPublicKey...),
		EncryptionPublicKey: append([]byte(nil), keys.EncryptionPublicKey...),
	}, nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
