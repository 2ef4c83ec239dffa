package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"time"

	"ecash-console/go-client/pkg/models"

	"golang.org/x/crypto/blake2b"
)

// LocalKeySigner keeps derived key material in process memory. The seed it
// was built from is retained so the session layer can persist it for
// reconnection; storing the raw seed client-side is a known trade-off, see
// DESIGN.md.
type LocalKeySigner struct {
	seed     []byte
	keys     *KeyMaterial
	identity models.Identity
}

func NewLocalKeySigner(seed []byte) (*LocalKeySigner, error) {
	keys, err := DeriveKeyMaterial(seed)
	if err != nil {
		return nil, err
	}
	identity, err := IdentityFromKeys(keys)
	if err != nil {
		return nil, err
	}
	return &LocalKeySigner{
		seed:     append([]byte(nil), seed...),
		keys:     keys,
		identity: identity,
	}, nil
}

func NewLocalKeySignerFromMnemonic(mnemonic string) (*LocalKeySigner, error) {
	seed, err := SeedFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	return NewLocalKeySigner(seed)
}

func (s *LocalKeySigner) Method() models.AuthMethod {
	return models.AuthMethodLocalKey
}

func (s *LocalKeySigner) PublicKey() (models.Identity, error) {
	return copyIdentity(s.identity), nil
}

// Seed exposes a copy of the raw seed for session persistence.
func (s *LocalKeySigner) Seed() []byte {
	return append([]byte(nil), s.seed...)
}

func (s *LocalKeySigner) SignEvent(_ context.Context, draft models.EventDraft) (models.SignedEvent, error) {
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}
	digest := EventDigest(s.keys.SigningPublicKey, draft)
	return models.SignedEvent{
		ID:        hex.EncodeToString(digest),
		PublicKey: append([]byte(nil), s.keys.SigningPublicKey...),
		Kind:      draft.Kind,
		Content:   draft.Content,
		Tags:      draft.Tags,
		CreatedAt: draft.CreatedAt,
		Signature: ed25519.Sign(s.keys.SigningPrivateKey, digest),
	}, nil
}

func (s *LocalKeySigner) Encrypt(_ context.Context, peerKey, plaintext []byte) (string, error) {
	key, err := DeriveConversationKey(s.keys.EncryptionPrivateKey, peerKey)
	if err != nil {
		return "", err
	}
	return SealPayload(key, plaintext)
}

func (s *LocalKeySigner) Decrypt(_ context.Context, peerKey []byte, ciphertext string) ([]byte, error) {
	key, err := DeriveConversationKey(s.keys.EncryptionPrivateKey, peerKey)
	if err != nil {
		return nil, err
	}
	return OpenPayload(key, ciphertext)
}

// EventDigest computes the canonical digest signed by every backend.
func EventDigest(signingPublicKey []byte, draft models.EventDraft) []byte {
	b := make([]byte, 0, 64+len(draft.Content))
	b = append(b, signingPublicKey...)
	b = append(b, 0)
	b = binary.BigEndian.AppendUint64(b, uint64(draft.Kind))
	b = binary.BigEndian.AppendUint64(b, uint64(draft.CreatedAt.Unix()))
	for _, tag := range draft.Tags {
		for _, field := range tag {
			b = append(b, []byte(field)...)
			b = append(b, 0)
		}
		b = append(b, 1)
	}
	b = append(b, []byte(draft.Content)...)
	digest := blake2b.Sum256(b)
	return digest[:]
}

// VerifyEvent checks a signed event's digest and signature.
func VerifyEvent(ev models.SignedEvent) bool {
	if len(ev.PublicKey) != ed25519.PublicKeySize || len(ev.Signature) != ed25519.SignatureSize {
		return false
	}
	digest := EventDigest(ev.PublicKey, models.EventDraft{
		Kind:      ev.Kind,
		Content:   ev.Content,
		Tags:      ev.Tags,
		CreatedAt: ev.CreatedAt,
	})
	if hex.EncodeToString(digest) != ev.ID {
		return false
	}
	return ed25519.Verify(ev.PublicKey, digest, ev.Signature)
}

func copyIdentity(id models.Identity) models.Identity {
	id.SigningPublicKey = append([]byte(nil), id.SigningPublicKey...)
	id.EncryptionPublicKey = append([]byte(nil), id.EncryptionPublicKey...)
	return id
}
