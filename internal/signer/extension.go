package signer

import (
	"context"
	"fmt"

	"ecash-console/go-client/pkg/models"
)

// Provider is an injected signing provider, typically a browser extension
// bridge. It may prompt the user, so every call takes a context.
type Provider interface {
	PublicKey(ctx context.Context) (models.Identity, error)
	SignEvent(ctx context.Context, draft models.EventDraft) (models.SignedEvent, error)
	Encrypt(ctx context.Context, peerKey, plaintext []byte) (string, error)
	Decrypt(ctx context.Context, peerKey []byte, ciphertext string) ([]byte, error)
}

// ExtensionSigner delegates every operation to an injected provider. No key
// material ever enters the process.
type ExtensionSigner struct {
	provider Provider
}

func NewExtensionSigner(provider Provider) (*ExtensionSigner, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: no extension provider injected", ErrSignerUnavailable)
	}
	return &ExtensionSigner{provider: provider}, nil
}

func (s *ExtensionSigner) Method() models.AuthMethod {
	return models.AuthMethodExtension
}

func (s *ExtensionSigner) PublicKey() (models.Identity, error) {
	identity, err := s.provider.PublicKey(context.Background())
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrSignerUnavailable, err)
	}
	return identity, nil
}

func (s *ExtensionSigner) SignEvent(ctx context.Context, draft models.EventDraft) (models.SignedEvent, error) {
	ev, err := s.provider.SignEvent(ctx, draft)
	if err != nil {
		return models.SignedEvent{}, fmt.Errorf("extension sign: %w", err)
	}
	return ev, nil
}

func (s *ExtensionSigner) Encrypt(ctx context.Context, peerKey, plaintext []byte) (string, error) {
	return s.provider.Encrypt(ctx, peerKey, plaintext)
}

func (s *ExtensionSigner) Decrypt(ctx context.Context, peerKey []byte, ciphertext string) ([]byte, error) {
	return s.provider.Decrypt(ctx, peerKey, ciphertext)
}
