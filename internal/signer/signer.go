package signer

import (
	"context"
	"errors"
	"sync"

	"ecash-console/go-client/pkg/models"
)

var (
	ErrSignerUnavailable = errors.New("signer backend is unavailable")
	ErrInvalidPeerKey    = errors.New("invalid peer key")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// Signer proves control of one identity. Backends differ in where the key
// material lives: in process memory, behind a browser extension provider, or
// on a remote signer reached through relays.
type Signer interface {
	Method() models.AuthMethod
	PublicKey() (models.Identity, error)
	SignEvent(ctx context.Context, draft models.EventDraft) (models.SignedEvent, error)
	Encrypt(ctx context.Context, peerKey []byte, plaintext []byte) (string, error)
	Decrypt(ctx context.Context, peerKey []byte, ciphertext string) ([]byte, error)
}

// Service owns the single active signer. Non-UI code reaches the signer
// through this accessor instead of an ambient variable; replacement happens
// only on login, logout and session restore.
type Service struct {
	mu     sync.RWMutex
	active Signer
}

func NewService() *Service {
	return &Service{}
}

var defaultService = NewService()

// Default is the process-wide signer service instance.
func Default() *Service {
	return defaultService
}

func (s *Service) Activate(sg Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = sg
}

// Deactivate clears the active signer and returns the previous one, if any.
func (s *Service) Deactivate() Signer {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.active
	s.active = nil
	return prev
}

func (s *Service) Active() (Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil, ErrSignerUnavailable
	}
	return s.active, nil
}

func (s *Service) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active != nil
}

// Identity reports the public identity of the active signer.
func (s *Service) Identity() (models.Identity, error) {
	sg, err := s.Active()
	if err != nil {
		return models.Identity{}, err
	}
	return sg.PublicKey()
}
