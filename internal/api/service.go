package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"ecash-console/go-client/internal/app"
	"ecash-console/go-client/internal/platform/ratelimiter"
	"ecash-console/go-client/internal/session"
	"ecash-console/go-client/internal/signer"
	"ecash-console/go-client/internal/signer/bunker"
	"ecash-console/go-client/internal/tasks"
	"ecash-console/go-client/internal/vault"
	"ecash-console/go-client/pkg/models"
)

var ErrRateLimited = errors.New("submit rate limit exceeded")

// Service is the console's local application surface: authentication, task
// tracking and the encrypted vault, composed behind one object the HTTP
// server dispatches into.
type Service struct {
	signers  *signer.Service
	store    *session.StateStore
	provider signer.Provider
	dialer   bunker.Dialer
	vault    *vault.Vault
	manager  *tasks.Manager
	registry *tasks.Registry
	hub      *tasks.Hub
	metrics  *app.Metrics
	limiter  *ratelimiter.MapLimiter
	logger   *slog.Logger
}

type ServiceDeps struct {
	Signers  *signer.Service
	Store    *session.StateStore
	Provider signer.Provider
	Dialer   bunker.Dialer
	Vault    *vault.Vault
	Manager  *tasks.Manager
	Registry *tasks.Registry
	Hub      *tasks.Hub
	Metrics  *app.Metrics
	Limiter  *ratelimiter.MapLimiter
	Logger   *slog.Logger
}

func NewService(deps ServiceDeps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = app.NewMetrics(nil)
	}
	return &Service{
		signers:  deps.Signers,
		store:    deps.Store,
		provider: deps.Provider,
		dialer:   deps.Dialer,
		vault:    deps.Vault,
		manager:  deps.Manager,
		registry: deps.Registry,
		hub:      deps.Hub,
		metrics:  deps.Metrics,
		limiter:  deps.Limiter,
		logger:   deps.Logger,
	}
}

// LoginResult reports the identity that became active. Mnemonic is set only
// when a fresh local key was generated; it is shown once and never stored in
// plain form.
type LoginResult struct {
	Identity models.Identity `json:"identity"`
	Mnemonic string          `json:"mnemonic,omitempty"`
}

// LoginLocalKey activates a local-key signer. An empty mnemonic generates a
// new identity; a provided one imports an existing identity.
func (s *Service) LoginLocalKey(_ context.Context, mnemonic string) (LoginResult, error) {
	generated := mnemonic == ""
	if generated {
		fresh, err := signer.NewMnemonic()
		if err != nil {
			return LoginResult{}, err
		}
		mnemonic = fresh
	}
	sg, err := signer.NewLocalKeySignerFromMnemonic(mnemonic)
	if err != nil {
		return LoginResult{}, err
	}
	identity, err := sg.PublicKey()
	if err != nil {
		return LoginResult{}, err
	}

	s.deactivateCurrent()
	s.signers.Activate(sg)
	if err := s.store.PersistLocalKey(identity, sg.Seed()); err != nil {
		s.logger.Warn("auth record not persisted", "error", err)
	}
	s.logger.Info("local key session started", "identity_id", identity.ID)

	result := LoginResult{Identity: identity}
	if generated {
		result.Mnemonic = mnemonic
	}
	return result, nil
}

// LoginExtension activates the injected extension bridge, when one exists.
func (s *Service) LoginExtension(context.Context) (LoginResult, error) {
	sg, err := signer.NewExtensionSigner(s.provider)
	if err != nil {
		return LoginResult{}, err
	}
	identity, err := sg.PublicKey()
	if err != nil {
		return LoginResult{}, err
	}

	s.deactivateCurrent()
	s.signers.Activate(sg)
	if err := s.store.PersistExtension(identity); err != nil {
		s.logger.Warn("auth record not persisted", "error", err)
	}
	s.logger.Info("extension session started", "identity_id", identity.ID)
	return LoginResult{Identity: identity}, nil
}

// LoginBunker pairs with a remote signer from a bunker:// connection URI.
func (s *Service) LoginBunker(ctx context.Context, rawURI string) (LoginResult, error) {
	sess, err := bunker.Connect(ctx, rawURI, s.dialer, s.logger)
	if err != nil {
		s.metrics.HandshakeAttempts.WithLabelValues("error").Inc()
		return LoginResult{}, err
	}
	identity, err := sess.PublicKey()
	if err != nil {
		s.metrics.HandshakeAttempts.WithLabelValues("error").Inc()
		_ = sess.Close()
		return LoginResult{}, fmt.Errorf("%w: %v", bunker.ErrHandshakeFailed, err)
	}
	s.metrics.HandshakeAttempts.WithLabelValues("ok").Inc()

	s.deactivateCurrent()
	s.signers.Activate(sess)
	uri := sess.URI()
	err = s.store.PersistRemote(identity, session.RemoteRecord{
		URI:             uri.String(),
		UserPublicKey:   identity.SigningPublicKey,
		RemotePublicKey: uri.RemotePublicKey,
		Relays:          uri.Relays,
		ConnectedAt:     sess.EstablishedAt(),
	})
	if err != nil {
		s.logger.Warn("auth record not persisted", "error", err)
	}
	s.logger.Info("remote signer session started", "identity_id", identity.ID)
	return LoginResult{Identity: identity}, nil
}

// Logout drops the active signer and clears the persisted record.
func (s *Service) Logout(context.Context) error {
	s.deactivateCurrent()
	if err := s.store.Clear(); err != nil {
		return err
	}
	s.logger.Info("session ended")
	return nil
}

// Whoami reports the active identity, if any.
func (s *Service) Whoami() (models.Identity, bool) {
	identity, err := s.signers.Identity()
	if err != nil {
		return models.Identity{}, false
	}
	return identity, true
}

// SubmitTask starts a backend search and begins tracking it. Submission is
// rate limited per group.
func (s *Service) SubmitTask(ctx context.Context, query, groupID string) (models.ActiveTask, error) {
	if !s.signers.Authenticated() {
		return models.ActiveTask{}, signer.ErrSignerUnavailable
	}
	if !s.limiter.Allow(groupID, time.Now()) {
		return models.ActiveTask{}, ErrRateLimited
	}
	task, err := s.manager.Submit(ctx, query, groupID)
	if err != nil {
		return models.ActiveTask{}, err
	}
	s.metrics.TasksSubmitted.Inc()
	return task, nil
}

func (s *Service) CancelTask(_ context.Context, id string) error {
	return s.manager.Cancel(id)
}

func (s *Service) ActiveTasks(context.Context) []models.ActiveTask {
	return s.registry.ListActive()
}

// SubscribeTasks attaches a reactive consumer to registry changes.
func (s *Service) SubscribeTasks(buffer int) (int, <-chan tasks.Event) {
	return s.hub.Subscribe(buffer)
}

func (s *Service) UnsubscribeTasks(id int) {
	s.hub.Unsubscribe(id)
}

// SaveRecord encrypts a finished search under the active identity and stores
// it on the backend.
func (s *Service) SaveRecord(ctx context.Context, groupID string, rec vault.SearchRecord) error {
	if err := s.vault.SaveRecord(ctx, groupID, rec); err != nil {
		s.metrics.VaultSaves.WithLabelValues("error").Inc()
		return err
	}
	s.metrics.VaultSaves.WithLabelValues("ok").Inc()
	return nil
}

func (s *Service) SavedRecords(ctx context.Context) ([]vault.SearchRecord, error) {
	return s.vault.ListRecords(ctx)
}

// deactivateCurrent swaps out the active signer, closing remote sessions so
// relay connections do not leak.
func (s *Service) deactivateCurrent() {
	prev := s.signers.Deactivate()
	if closer, ok := prev.(io.Closer); ok {
		_ = closer.Close()
	}
}

