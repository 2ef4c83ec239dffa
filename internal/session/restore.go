package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"ecash-console/go-client/internal/signer"
	"ecash-console/go-client/internal/signer/bunker"
	"ecash-console/go-client/pkg/models"
)

var ErrIdentityMismatch = errors.New("restored signer reports a different identity")

// Restorer rebuilds the active signer from the persisted auth record. It runs
// exactly once per process; every failure path lands in a clean logged-out
// state rather than an error the caller must handle.
type Restorer struct {
	store    *StateStore
	signers  *signer.Service
	provider signer.Provider
	dialer   bunker.Dialer
	logger   *slog.Logger

	once     sync.Once
	restored bool
}

func NewRestorer(store *StateStore, signers *signer.Service, provider signer.Provider, dialer bunker.Dialer, logger *slog.Logger) *Restorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Restorer{
		store:    store,
		signers:  signers,
		provider: provider,
		dialer:   dialer,
		logger:   logger,
	}
}

// Restore reports whether a signer was reattached. Idempotent: a second call
// returns the first result without touching storage or the network.
func (r *Restorer) Restore(ctx context.Context) bool {
	r.once.Do(func() {
		if r.signers.Authenticated() {
			r.restored = true
			return
		}
		r.restored = r.restore(ctx)
	})
	return r.restored
}

func (r *Restorer) restore(ctx context.Context) bool {
	rec, ok, err := r.store.Load()
	if err != nil {
		r.logger.Warn("auth record unreadable, clearing", "error", err)
		_ = r.store.Clear()
		return false
	}
	if !ok {
		return false
	}

	switch rec.Method {
	case models.AuthMethodLocalKey:
		return r.restoreLocalKey(rec)
	case models.AuthMethodExtension:
		return r.restoreExtension(rec)
	case models.AuthMethodRemote:
		return r.restoreRemote(ctx, rec)
	default:
		_ = r.store.Clear()
		return false
	}
}

func (r *Restorer) restoreLocalKey(rec Record) bool {
	if len(rec.LocalSeed) == 0 {
		r.logger.Warn("local-key record has no key material, clearing")
		_ = r.store.Clear()
		return false
	}
	sg, err := signer.NewLocalKeySigner(rec.LocalSeed)
	if err != nil {
		r.logger.Warn("local-key restore failed, clearing", "error", err)
		_ = r.store.Clear()
		return false
	}
	identity, _ := sg.PublicKey()
	if identity.ID != rec.Identity.ID {
		r.logger.Warn("local-key restore rejected", "error", ErrIdentityMismatch)
		_ = r.store.Clear()
		return false
	}
	r.signers.Activate(sg)
	r.logger.Info("session restored", "method", rec.Method)
	return true
}

func (r *Restorer) restoreExtension(rec Record) bool {
	// A missing provider is a logged-out state for this run; the record is
	// kept so the session resumes once the extension is present again.
	if r.provider == nil {
		r.logger.Info("extension provider absent, staying logged out")
		return false
	}
	sg, err := signer.NewExtensionSigner(r.provider)
	if err != nil {
		return false
	}
	identity, err := sg.PublicKey()
	if err != nil {
		r.logger.Warn("extension provider unreachable, staying logged out", "error", err)
		return false
	}
	if identity.ID != rec.Identity.ID {
		r.logger.Warn("extension restore rejected, clearing", "error", ErrIdentityMismatch)
		_ = r.store.Clear()
		return false
	}
	r.signers.Activate(sg)
	r.logger.Info("session restored", "method", rec.Method)
	return true
}

func (r *Restorer) restoreRemote(ctx context.Context, rec Record) bool {
	if rec.Remote == nil || rec.Remote.URI == "" {
		_ = r.store.Clear()
		return false
	}
	sess, err := bunker.Connect(ctx, rec.Remote.URI, r.dialer, r.logger)
	if err != nil {
		// No retry loop: a failed reconnect clears the record.
		r.logger.Warn("remote signer restore failed, clearing", "error", err)
		_ = r.store.Clear()
		return false
	}
	identity, err := sess.PublicKey()
	if err != nil || identity.ID != rec.Identity.ID {
		_ = sess.Close()
		r.logger.Warn("remote signer restore rejected, clearing", "error", ErrIdentityMismatch)
		_ = r.store.Clear()
		return false
	}
	r.signers.Activate(sess)
	r.logger.Info("session restored", "method", rec.Method)
	return true
}
