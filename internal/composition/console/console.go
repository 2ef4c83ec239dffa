package console

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ecash-console/go-client/internal/api"
	"ecash-console/go-client/internal/app"
	"ecash-console/go-client/internal/backend"
	"ecash-console/go-client/internal/config"
	"ecash-console/go-client/internal/platform/ratelimiter"
	"ecash-console/go-client/internal/session"
	"ecash-console/go-client/internal/signer"
	"ecash-console/go-client/internal/signer/bunker"
	"ecash-console/go-client/internal/tasks"
	"ecash-console/go-client/internal/vault"
	"ecash-console/go-client/pkg/models"
)

// Console is the fully wired daemon: one backend client, one signer service,
// one task manager, exposed through the local HTTP server.
type Console struct {
	server   *api.Server
	restorer *session.Restorer
	manager  *tasks.Manager
	signers  *signer.Service
	hub      *tasks.Hub
	registry *tasks.Registry
	metrics  *app.Metrics
	logger   *slog.Logger
}

// Build wires the daemon from configuration. The provider is the optional
// extension bridge; pass nil when no extension host is attached.
func Build(cfg config.Config, provider signer.Provider) (*Console, error) {
	logger := app.DefaultLogger(cfg.LogLevel)

	secret, err := StoragePassphrase(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	store := &session.StateStore{}
	store.Configure(filepath.Join(cfg.DataDir, "auth.enc"), secret)

	reg := prometheus.NewRegistry()
	metrics := app.NewMetrics(reg)

	client := backend.New(cfg.BackendURL, backend.WithLogger(logger))
	hub := tasks.NewHub()
	taskRegistry := tasks.NewRegistry(hub)
	manager := tasks.NewManager(client, taskRegistry, tasks.Options{
		PollInterval: cfg.PollInterval,
		GraceDelay:   cfg.GraceDelay,
		Logger:       logger,
		OnTerminal: func(task models.ActiveTask) {
			metrics.TasksTerminal.WithLabelValues(string(task.Status)).Inc()
		},
		OnPollError: func(error) {
			metrics.PollErrors.Inc()
		},
	})

	signers := signer.NewService()
	dialer := &bunker.WebsocketDialer{HandshakeTimeout: cfg.RelayDialTimeout}
	restorer := session.NewRestorer(store, signers, provider, dialer, logger)

	svc := api.NewService(api.ServiceDeps{
		Signers:  signers,
		Store:    store,
		Provider: provider,
		Dialer:   dialer,
		Vault:    vault.New(signers, client, logger),
		Manager:  manager,
		Registry: taskRegistry,
		Hub:      hub,
		Metrics:  metrics,
		Limiter:  ratelimiter.New(1, 5, 10*time.Minute),
		Logger:   logger,
	})

	return &Console{
		server:   api.NewServer(cfg.ListenAddr, svc, reg, logger),
		restorer: restorer,
		manager:  manager,
		signers:  signers,
		hub:      hub,
		registry: taskRegistry,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

func (c *Console) Logger() *slog.Logger {
	return c.logger
}

// Run restores the previous session, re-attaches tracking to tasks the
// backend still reports, then serves until the context is cancelled.
func (c *Console) Run(ctx context.Context) error {
	defer c.closeActiveSigner()
	defer c.manager.Close()

	subID, events := c.hub.Subscribe(64)
	defer c.hub.Unsubscribe(subID)
	go func() {
		for range events {
			c.metrics.TasksActive.Set(float64(len(c.registry.ListActive())))
		}
	}()

	if c.restorer.Restore(ctx) {
		if sg, err := c.signers.Active(); err == nil {
			c.metrics.SessionRestores.WithLabelValues(string(sg.Method()), "ok").Inc()
		}
		if n, err := c.manager.RestorePending(ctx); err != nil {
			c.logger.Warn("pending task restore failed", "error", err)
		} else if n > 0 {
			c.logger.Info("task tracking restored", "count", n)
		}
	}

	return c.server.Run(ctx)
}

// closeActiveSigner shuts down a remote session's relay connections without
// clearing the persisted record, so the next start can restore it.
func (c *Console) closeActiveSigner() {
	if sg := c.signers.Deactivate(); sg != nil {
		if closer, ok := sg.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}
