// Package app assembles the bridge from its parts.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sebas/voicebridge/internal/bridge/api"
	"github.com/sebas/voicebridge/internal/bridge/config"
	"github.com/sebas/voicebridge/internal/bridge/control"
	"github.com/sebas/voicebridge/internal/bridge/directory"
	"github.com/sebas/voicebridge/internal/bridge/events"
	"github.com/sebas/voicebridge/internal/bridge/orchestrator"
	"github.com/sebas/voicebridge/internal/bridge/session"
	"github.com/sebas/voicebridge/internal/bridge/telemetry"
	"github.com/sebas/voicebridge/internal/bridge/transfer"
)

const shutdownTimeout = 5 * time.Second

// Bridge owns every long-lived component.
type Bridge struct {
	config       *config.Config
	directory    *directory.Directory
	registry     *session.Registry
	publisher    events.Publisher
	metrics      *telemetry.Metrics
	orchestrator *orchestrator.Orchestrator
	transfer     *transfer.Handler
	apiServer    *api.Server
	health       *api.HealthServer

	cancel context.CancelFunc
}

// Option customises New.
type Option func(*options)

type options struct {
	publishers []events.Publisher
}

// WithPublisher adds an audit event sink alongside the logging publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publishers = append(o.publishers, p) }
}

// New builds the bridge. cfg must already be validated.
func New(cfg *config.Config, opts ...Option) (*Bridge, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dir := directory.Default()
	if cfg.DirectoryPath != "" {
		d, err := directory.Load(cfg.DirectoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load directory: %w", err)
		}
		dir = d
	} else {
		slog.Info("[App] Using built-in destination directory", "count", dir.Len())
	}
	slog.Debug("[App] Transfer targets", "keys", dir.Keys())

	metrics, err := telemetry.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	var publisher events.Publisher = events.NewLoggingPublisher(slog.Default())
	if len(o.publishers) > 0 {
		publisher = events.NewMultiPublisher(append([]events.Publisher{publisher}, o.publishers...)...)
	}

	registry := session.NewRegistry(cfg.TombstoneTTL)
	orch := orchestrator.New(orchestrator.ConfigFrom(cfg), registry, publisher, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	controlServer := control.NewServer(ctx, orch)

	transferHandler := transfer.NewHandler(transfer.NewVerifier(cfg.SignatureSecret), registry, dir, transfer.Options{
		SignatureHeader: cfg.SignatureHeader,
		RateLimit:       cfg.TransferRateLimit,
		RateBurst:       cfg.TransferRateBurst,
		Metrics:         metrics,
	})

	apiServer := api.NewServer(api.Options{
		Addr:         cfg.HTTPAddr,
		ControlPath:  cfg.ControlPath,
		Control:      controlServer,
		Transfer:     transferHandler,
		Sessions:     registry,
		Directory:    dir,
		CallbackBase: cfg.BaseCallbackURL,
	})

	var health *api.HealthServer
	if cfg.GRPCHealthAddr != "" {
		health = api.NewHealthServer(cfg.GRPCHealthAddr)
	}

	return &Bridge{
		config:       cfg,
		directory:    dir,
		registry:     registry,
		publisher:    publisher,
		metrics:      metrics,
		orchestrator: orch,
		transfer:     transferHandler,
		apiServer:    apiServer,
		health:       health,
		cancel:       cancel,
	}, nil
}

// Handler returns the HTTP handler serving every bridge route.
func (b *Bridge) Handler() http.Handler {
	return b.apiServer.Handler()
}

// Registry exposes the live-session registry.
func (b *Bridge) Registry() *session.Registry {
	return b.registry
}

// Start binds the listeners and returns once they are serving.
func (b *Bridge) Start() error {
	if err := b.apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if b.health != nil {
		if err := b.health.Start(); err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = b.apiServer.Stop(shutdownCtx)
			return fmt.Errorf("failed to start health server: %w", err)
		}
	}

	slog.Info("[App] Bridge ready",
		"http", b.apiServer.Addr(),
		"control_path", b.config.ControlPath,
		"destinations", b.directory.Len(),
	)
	return nil
}

// Addr returns the HTTP listen address.
func (b *Bridge) Addr() string {
	return b.apiServer.Addr()
}

// Close ends every live session, then stops the listeners.
func (b *Bridge) Close() error {
	if b.health != nil {
		b.health.Drain()
	}

	active := b.registry.Len()
	b.cancel()
	b.orchestrator.Shutdown()
	slog.Info("[App] Sessions closed", "count", active)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := b.apiServer.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("stop HTTP server: %w", err))
	}
	if b.health != nil {
		b.health.Stop()
	}
	b.registry.Close()
	if err := b.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	return errors.Join(errs...)
}
