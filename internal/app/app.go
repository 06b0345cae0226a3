package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"licensor/internal/config"
	"licensor/internal/infrastructure"
	"licensor/internal/license"
	handlers "licensor/internal/transport/http"
	ws "licensor/internal/websocket"
)

// subscriberBuffer sizes the channel bridging status changes to the hub
const subscriberBuffer = 16

// Application runs the license manager behind the loopback host API
type Application struct {
	*Core

	Router        chi.Router
	Server        *http.Server
	WebSocketHub  *ws.Hub
	OTelProviders *infrastructure.OTelProviders

	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group
	running  context.Context
	stopOnce sync.Once
}

// NewApplication creates a new application instance with dependency injection
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...CoreOption) (*Application, error) {
	logger.InfoContext(ctx, "application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("listen_addr", cfg.Server.ListenAddr))

	otelConfig := infrastructure.DefaultOTelConfig()
	otelConfig.EnableMetrics = cfg.Server.EnableMetrics
	otelConfig.EnableTracing = cfg.Server.EnableTracing
	otelProviders, err := infrastructure.InitializeOTel(otelConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	coreOpts := append([]CoreOption(nil), opts...)
	if otelProviders.Meter != nil {
		metrics, err := license.InitializeLicenseMetrics(otelProviders.Meter)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize license metrics: %w", err)
		}
		coreOpts = append(coreOpts, WithMetrics(metrics))
	}

	core, err := NewCore(ctx, cfg, logger, coreOpts...)
	if err != nil {
		_ = otelProviders.Shutdown(ctx)
		return nil, err
	}

	wsMetrics, err := ws.NewOTelMetrics()
	if err != nil {
		logger.WarnContext(ctx, "websocket metrics unavailable", slog.String("error", err.Error()))
	}

	a := &Application{
		Core:          core,
		WebSocketHub:  ws.NewHub(logger, wsMetrics),
		OTelProviders: otelProviders,
	}
	a.setupRouter()
	a.createServer()

	return a, nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	deps := handlers.RouterDeps{
		License: a.Manager,
		Hub:     a.WebSocketHub,
		Health:  a.Health.HTTPHandler(),
		Timeout: a.Config.Server.ReadTimeout,
		Logger:  a.Logger,
	}
	if a.Events != nil {
		deps.Telemetry = a.Events
	}
	if a.OTelProviders != nil && a.OTelProviders.PrometheusHTTP != nil {
		deps.Metrics = a.OTelProviders.PrometheusHTTP
	}
	a.Router = handlers.NewRouter(deps)
}

// createServer creates the HTTP server. WriteTimeout stays zero so the
// websocket stream is not cut; handlers are bounded by the timeout
// middleware instead.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:              a.Config.Server.ListenAddr,
		Handler:           a.Router,
		ReadHeaderTimeout: a.Config.Server.ReadTimeout,
		ReadTimeout:       a.Config.Server.ReadTimeout,
		IdleTimeout:       2 * a.Config.Server.ReadTimeout,
	}
}

// Start binds the listener and launches the validation loop, the storage
// watcher, the status bridge and the server. It returns once listening.
func (a *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Config.Server.ListenAddr, err)
	}
	a.listener = ln

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	a.group = g
	a.running = gctx

	a.WebSocketHub.Start()

	changes, unsubscribe := a.Manager.Subscribe(subscriberBuffer)
	g.Go(func() error {
		defer unsubscribe()
		handlers.ForwardChanges(gctx, changes, a.WebSocketHub)
		return nil
	})

	g.Go(func() error {
		return ignoreCanceled(a.Manager.Run(gctx, a.Config.License.ValidationInterval))
	})

	if a.OTelProviders != nil && a.OTelProviders.Meter != nil {
		collector, err := infrastructure.NewProcessMetricsCollector(a.OTelProviders.Meter, infrastructure.DefaultProcessMetricsInterval)
		if err != nil {
			a.Logger.WarnContext(ctx, "process metrics unavailable", slog.String("error", err.Error()))
		} else {
			g.Go(func() error {
				_ = collector.Run(gctx)
				return nil
			})
		}
	}

	if a.Config.License.WatchStorage {
		paths := a.Store.FilePaths()
		g.Go(func() error {
			if err := a.Manager.Watch(gctx, paths, license.DefaultWatchDebounce); err != nil && !errors.Is(err, context.Canceled) {
				// Periodic validation still covers external edits
				a.Logger.WarnContext(gctx, "storage watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", "http://"+ln.Addr().String()),
		slog.String("license_status", string(a.Manager.Status())))
	return nil
}

// Addr returns the bound listen address, once started
func (a *Application) Addr() string {
	if a.listener == nil {
		return a.Config.Server.ListenAddr
	}
	return a.listener.Addr().String()
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	var stopErr error
	a.stopOnce.Do(func() {
		a.Logger.InfoContext(ctx, "shutting down application")

		shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
		a.WebSocketHub.Stop()

		if a.cancel != nil {
			a.cancel()
		}
		if a.group != nil {
			if err := a.group.Wait(); err != nil {
				errs = append(errs, err)
			}
		}

		if err := a.Core.Close(); err != nil {
			errs = append(errs, err)
		}
		if a.OTelProviders != nil {
			if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
				a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry", slog.String("error", err.Error()))
			}
		}

		stopErr = errors.Join(errs...)
		a.Logger.InfoContext(ctx, "application shutdown complete")
	})
	return stopErr
}

// Run runs the application until interrupted or ctx is done
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}

	select {
	case <-ctx.Done():
		a.Logger.Info("received shutdown signal")
	case <-a.running.Done():
		a.Logger.Error("background task failed, shutting down")
	}

	return a.Stop(context.Background())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
