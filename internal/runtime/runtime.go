package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-tts/internal/api"
	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/capability"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/journal"
	"github.com/loqalabs/loqa-tts/internal/natsserver"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"github.com/loqalabs/loqa-tts/internal/voices"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const retentionInterval = time.Hour

type Runtime struct {
	cfg        config.Config
	version    string
	logger     *slog.Logger
	httpServer *http.Server
	orch       *tts.Orchestrator
	started    atomic.Bool
	wg         sync.WaitGroup
	closers    []func()
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start brings up every subsystem and blocks until ctx ends.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.closeAll()

	for _, w := range r.cfg.Warnings() {
		r.logger.Warn("configuration warning", slog.String("detail", w))
	}

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.onClose(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	})

	store, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	r.onClose(func() { _ = store.Close() })
	r.goRun(func() { store.RunRetention(ctx, retentionInterval) })

	eng, err := engine.New(r.cfg.Engine)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if closer, ok := eng.(io.Closer); ok {
		r.onClose(func() {
			if err := closer.Close(); err != nil {
				r.logger.Warn("engine close error", slog.String("error", err.Error()))
			}
		})
	}
	r.orch = tts.NewOrchestrator(eng, nil, time.Duration(r.cfg.Engine.LoadTimeoutMS)*time.Millisecond, r.logger)

	observers := []tts.Observer{tts.JournalObserver(store, r.logger)}

	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		busClient, err = r.connectBus(ctx)
		if err != nil {
			return err
		}
		observers = append(observers, tts.EventPublisher(busClient, r.cfg.Node.ID, r.logger))
	}

	pipeline := tts.NewPipeline(r.orch, r.cfg.Synthesis, r.logger, observers...)
	catalog := voices.New(r.cfg.Voices)

	opts := api.Options{
		Journal:     store,
		CORSOrigins: r.cfg.HTTP.CORSOrigins,
		Version:     r.version,
	}
	if rps := r.cfg.Synthesis.RateLimitRPS; rps > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(rps), max(r.cfg.Synthesis.RateLimitBurst, 1))
	}

	if busClient != nil {
		svc := tts.NewService(ctx, busClient, pipeline, r.writeTimeout(), r.logger)
		if err := svc.Start(); err != nil {
			return fmt.Errorf("failed to start bus synthesis service: %w", err)
		}
		r.onClose(svc.Close)

		caps := []capability.Capability{capability.SynthesisCapability(eng.Name(), audio.SampleRate, catalog.Len())}
		registry, err := capability.NewRegistry(ctx, r.cfg.Node, busClient, caps, r.orch.Loaded, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start capability registry: %w", err)
		}
		r.onClose(registry.Close)
		opts.Nodes = registry
	}

	router := api.New(pipeline, catalog, opts, r.logger).Routes()
	router.Get("/healthz", r.handleHealth)
	router.Get("/readyz", r.handleReady)
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(router, r.cfg.RuntimeName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(r.cfg.HTTP.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      r.writeTimeout(),
	}

	serveErr := make(chan error, 1)
	r.goRun(func() {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			serveErr <- err
		}
	})

	// The load is shared with requests and outlives ctx, so it is not
	// waited for on shutdown.
	if r.cfg.Engine.Preload {
		go func() {
			if err := r.orch.Preload(ctx); err != nil {
				r.logger.Warn("engine preload failed, will retry on first request", slog.String("error", err.Error()))
			}
		}()
	}

	r.started.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine", eng.Name()),
		slog.Bool("bus", busClient != nil))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	r.logger.Info("runtime stopping")
	r.started.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	cancel()
	r.wg.Wait()

	return runErr
}

// connectBus starts the embedded server when configured and dials the bus.
func (r *Runtime) connectBus(ctx context.Context) (*bus.Client, error) {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	if embedded != nil {
		r.onClose(embedded.Shutdown)
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName+"-"+r.cfg.Node.ID, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.onClose(client.Close)
	return client, nil
}

func (r *Runtime) writeTimeout() time.Duration {
	return time.Duration(r.cfg.HTTP.WriteTimeoutMS) * time.Millisecond
}

func (r *Runtime) goRun(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// onClose registers cleanup; closers run in reverse order.
func (r *Runtime) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

func (r *Runtime) closeAll() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports ready once the server runs and the model is loaded.
func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.started.Load() && r.orch != nil && r.orch.Loaded() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
