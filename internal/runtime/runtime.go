// Package runtime assembles the daemon: telemetry, the embedded bus, the
// heritage catalog, the capture/classifier/narration backends and the scan
// session, plus the HTTP surface that projects session state to clients.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/virsalabs/virsa-core/internal/bus"
	"github.com/virsalabs/virsa-core/internal/capture"
	"github.com/virsalabs/virsa-core/internal/catalog"
	"github.com/virsalabs/virsa-core/internal/classifier"
	"github.com/virsalabs/virsa-core/internal/config"
	"github.com/virsalabs/virsa-core/internal/journal"
	"github.com/virsalabs/virsa-core/internal/narration"
	"github.com/virsalabs/virsa-core/internal/natsserver"
	"github.com/virsalabs/virsa-core/internal/session"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	embeddedNATS   *natsserver.EmbeddedServer
	busClient      *bus.Client
	journal        *journal.Journal
	catalog        *catalog.Catalog
	sessionService *session.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every subsystem in dependency order, serves HTTP until the
// context is cancelled, then tears everything down in reverse.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embeddedNATS = embedded

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.embeddedNATS.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	jrnl, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		r.teardownBus()
		return fmt.Errorf("failed to open journal: %w", err)
	}
	r.journal = jrnl

	cat, err := catalog.Load(r.cfg.Catalog.Path)
	if err != nil {
		r.journal.Close()
		r.teardownBus()
		return fmt.Errorf("failed to load site catalog: %w", err)
	}
	r.catalog = cat
	r.logger.Info("site catalog loaded", slog.Int("sites", cat.Len()))

	sess, err := r.buildSession(ctx)
	if err != nil {
		r.journal.Close()
		r.teardownBus()
		return err
	}

	r.sessionService = session.NewService(ctx, sess, r.busClient, r.logger)
	if err := r.sessionService.Start(); err != nil {
		r.journal.Close()
		r.teardownBus()
		return fmt.Errorf("failed to start session service: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("GET /v1/session", r.handleSession)
	mux.HandleFunc("GET /v1/catalog", r.handleCatalog)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.sessionService.Close()
	r.journal.Close()
	r.teardownBus()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildSession constructs the configured backends and wires them into a
// session. Backends are created once at startup; the session acquires and
// releases them per scan.
func (r *Runtime) buildSession(ctx context.Context) (*session.Session, error) {
	var provider capture.Provider
	switch r.cfg.Capture.Mode {
	case "exec":
		execProvider, err := capture.NewExecProvider(r.cfg.Capture, r.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build capture backend: %w", err)
		}
		provider = execProvider
	default:
		provider = capture.NewMockProvider(r.cfg.Capture)
	}
	controller := capture.NewController(r.cfg.Capture, provider, r.logger)

	cls, err := classifier.New(r.cfg.Classifier, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier backend: %w", err)
	}

	synth, err := narration.NewSynth(r.cfg.Narration)
	if err != nil {
		return nil, fmt.Errorf("failed to build narration backend: %w", err)
	}
	narrator := narration.NewService(ctx, r.cfg.Narration, synth, r.busClient, r.logger)

	return session.New(r.cfg.Scan, controller, cls, narrator, r.catalog, r.journal, r.busClient, r.logger), nil
}

func (r *Runtime) teardownBus() {
	r.busClient.Close()
	r.embeddedNATS.Shutdown()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.sessionService.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, r.sessionService.Session().Snapshot(), r.logger)
}

func (r *Runtime) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"sites": r.catalog.Sites()}, r.logger)
}

func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
