// Package session implements the scan lifecycle: a session owns the camera
// stream, the loaded model, the poll ticker and the recognized result, and
// walks Idle -> Loading -> Scanning -> Recognized. Recognized is terminal
// until an explicit Stop resets everything.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/virsalabs/virsa-core/internal/capture"
	"github.com/virsalabs/virsa-core/internal/catalog"
	"github.com/virsalabs/virsa-core/internal/classifier"
	"github.com/virsalabs/virsa-core/internal/config"
	"github.com/virsalabs/virsa-core/internal/journal"
	"github.com/virsalabs/virsa-core/internal/narration"
	"github.com/virsalabs/virsa-core/internal/protocol"
)

// ErrSessionActive is returned by Start while a session is already running.
var ErrSessionActive = errors.New("session: already active")

// Publisher is the slice of the bus the session needs; nil disables
// broadcasting without affecting the state machine.
type Publisher interface {
	Publish(subject string, v any) error
}

// Snapshot is the read-only projection handed to presentation surfaces.
type Snapshot struct {
	SessionID       string                  `json:"session_id"`
	State           protocol.SessionState   `json:"state"`
	Site            *catalog.SiteRecord     `json:"site,omitempty"`
	Confidence      float64                 `json:"confidence,omitempty"`
	Narration       protocol.NarrationState `json:"narration"`
	SpeechSupported bool                    `json:"speech_supported"`
}

// Session glues the capture controller, classifier and narration service
// together. All camera/model/ticker state lives here, created on Start and
// destroyed on Stop; nothing is shared process-wide.
type Session struct {
	cfg        config.ScanConfig
	capture    *capture.Controller
	classifier classifier.Classifier
	narrator   *narration.Service
	catalog    *catalog.Catalog
	journal    *journal.Journal
	pub        Publisher
	log        *slog.Logger
	metrics    *sessionMetrics
	tracer     trace.Tracer

	mu         sync.Mutex
	id         string
	state      protocol.SessionState
	site       *catalog.SiteRecord
	confidence float64
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func New(cfg config.ScanConfig, cap *capture.Controller, cls classifier.Classifier,
	nar *narration.Service, cat *catalog.Catalog, jrnl *journal.Journal,
	pub Publisher, log *slog.Logger) *Session {

	metrics, err := newSessionMetrics()
	if err != nil {
		log.Warn("session metrics unavailable", slog.String("error", err.Error()))
	}
	return &Session{
		cfg:        cfg,
		capture:    cap,
		classifier: cls,
		narrator:   nar,
		catalog:    cat,
		journal:    jrnl,
		pub:        pub,
		log:        log.With(slog.String("component", "session")),
		metrics:    metrics,
		tracer:     otel.Tracer("virsa/session"),
		state:      protocol.StateIdle,
	}
}

// Start acquires the camera and loads the model, then begins polling. A
// device or model failure tears down whatever was acquired and leaves the
// session Idle with the error broadcast to the presentation layer.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != protocol.StateIdle {
		s.mu.Unlock()
		return ErrSessionActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.id = uuid.NewString()
	s.setStateLocked(protocol.StateLoading, "")
	s.mu.Unlock()

	if err := s.capture.Start(runCtx); err != nil {
		s.abortStart(err)
		return err
	}
	if err := s.classifier.Load(runCtx); err != nil {
		s.capture.Stop()
		s.abortStart(err)
		return err
	}

	s.mu.Lock()
	if runCtx.Err() != nil {
		s.mu.Unlock()
		s.capture.Stop()
		s.abortStart(runCtx.Err())
		return runCtx.Err()
	}
	s.setStateLocked(protocol.StateScanning, "")
	s.mu.Unlock()
	s.journalEvent(journal.EventStateChange, "", 0, string(protocol.StateScanning))
	s.log.Info("scanning started",
		slog.String("session_id", s.ID()),
		slog.Int("interval_ms", s.cfg.IntervalMS),
		slog.Float64("threshold", s.cfg.Threshold))

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop cancels polling, releases the camera, cancels narration and clears
// the recognized record. Safe to call repeatedly and mid-start.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.capture.Stop()
	s.narrator.Stop()
	s.classifier.Close()

	s.mu.Lock()
	s.site = nil
	s.confidence = 0
	if s.state != protocol.StateIdle {
		s.setStateLocked(protocol.StateIdle, "")
	}
	s.mu.Unlock()
}

// ID returns the current session identifier, empty while idle.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() protocol.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the read-only projection for rendering.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:       s.id,
		State:           s.state,
		Site:            s.site,
		Confidence:      s.confidence,
		Narration:       s.narrator.State(),
		SpeechSupported: s.narrator.Supported(),
	}
}

func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()

	// classification runs inline on this goroutine, so ticks are strictly
	// sequential; a tick that outlasts the interval makes the ticker drop
	// the overdue ticks instead of stacking them
	ticker := time.NewTicker(time.Duration(s.cfg.IntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.tick(ctx) {
				return
			}
		}
	}
}

// tick runs one poll cycle and reports whether scanning should halt.
func (s *Session) tick(ctx context.Context) bool {
	ctx, span := s.tracer.Start(ctx, "scan.tick")
	defer span.End()
	s.metrics.addTick(ctx)

	frame, ok := s.capture.LatestFrame()
	if !ok {
		return false
	}

	start := time.Now()
	predictions, err := s.classifier.Classify(ctx, frame)
	s.metrics.recordClassifyDuration(ctx, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			// session stopped mid-classification, result is discarded
			return false
		}
		s.metrics.addClassifyError(ctx)
		s.log.Warn("classification failed, continuing scan", slog.String("error", err.Error()))
		return false
	}

	top, ok := classifier.Top(predictions)
	if !ok {
		return false
	}
	span.SetAttributes(
		attribute.String("scan.top_label", top.Label),
		attribute.Float64("scan.top_probability", top.Probability),
	)
	if top.Probability <= s.cfg.Threshold {
		return false
	}

	site, ok := s.catalog.Resolve(top.Label)
	if !ok {
		s.log.Debug("confident label not in catalog",
			slog.String("label", top.Label),
			slog.Float64("probability", top.Probability))
		return false
	}

	s.mu.Lock()
	if s.state != protocol.StateScanning {
		s.mu.Unlock()
		return true
	}
	s.site = site
	s.confidence = top.Probability
	s.setStateLocked(protocol.StateRecognized, "")
	id := s.id
	s.mu.Unlock()

	s.metrics.addRecognition(ctx)
	s.journalEvent(journal.EventRecognized, string(site.ID), top.Probability, site.Name)
	s.log.Info("site recognized",
		slog.String("session_id", id),
		slog.String("site", string(site.ID)),
		slog.Float64("confidence", top.Probability))

	if s.pub != nil {
		rec := protocol.Recognition{
			SessionID:  id,
			SiteID:     string(site.ID),
			SiteName:   site.Name,
			Confidence: top.Probability,
			Timestamp:  time.Now().UTC(),
		}
		if err := s.pub.Publish(protocol.SubjectRecognized, rec); err != nil {
			s.log.Warn("failed to publish recognition", slog.String("error", err.Error()))
		}
	}

	s.narrator.Speak(id, site.Narration)
	s.journalEvent(journal.EventNarration, string(site.ID), top.Probability, "")
	return true
}

func (s *Session) abortStart(cause error) {
	s.mu.Lock()
	s.cancel = nil
	s.setStateLocked(protocol.StateIdle, cause.Error())
	id := s.id
	s.mu.Unlock()
	s.journalEvent(journal.EventError, "", 0, cause.Error())
	s.log.Error("session start failed",
		slog.String("session_id", id),
		slog.String("error", cause.Error()))
}

// setStateLocked transitions state and broadcasts the update. Callers hold mu.
func (s *Session) setStateLocked(state protocol.SessionState, errMsg string) {
	s.state = state
	if s.pub == nil {
		return
	}
	update := protocol.StateUpdate{
		SessionID: s.id,
		State:     state,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
	if err := s.pub.Publish(protocol.SubjectScanState, update); err != nil {
		s.log.Warn("failed to publish state update", slog.String("error", err.Error()))
	}
}

func (s *Session) journalEvent(eventType, siteID string, confidence float64, detail string) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	entry := journal.Entry{
		SessionID:  s.ID(),
		Type:       eventType,
		SiteID:     siteID,
		Confidence: confidence,
		Detail:     detail,
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		s.log.Warn("failed to journal event", slog.String("error", err.Error()))
	}
}
