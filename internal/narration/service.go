package narration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/virsalabs/virsa-core/internal/config"
	"github.com/virsalabs/virsa-core/internal/protocol"
)

const utteranceTimeout = 45 * time.Second

// Publisher is the slice of the bus the service needs. It is optional; a
// nil publisher keeps the service fully functional for callers that only
// observe state through State().
type Publisher interface {
	Publish(subject string, v any) error
}

// Service owns the speech channel for the runtime. At most one utterance is
// active system-wide: Speak always preempts the previous utterance, Stop
// cancels immediately. When the platform carries no synthesizer the service
// degrades to a no-op and reports Supported() == false.
type Service struct {
	cfg   config.NarrationConfig
	synth Synthesizer
	pub   Publisher
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      protocol.NarrationState
	generation uint64
	active     context.CancelFunc
}

// NewService builds the narration service around the configured synthesizer
// backend. synth may be nil (narration mode "off").
func NewService(parent context.Context, cfg config.NarrationConfig, synth Synthesizer, pub Publisher, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		synth:  synth,
		pub:    pub,
		log:    log.With(slog.String("component", "narration")),
		ctx:    ctx,
		cancel: cancel,
		state:  protocol.NarrationIdle,
	}
}

// NewSynth builds the configured synthesizer backend; nil for mode "off".
func NewSynth(cfg config.NarrationConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "off":
		return nil, nil
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unsupported narration mode %q", cfg.Mode)
	}
}

// Supported reports whether speech synthesis is available.
func (s *Service) Supported() bool { return s.synth != nil }

// State returns the current narration state.
func (s *Service) State() protocol.NarrationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Speak cancels any playing utterance and starts narrating text. On a
// platform without speech capability this is a logged no-op.
func (s *Service) Speak(sessionID, text string) {
	if !s.Supported() {
		s.log.Warn("speech synthesis unavailable, narration skipped")
		return
	}
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.active != nil {
		s.active()
	}
	s.generation++
	gen := s.generation
	uttCtx, cancelUtt := context.WithTimeout(s.ctx, utteranceTimeout)
	s.active = cancelUtt
	s.setStateLocked(sessionID, protocol.NarrationSpeaking)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancelUtt()
		s.narrate(uttCtx, gen, sessionID, text)
	}()
}

// Stop cancels any active utterance immediately. Safe to call repeatedly.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active()
		s.active = nil
	}
	s.generation++
	if s.state != protocol.NarrationIdle {
		s.setStateLocked("", protocol.NarrationIdle)
	}
}

// Close stops narration and waits for utterance goroutines to finish.
func (s *Service) Close() {
	s.Stop()
	s.cancel()
	s.wg.Wait()
}

func (s *Service) narrate(ctx context.Context, gen uint64, sessionID, text string) {
	chunks, errs := s.synth.Synthesize(ctx, SynthRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     s.cfg.Voice,
		Rate:      s.cfg.Rate,
		Pitch:     s.cfg.Pitch,
	})

	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if s.currentGeneration() != gen {
				// preempted mid-stream, drop the stale audio
				continue
			}
			s.publishChunk(chunk)
		case err, ok := <-errs:
			if ok && err != nil && ctx.Err() == nil {
				s.log.Warn("narration synthesis error", slog.String("error", err.Error()))
			}
			errs = nil
		case <-ctx.Done():
			s.finish(gen, sessionID)
			return
		}
	}
	s.finish(gen, sessionID)
}

// finish flips the service back to idle, unless a newer utterance has
// already taken over the speech channel.
func (s *Service) finish(gen uint64, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.active = nil
	if s.state != protocol.NarrationIdle {
		s.setStateLocked(sessionID, protocol.NarrationIdle)
	}
}

func (s *Service) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Service) setStateLocked(sessionID string, state protocol.NarrationState) {
	s.state = state
	if s.pub == nil {
		return
	}
	status := protocol.NarrationStatus{
		SessionID: sessionID,
		State:     state,
		Timestamp: time.Now().UTC(),
	}
	if err := s.pub.Publish(protocol.SubjectNarrationState, status); err != nil {
		s.log.Warn("failed to publish narration state", slog.String("error", err.Error()))
	}
}

func (s *Service) publishChunk(chunk SynthChunk) {
	if s.pub == nil {
		return
	}
	packet := protocol.AudioChunk{
		SessionID:  chunk.SessionID,
		Sequence:   chunk.Sequence,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	}
	if err := s.pub.Publish(protocol.SubjectNarrationAudio, packet); err != nil {
		s.log.Warn("failed to publish narration audio", slog.String("error", err.Error()))
	}
}
