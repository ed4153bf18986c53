package narration

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/virsalabs/virsa-core/internal/config"
	"github.com/virsalabs/virsa-core/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func narrationConfig() config.NarrationConfig {
	return config.NarrationConfig{
		Mode:       "mock",
		Voice:      "en-US",
		Rate:       0.9,
		Pitch:      1.0,
		SampleRate: 22050,
		Channels:   1,
	}
}

// recordingPublisher captures published messages for assertions.
type recordingPublisher struct {
	mu       sync.Mutex
	statuses []protocol.NarrationStatus
	chunks   []protocol.AudioChunk
}

func (r *recordingPublisher) Publish(subject string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch msg := v.(type) {
	case protocol.NarrationStatus:
		r.statuses = append(r.statuses, msg)
	case protocol.AudioChunk:
		r.chunks = append(r.chunks, msg)
	}
	return nil
}

func (r *recordingPublisher) audioTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var texts []string
	for _, c := range r.chunks {
		texts = append(texts, string(c.PCM))
	}
	return texts
}

func waitForIdle(t *testing.T, s *Service) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == protocol.NarrationIdle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("service never returned to idle, state=%s", s.State())
}

func TestSpeakCompletesAndReturnsToIdle(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewService(context.Background(), narrationConfig(),
		NewMockSynthWithDelay(22050, 1, 10*time.Millisecond), pub, discardLogger())
	defer s.Close()

	s.Speak("sess-1", "hello")
	if s.State() != protocol.NarrationSpeaking {
		t.Fatalf("expected speaking state after Speak, got %s", s.State())
	}
	waitForIdle(t, s)

	texts := pub.audioTexts()
	if len(texts) != 1 || texts[0] != "hello" {
		t.Fatalf("expected one audio chunk for 'hello', got %v", texts)
	}
}

func TestSpeakPreemptsPreviousUtterance(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewService(context.Background(), narrationConfig(),
		NewMockSynthWithDelay(22050, 1, 40*time.Millisecond), pub, discardLogger())
	defer s.Close()

	s.Speak("sess-1", "A")
	s.Speak("sess-1", "B")
	waitForIdle(t, s)
	// give the preempted utterance time to misbehave if it were going to
	time.Sleep(80 * time.Millisecond)

	texts := pub.audioTexts()
	if len(texts) != 1 || texts[0] != "B" {
		t.Fatalf("expected only B to complete audibly, got %v", texts)
	}
	if s.State() != protocol.NarrationIdle {
		t.Fatalf("expected idle after B, got %s", s.State())
	}
}

func TestStopCancelsActiveUtterance(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewService(context.Background(), narrationConfig(),
		NewMockSynthWithDelay(22050, 1, 200*time.Millisecond), pub, discardLogger())
	defer s.Close()

	s.Speak("sess-1", "long narration")
	s.Stop()
	if s.State() != protocol.NarrationIdle {
		t.Fatalf("expected idle immediately after stop, got %s", s.State())
	}
	time.Sleep(250 * time.Millisecond)
	if texts := pub.audioTexts(); len(texts) != 0 {
		t.Fatalf("expected no audio after stop, got %v", texts)
	}
}

func TestStopIdempotent(t *testing.T) {
	s := NewService(context.Background(), narrationConfig(),
		NewMockSynth(22050, 1), nil, discardLogger())
	defer s.Close()

	s.Stop()
	s.Stop()
	if s.State() != protocol.NarrationIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
}

func TestSpeakUnsupportedIsNoOp(t *testing.T) {
	cfg := narrationConfig()
	cfg.Mode = "off"
	s := NewService(context.Background(), cfg, nil, nil, discardLogger())
	defer s.Close()

	if s.Supported() {
		t.Fatal("expected Supported() == false for mode off")
	}
	s.Speak("sess-1", "silent")
	if s.State() != protocol.NarrationIdle {
		t.Fatalf("expected idle after unsupported speak, got %s", s.State())
	}
}

func TestNewSynthModes(t *testing.T) {
	if synth, err := NewSynth(config.NarrationConfig{Mode: "off"}); err != nil || synth != nil {
		t.Fatalf("expected nil synth for off, got %v %v", synth, err)
	}
	if synth, err := NewSynth(narrationConfig()); err != nil || synth == nil {
		t.Fatalf("expected mock synth, got %v %v", synth, err)
	}
	if _, err := NewSynth(config.NarrationConfig{Mode: "bogus"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
