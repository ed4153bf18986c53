package capture

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/virsalabs/virsa-core/internal/config"
)

// mockProvider emits synthetic frames at the configured rate. It stands in
// for a real camera in development and tests.
type mockProvider struct {
	cfg    config.CaptureConfig
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMockProvider(cfg config.CaptureConfig) Provider {
	return &mockProvider{cfg: cfg}
}

func (m *mockProvider) Start(ctx context.Context) (<-chan Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil, ErrBusy
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	interval := time.Second / 15
	if m.cfg.TargetFPS > 0 {
		interval = time.Duration(float64(time.Second) / m.cfg.TargetFPS)
	}

	frames := make(chan Frame, 1)
	go func() {
		defer close(m.done)
		defer close(frames)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var seq uint64
		payload := make([]byte, m.cfg.Width*m.cfg.Height*3)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				seq++
				frame := Frame{
					Seq:       seq,
					Timestamp: time.Now(),
					Width:     m.cfg.Width,
					Height:    m.cfg.Height,
					Data:      payload,
					TraceID:   uuid.NewString(),
				}
				select {
				case frames <- frame:
				default:
					// consumer is behind, drop the frame
				}
			}
		}
	}()
	return frames, nil
}

func (m *mockProvider) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
