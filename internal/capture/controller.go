package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/virsalabs/virsa-core/internal/config"
)

// Controller owns the camera stream for a scan session. It acquires the
// provider, keeps the most recent frame available as the session's video
// sink, and releases everything on Stop. Stop is idempotent and safe to
// call while Start is still in flight.
type Controller struct {
	cfg      config.CaptureConfig
	provider Provider
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	latest  *Frame
}

func NewController(cfg config.CaptureConfig, provider Provider, log *slog.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		provider: provider,
		log:      log.With(slog.String("component", "capture")),
	}
}

// Start acquires the camera stream and blocks until the first frame arrives
// or the bounded wait expires. On any failure the provider is released
// before returning.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	frames, err := c.provider.Start(runCtx)
	if err != nil {
		close(done)
		c.release(cancel, done)
		return err
	}

	firstFrame := make(chan struct{})
	go func() {
		defer close(done)
		first := true
		for frame := range frames {
			c.mu.Lock()
			f := frame
			c.latest = &f
			c.mu.Unlock()
			if first {
				first = false
				close(firstFrame)
			}
		}
	}()

	timeout := time.Duration(c.cfg.FirstFrameTimeoutMS) * time.Millisecond
	select {
	case <-firstFrame:
	case <-runCtx.Done():
		c.release(cancel, done)
		return runCtx.Err()
	case <-time.After(timeout):
		c.release(cancel, done)
		return fmt.Errorf("%w after %s", ErrFirstFrame, timeout)
	}

	c.log.Info("camera stream acquired",
		slog.Int("width", c.cfg.Width),
		slog.Int("height", c.cfg.Height),
		slog.String("facing", c.cfg.FacingMode))
	return nil
}

// LatestFrame returns the most recent frame bound to the sink.
func (c *Controller) LatestFrame() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return Frame{}, false
	}
	return *c.latest, true
}

// Stop releases the camera and clears the sink. Calling it repeatedly, or
// before Start has finished, is safe.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	c.release(cancel, done)
}

func (c *Controller) release(cancel context.CancelFunc, done chan struct{}) {
	if cancel != nil {
		cancel()
	}
	c.provider.Stop()
	if done != nil {
		<-done
	}
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.done = nil
	c.latest = nil
	c.mu.Unlock()
}
