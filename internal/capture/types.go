package capture

import (
	"context"
	"errors"
	"time"
)

// Frame is a single captured video frame.
type Frame struct {
	// Seq is the monotonic sequence number within the session.
	Seq uint64
	// Timestamp is when the frame was captured.
	Timestamp time.Time
	// Width in pixels.
	Width int
	// Height in pixels.
	Height int
	// Data holds the frame payload (RGB bytes for mock frames, whatever
	// encoding the grabber emits for exec frames).
	Data []byte
	// TraceID ties the frame into distributed traces.
	TraceID string
}

// Device error kinds. Each aborts the session start sequence; the session
// returns to idle and the failure is surfaced to the presentation layer.
var (
	ErrPermissionDenied = errors.New("capture: camera permission denied")
	ErrNotFound         = errors.New("capture: no camera device found")
	ErrBusy             = errors.New("capture: camera already in use")
	ErrUnsupported      = errors.New("capture: capture not supported on this platform")
	ErrFirstFrame       = errors.New("capture: timed out waiting for first frame")
)

// IsDeviceError reports whether err belongs to the capture failure taxonomy.
func IsDeviceError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrUnsupported) ||
		errors.Is(err, ErrFirstFrame)
}

// Provider is the contract for camera stream acquisition.
//
// Implementations must guarantee:
//   - Start returns a channel that stays open until Stop
//   - frames are delivered non-blocking; a slow consumer drops frames
//   - Stop is idempotent and safe to call mid-start
type Provider interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Stop()
}
