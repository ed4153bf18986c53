// Package classifier adapts a pre-trained scene classification model behind
// a small contract: load the model once per session, then classify frames
// on demand. Backends are selected by config the same way the narration
// synthesizers are (mock, exec, remote).
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/virsalabs/virsa-core/internal/capture"
	"github.com/virsalabs/virsa-core/internal/config"
)

// Prediction is one ranked label with its confidence score. Probabilities
// are comparable within a single Classify call but need not sum to 1.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Classifier is the contract for scene classification backends.
//
// Load runs once per session and is fatal to the start sequence when it
// fails. Classify is called once per scan tick; its failures are transient
// and the scan loop continues past them.
type Classifier interface {
	Load(ctx context.Context) error
	Classify(ctx context.Context, frame capture.Frame) ([]Prediction, error)
	Close()
}

// LoadError wraps a failure to fetch or initialize the model.
type LoadError struct {
	URL string
	Err error
}

func (e *LoadError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("classifier: load model from %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("classifier: load model: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ClassifyError wraps a transient per-tick classification failure.
type ClassifyError struct {
	Err error
}

func (e *ClassifyError) Error() string { return fmt.Sprintf("classifier: classify: %v", e.Err) }
func (e *ClassifyError) Unwrap() error { return e.Err }

// IsLoadError reports whether err is fatal to the session start sequence.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// New builds the configured classifier backend.
func New(cfg config.ClassifierConfig, log *slog.Logger) (Classifier, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(), nil
	case "exec":
		return newExecClassifier(cfg, log)
	case "remote":
		return newRemoteClassifier(cfg, log), nil
	default:
		return nil, fmt.Errorf("unsupported classifier mode %q", cfg.Mode)
	}
}

// filterPredictions drops predictions whose label is not in the model's
// metadata label set. A backend that answers with labels the model never
// declared is misbehaving; those entries must not reach the scan loop.
func filterPredictions(predictions []Prediction, labels []string) []Prediction {
	if len(labels) == 0 {
		return predictions
	}
	known := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		known[l] = struct{}{}
	}
	kept := predictions[:0]
	for _, p := range predictions {
		if _, ok := known[p.Label]; ok {
			kept = append(kept, p)
		}
	}
	return kept
}

// Top returns the single highest-probability prediction; the first
// encountered wins ties so the selection is deterministic.
func Top(predictions []Prediction) (Prediction, bool) {
	if len(predictions) == 0 {
		return Prediction{}, false
	}
	best := predictions[0]
	for _, p := range predictions[1:] {
		if p.Probability > best.Probability {
			best = p
		}
	}
	return best, true
}
