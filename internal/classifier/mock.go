package classifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/virsalabs/virsa-core/internal/capture"
)

// Mock is a scriptable classifier used in mock mode and by tests. Without a
// script it reports deliberately sub-threshold noise so a scan session keeps
// scanning, which is the useful default for development without a model.
type Mock struct {
	mu sync.Mutex

	// LoadErr, when set, is returned by Load.
	LoadErr error
	// Script, when set, produces each Classify result in turn. Once the
	// script is exhausted the last entry repeats.
	Script []ScriptedResult

	loaded bool
	calls  int
}

// ScriptedResult is one scripted Classify outcome.
type ScriptedResult struct {
	Predictions []Prediction
	Err         error
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Load(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return m.LoadErr
	}
	m.loaded = true
	return nil
}

func (m *Mock) Classify(ctx context.Context, _ capture.Frame) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ClassifyError{Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return nil, &ClassifyError{Err: fmt.Errorf("model not loaded")}
	}
	idx := m.calls
	m.calls++

	if len(m.Script) > 0 {
		if idx >= len(m.Script) {
			idx = len(m.Script) - 1
		}
		step := m.Script[idx]
		if step.Err != nil {
			return nil, &ClassifyError{Err: step.Err}
		}
		return step.Predictions, nil
	}

	return []Prediction{
		{Label: "unknown scene", Probability: 0.31},
		{Label: "background", Probability: 0.22},
	}, nil
}

func (m *Mock) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = false
}

// Calls reports how many Classify calls the mock has served.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Loaded reports whether Load has run.
func (m *Mock) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}
