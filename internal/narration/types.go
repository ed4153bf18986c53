package narration

import "context"

// SynthRequest contains parameters to synthesize one utterance.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
	Rate      float64
	Pitch     float64
}

// SynthChunk contains synthesized PCM data.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing narration audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
