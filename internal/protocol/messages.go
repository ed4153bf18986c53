package protocol

import "time"

// SessionState is the scan lifecycle state exposed to presentation surfaces.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateLoading    SessionState = "loading"
	StateScanning   SessionState = "scanning"
	StateRecognized SessionState = "recognized"
)

// NarrationState reports whether an utterance is currently playing.
type NarrationState string

const (
	NarrationIdle     NarrationState = "idle"
	NarrationSpeaking NarrationState = "speaking"
)

// StateUpdate is broadcast on every session state transition.
type StateUpdate struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Recognition is broadcast once per session when a site is recognized.
type Recognition struct {
	SessionID  string    `json:"session_id"`
	SiteID     string    `json:"site_id"`
	SiteName   string    `json:"site_name"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// NarrationStatus is broadcast when narration starts, completes or is cancelled.
type NarrationStatus struct {
	SessionID string         `json:"session_id"`
	State     NarrationState `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
}

// AudioChunk carries synthesized narration audio to an external sink.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// StartRequest asks the runtime to begin a scan session.
type StartRequest struct {
	Timestamp time.Time `json:"timestamp"`
}

// StopRequest asks the runtime to end the active scan session.
type StopRequest struct {
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSessionStart   = "scan.session.start"
	SubjectSessionStop    = "scan.session.stop"
	SubjectScanState      = "scan.state"
	SubjectRecognized     = "scan.recognized"
	SubjectNarrationState = "narration.state"
	SubjectNarrationAudio = "narration.audio"
)
