package telemetry

import "time"

// PhaseStart is the phase reported once per dev server run.
const PhaseStart = "start"

// Payload summarizes the index at startup. A nil payload means no index
// was built or it failed to initialize.
type Payload struct {
	EntryCount int `json:"entryCount"`
	Version    int `json:"version"`
}

// Context describes the run the event belongs to.
type Context struct {
	ConfigDir string `json:"configDir"`
}

// Event is what sinks receive.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	ProjectID string    `json:"projectId,omitempty"`
	Phase     string    `json:"phase"`
	Payload   *Payload  `json:"payload"`
	Context   Context   `json:"context"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"storydevVersion"`
}
