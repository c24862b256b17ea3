package trackengine

import "time"

// ConnState is the connection state machine position of the ingestion
// pipeline.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the record external UIs subscribe to. Loading flips to false
// exactly once, when the first batch with at least one accepted report lands.
type Status struct {
	Loading    bool      `json:"loading"`
	HasData    bool      `json:"hasData"`
	State      ConnState `json:"-"`
	StateName  string    `json:"connectionState"`
	Fallback   bool      `json:"fallbackActive,omitempty"`
	LastUpdate time.Time `json:"lastUpdate,omitempty"`
	Err        string    `json:"error,omitempty"`
}
