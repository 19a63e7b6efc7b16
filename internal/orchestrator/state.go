package orchestrator

// State is the top-level orchestration state. Exactly one state holds at any
// time.
type State int

const (
	// StateIdle means no cycle is active. A new cycle may be started.
	StateIdle State = iota

	// StateRecording means the microphone is capturing.
	StateRecording

	// StateSending covers everything after finish: warm-up, the backend
	// round trip and response playback. See [Phase].
	StateSending
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateSending:
		return "sending"
	default:
		return "unknown"
	}
}

// Phase refines [StateSending]. It is [PhaseNone] in every other state.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseWarmupPlaying
	PhaseAwaitingResponse
	PhaseResponsePlaying
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseWarmupPlaying:
		return "warmup_playing"
	case PhaseAwaitingResponse:
		return "awaiting_response"
	case PhaseResponsePlaying:
		return "response_playing"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the orchestrator for display.
type Status struct {
	State   State
	Phase   Phase
	Speaker string
}

// Recording reports whether the microphone is live.
func (s Status) Recording() bool { return s.State == StateRecording }

// Sending reports whether a captured turn is being processed.
func (s Status) Sending() bool { return s.State == StateSending }

// PlayingAudio reports whether the response is audible.
func (s Status) PlayingAudio() bool { return s.Phase == PhaseResponsePlaying }

// String renders the snapshot as "state" or "state/phase".
func (s Status) String() string {
	if s.Phase == PhaseNone {
		return s.State.String()
	}
	return s.State.String() + "/" + s.Phase.String()
}
