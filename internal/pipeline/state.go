package pipeline

// State is the pipeline's turn-taking state. Exactly one value is active at
// any time; only the [Controller] writes it, every other component reads.
type State int

const (
	// StateIdle means no session is active and the audio device is released.
	StateIdle State = iota

	// StateListening means the microphone is live and ASR is consuming audio.
	StateListening

	// StateProcessing means a final transcript is being turned into a
	// response; ASR input is muted.
	StateProcessing

	// StateSpeaking means synthesized audio is playing; ASR input stays muted
	// while VAD keeps running to feed barge-in detection.
	StateSpeaking

	// StateStopping means an explicit stop or session timeout is tearing the
	// session down; in-flight operations are being cancelled.
	StateStopping
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// transitions is the complete set of legal state moves. Anything not listed
// here is rejected: an event arriving in a state where it has no defined
// transition is logged and dropped, never acted on.
var transitions = map[State]map[State]bool{
	StateIdle: {
		StateListening: true,
	},
	StateListening: {
		StateProcessing: true,
		StateStopping:   true,
	},
	StateProcessing: {
		StateSpeaking: true,
		StateStopping: true,
	},
	StateSpeaking: {
		StateListening: true, // completed playback, or confirmed barge-in
		StateStopping:  true,
	},
	StateStopping: {
		StateIdle: true,
	},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}
