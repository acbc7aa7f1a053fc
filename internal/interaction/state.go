package interaction

// State is the interaction machine's current phase. One instance exists per
// machine; it is mutated only through the machine's defined transitions and
// is never persisted.
type State int

const (
	// StateIdle means no turn is in progress. The only state that accepts a
	// new submission.
	StateIdle State = iota

	// StateRecording means microphone capture is active.
	StateRecording

	// StateUploading means the utterance is in transit to the processing
	// service.
	StateUploading

	// StateProcessing means the transport completed and the result is
	// pending decode. Upload and processing share one network call, so this
	// is the single observable transition between them.
	StateProcessing

	// StatePlaying means the synthesized reply is being played back.
	StatePlaying

	// StateError means the last turn failed with a classified error. Cleared
	// by ClearError or by starting a new operation.
	StateError
)

// String returns the stable lowercase name used in logs and the state hook.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateUploading:
		return "uploading"
	case StateProcessing:
		return "processing"
	case StatePlaying:
		return "playing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// validNext enumerates the legal transitions. Any state may enter StateError;
// that edge is handled in the machine rather than listed here.
var validNext = map[State][]State{
	StateIdle:       {StateRecording, StateUploading},
	StateRecording:  {StateIdle},
	StateUploading:  {StateProcessing, StateIdle},
	StateProcessing: {StatePlaying, StateIdle},
	StatePlaying:    {StateIdle},
	StateError:      {StateIdle, StateRecording, StateUploading},
}

// canTransition reports whether from→to is a defined edge.
func canTransition(from, to State) bool {
	if to == StateError {
		return true
	}
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}
