package vad

// State is the hysteresis state of the speech detector.
type State int

const (
	// Quiet means no speech is in progress.
	Quiet State = iota

	// Starting means voiced windows have been seen but not yet for long
	// enough to confirm speech.
	Starting

	// Speaking means speech onset has been confirmed.
	Speaking

	// Stopping means silence follows confirmed speech but has not yet lasted
	// long enough to confirm the offset.
	Stopping
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Quiet:
		return "quiet"
	case Starting:
		return "starting"
	case Speaking:
		return "speaking"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Active reports whether s belongs to an utterance in progress, that is any
// state but Quiet.
func (s State) Active() bool {
	return s != Quiet
}
