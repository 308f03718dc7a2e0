package model

// EventType classifies entries of a measurement's append-only event log.
type EventType int

const (
	EventLifecycleStart EventType = iota + 1
	EventLifecyclePause
	EventLifecycleResume
	EventLifecycleStop
	EventModalityChange
)

// String returns the event type name used in logs and storage dumps.
func (t EventType) String() string {
	switch t {
	case EventLifecycleStart:
		return "lifecycle-start"
	case EventLifecyclePause:
		return "lifecycle-pause"
	case EventLifecycleResume:
		return "lifecycle-resume"
	case EventLifecycleStop:
		return "lifecycle-stop"
	case EventModalityChange:
		return "modality-change"
	default:
		return "unknown"
	}
}

// Event is one entry in a measurement's lifecycle history. Events are
// append-only and never edited; the log reconstructs pause/resume history
// and detects duplicate modality changes.
type Event struct {
	ID            int64
	MeasurementID MeasurementID
	Type          EventType
	Value         string // e.g. the new modality for EventModalityChange
	Timestamp     int64  // ms since epoch
}
