package domain

import "time"

type EventKind string

const (
	EventState    EventKind = "state"
	EventProgress EventKind = "progress"
	EventSegment  EventKind = "segment"
	EventNote     EventKind = "note"
	EventFinished EventKind = "finished"
)

type Event struct {
	Kind        EventKind
	RequestID   string
	RequesterID string
	State       RequestState
	Segment     int
	Total       int
	Progress    *Progress
	Message     string
	Err         error
	At          time.Time
}

// Droppable events may be discarded when the status channel is saturated.
func (e Event) Droppable() bool {
	return e.Kind == EventProgress
}
