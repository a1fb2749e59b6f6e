package circuit

import (
	"fmt"

	. "nyiyui.ca/hato/junkan"
)

type EventKind int

const (
	// EventWaiting means the segment was held by someone else, and the train is now blocked on it.
	EventWaiting EventKind = iota
	EventAcquired
	// EventEntered means the train has fully entered the segment (and its position was published).
	EventEntered
	EventReleased
)

var eventKindNames = []string{"waiting", "acquired", "entered", "released"}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return fmt.Sprintf("event-kind(%d)", int(k))
	}
	return eventKindNames[k]
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(data []byte) error {
	for i, name := range eventKindNames {
		if name == string(data) {
			*k = EventKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", data)
}

// Event is something a train did to a segment.
type Event struct {
	Kind    EventKind `json:"kind"`
	Train   TrainID   `json:"train"`
	Color   Color     `json:"color"`
	Segment SegmentID `json:"segment"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s (%s) %s %s", e.Train, e.Color, e.Kind, e.Segment)
}

// Tracer observes events as they happen, on the train's goroutine.
// Trace must not block for long, as the train may be holding segments.
type Tracer interface {
	Trace(e Event)
}

// TracerFunc adapts a function to Tracer.
type TracerFunc func(e Event)

func (f TracerFunc) Trace(e Event) { f(e) }

// Tracers fans out to every non-nil tracer given.
func Tracers(trs ...Tracer) Tracer {
	return TracerFunc(func(e Event) {
		for _, tr := range trs {
			if tr != nil {
				tr.Trace(e)
			}
		}
	})
}
