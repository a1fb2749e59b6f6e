package tal

import (
	"sync"

	. "nyiyui.ca/hato/junkan"
)

// Position is the segment a train has most recently fully entered.
// Its runtime is the only writer; readers never block it.
type Position struct {
	lock    sync.Mutex
	current SegmentID
}

func NewPosition(initial SegmentID) *Position {
	return &Position{current: initial}
}

func (p *Position) Write(id SegmentID) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.current = id
}

// TryRead returns false instead of waiting if p is being written to; the caller should keep using the last value it read.
func (p *Position) TryRead() (SegmentID, bool) {
	if !p.lock.TryLock() {
		return 0, false
	}
	defer p.lock.Unlock()
	return p.current, true
}

// Observer keeps the last known position of every train of a Guide, for renderers.
// An Observer is not safe for concurrent use; give each renderer its own.
type Observer struct {
	g    *Guide
	last []SegmentID
}

func NewObserver(g *Guide) *Observer {
	o := &Observer{g: g, last: make([]SegmentID, len(g.trains))}
	for i, c := range g.circuits {
		o.last[i] = c.InitialState()
	}
	return o
}

// Poll refreshes every position that can be read without blocking, and returns all of them.
// The result is shared with later calls.
func (o *Observer) Poll() []SegmentID {
	for i := range o.last {
		if id, ok := o.g.TryRead(TrainID(i)); ok {
			o.last[i] = id
		}
	}
	return o.last
}
