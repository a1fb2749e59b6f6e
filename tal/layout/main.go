package layout

import (
	"context"
	"fmt"
	"sync"

	. "nyiyui.ca/hato/junkan"
)

// Segment is one block of rail.
// At most one train holds a segment at a time; there is no defined order among waiters.
type Segment struct {
	ID SegmentID
	// Distance is the length of the segment in simulated units.
	Distance int

	// sem has a capacity of 1; a value in sem means the segment is held.
	sem       chan struct{}
	stateLock sync.Mutex
	holder    TrainID
	poisoned  bool
}

func NewSegment(id SegmentID, distance int) *Segment {
	return &Segment{
		ID:       id,
		Distance: distance,
		sem:      make(chan struct{}, 1),
		holder:   NoTrain,
	}
}

// Acquire blocks until by holds s.
// It only gives up if ctx is done; that is for stopping a runtime, not a timeout.
func (s *Segment) Acquire(ctx context.Context, by TrainID) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.take(by)
}

// TryAcquire is Acquire but returns false instead of blocking.
// A poisoned segment is never taken.
func (s *Segment) TryAcquire(by TrainID) bool {
	select {
	case s.sem <- struct{}{}:
	default:
		return false
	}
	return s.take(by) == nil
}

func (s *Segment) take(by TrainID) error {
	s.stateLock.Lock()
	if s.poisoned {
		s.stateLock.Unlock()
		<-s.sem
		return fmt.Errorf("segment %s: %w", s.ID, ErrLockPoisoned)
	}
	s.holder = by
	s.stateLock.Unlock()
	return nil
}

// Release makes s available to the next contender.
// Releasing a segment held by someone else is a bug and panics.
func (s *Segment) Release(by TrainID) {
	s.stateLock.Lock()
	if s.holder != by {
		holder := s.holder
		s.stateLock.Unlock()
		panic(fmt.Sprintf("segment %s: released by %s but held by %s", s.ID, by, holder))
	}
	s.holder = NoTrain
	s.stateLock.Unlock()
	<-s.sem
}

// Poison marks s so that every later Acquire fails with ErrLockPoisoned.
// The current holder must still Release.
func (s *Segment) Poison() {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	s.poisoned = true
}

func (s *Segment) Poisoned() bool {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.poisoned
}

// Holder returns the train holding s, if any.
func (s *Segment) Holder() (TrainID, bool) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.holder, s.holder != NoTrain
}

// TraversalTime is how many simulated seconds it takes to cross s at velocity (floored).
// velocity must not be 0: the division panics.
func (s *Segment) TraversalTime(velocity int) int {
	return s.Distance / velocity
}

func (s *Segment) String() string {
	return fmt.Sprintf("%s(%d)", s.ID, s.Distance)
}

// Network is every segment in a layout, indexed by SegmentID.
type Network struct {
	Segments []*Segment
}

// NewNetwork makes count segments, all of distance.
func NewNetwork(count, distance int) (*Network, error) {
	distances := make([]int, count)
	for i := range distances {
		distances[i] = distance
	}
	return NewNetworkDistances(distances)
}

// NewNetworkDistances makes one segment per distance given.
func NewNetworkDistances(distances []int) (*Network, error) {
	if len(distances) == 0 {
		return nil, fmt.Errorf("network: no segments: %w", ErrInvalidConfiguration)
	}
	n := &Network{Segments: make([]*Segment, len(distances))}
	for i, d := range distances {
		if d <= 0 {
			return nil, fmt.Errorf("network: segment %s: distance %d not positive: %w", SegmentID(i), d, ErrInvalidConfiguration)
		}
		n.Segments[i] = NewSegment(SegmentID(i), d)
	}
	return n, nil
}

// Lookup returns the segment with id, or ErrInvalidConfiguration if it doesn't exist.
func (n *Network) Lookup(id SegmentID) (*Segment, error) {
	if id < 0 || int(id) >= len(n.Segments) {
		return nil, fmt.Errorf("segment %s not in network of %d: %w", id, len(n.Segments), ErrInvalidConfiguration)
	}
	return n.Segments[id], nil
}

// MustLookup finds a segment by name (e.g. L4). If it doesn't exist it panics.
// This is for debugging/testing.
func (n *Network) MustLookup(name string) *Segment {
	id, err := ParseSegmentID(name)
	if err != nil {
		panic(err)
	}
	s, err := n.Lookup(id)
	if err != nil {
		panic(fmt.Sprintf("found nothing when looking up for %s", name))
	}
	return s
}

type Occupant struct {
	Segment  SegmentID `json:"segment"`
	Holder   TrainID   `json:"holder"`
	Held     bool      `json:"held"`
	Poisoned bool      `json:"poisoned,omitempty"`
}

// Occupancy returns who holds what right now.
// Each segment is read separately, so the result isn't atomic across segments.
func (n *Network) Occupancy() []Occupant {
	res := make([]Occupant, len(n.Segments))
	for i, s := range n.Segments {
		holder, held := s.Holder()
		res[i] = Occupant{
			Segment:  s.ID,
			Holder:   holder,
			Held:     held,
			Poisoned: s.Poisoned(),
		}
	}
	return res
}
