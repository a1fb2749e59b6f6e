package tal

import (
	"fmt"
	"sync"

	. "nyiyui.ca/hato/junkan"
)

const (
	// MinVelocity is 1 so that traversal time never divides by 0.
	MinVelocity = 1
	MaxVelocity = 6
)

// Bounds is the closed range a train's velocity is clamped to.
type Bounds struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

var DefaultBounds = Bounds{Min: MinVelocity, Max: MaxVelocity}

func (b Bounds) Check() error {
	if b.Min < 1 {
		return fmt.Errorf("minimum velocity %d must be at least 1: %w", b.Min, ErrInvalidConfiguration)
	}
	if b.Min > b.Max {
		return fmt.Errorf("minimum velocity %d > maximum %d: %w", b.Min, b.Max, ErrInvalidConfiguration)
	}
	return nil
}

func (b Bounds) Contains(v int) bool {
	return b.Min <= v && v <= b.Max
}

// Train is the state shared between a train's runtime (which reads it once per lap) and whoever changes its speed.
type Train struct {
	ID     TrainID
	Color  Color
	bounds Bounds

	lock     sync.Mutex
	velocity int
}

func NewTrain(id TrainID, color Color, velocity int, b Bounds) (*Train, error) {
	if err := b.Check(); err != nil {
		return nil, fmt.Errorf("train %d: %w", int(id), err)
	}
	if !b.Contains(velocity) {
		return nil, fmt.Errorf("train %d: velocity %d out of [%d, %d]: %w", int(id), velocity, b.Min, b.Max, ErrInvalidConfiguration)
	}
	return &Train{
		ID:       id,
		Color:    color,
		bounds:   b,
		velocity: velocity,
	}, nil
}

// Increment speeds t up by 1, unless it is already at the maximum.
// It returns the velocity after the change.
func (t *Train) Increment() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.velocity < t.bounds.Max {
		t.velocity++
	}
	return t.velocity
}

// Decrement slows t down by 1, unless it is already at the minimum.
// It returns the velocity after the change.
func (t *Train) Decrement() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.velocity > t.bounds.Min {
		t.velocity--
	}
	return t.velocity
}

func (t *Train) Velocity() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.velocity
}

func (t *Train) Bounds() Bounds { return t.bounds }

func (t *Train) Snapshot() TrainSnapshot {
	t.lock.Lock()
	defer t.lock.Unlock()
	return TrainSnapshot{ID: t.ID, Velocity: t.velocity}
}

func (t *Train) String() string {
	return fmt.Sprintf("train %d (%s) v%d", int(t.ID), t.Color, t.Velocity())
}
