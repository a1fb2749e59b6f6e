// Package circuit runs trains around fixed routes over shared segments.
//
// A route is a list of steps. An exclusive step holds one segment at a time.
// A batch-hold step acquires several segments before entering any of them, then enters and frees them one by one, so a train can occupy a junction spanning multiple segments while clearing track behind it.
//
// Anything that holds more than one segment must acquire them in ascending SegmentID order, or two circuits can wait on each other forever.
// New rejects routes that don't.
package circuit

import (
	"context"
	"fmt"

	"golang.org/x/exp/slices"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/clock"
	"nyiyui.ca/hato/junkan/tal/layout"
)

// Block is a segment as seen by a circuit.
type Block interface {
	Acquire(ctx context.Context, by TrainID) error
	TryAcquire(by TrainID) bool
	Release(by TrainID)
	Poison()
	TraversalTime(velocity int) int
}

// Resolver finds the Block for a SegmentID.
type Resolver func(id SegmentID) (Block, error)

// Network resolves blocks from n.
func Network(n *layout.Network) Resolver {
	return func(id SegmentID) (Block, error) {
		s, err := n.Lookup(id)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

type StepKind int

const (
	Exclusive StepKind = iota
	BatchHold
)

func (k StepKind) String() string {
	switch k {
	case Exclusive:
		return "exclusive"
	case BatchHold:
		return "batch-hold"
	default:
		return fmt.Sprintf("step-kind(%d)", int(k))
	}
}

type Step struct {
	Kind StepKind
	// Acquire lists the segments in acquisition order.
	// An Exclusive step has exactly one.
	Acquire []SegmentID
	// Release lists the segments of a BatchHold step in the order they are entered and released.
	Release []SegmentID
}

func ExclusiveStep(id SegmentID) Step {
	return Step{Kind: Exclusive, Acquire: []SegmentID{id}}
}

func BatchHoldStep(acquire, release []SegmentID) Step {
	return Step{Kind: BatchHold, Acquire: acquire, Release: release}
}

// Primary is the first segment a train enters in this step.
func (s Step) Primary() SegmentID {
	if s.Kind == BatchHold {
		return s.Release[0]
	}
	return s.Acquire[0]
}

func (s Step) String() string {
	if s.Kind == BatchHold {
		return fmt.Sprintf("hold%s→%s", s.Acquire, s.Release)
	}
	return s.Acquire[0].String()
}

// Circuit is an immutable route, bound to the segments it runs over.
type Circuit struct {
	Color  Color
	Route  []Step
	blocks map[SegmentID]Block
}

// New checks route and resolves each of its segments.
// Every error wraps ErrInvalidConfiguration.
func New(color Color, route []Step, resolve Resolver) (*Circuit, error) {
	c := &Circuit{
		Color:  color,
		Route:  make([]Step, len(route)),
		blocks: map[SegmentID]Block{},
	}
	if len(route) == 0 {
		return nil, fmt.Errorf("circuit %s: empty route: %w", color, ErrInvalidConfiguration)
	}
	for si, step := range route {
		if err := checkStep(step); err != nil {
			return nil, fmt.Errorf("circuit %s: step %d: %w", color, si, err)
		}
		for _, id := range step.Acquire {
			if _, ok := c.blocks[id]; ok {
				continue
			}
			b, err := resolve(id)
			if err != nil {
				return nil, fmt.Errorf("circuit %s: step %d: %w", color, si, err)
			}
			c.blocks[id] = b
		}
		c.Route[si] = Step{
			Kind:    step.Kind,
			Acquire: slices.Clone(step.Acquire),
			Release: slices.Clone(step.Release),
		}
	}
	return c, nil
}

func checkStep(s Step) error {
	switch s.Kind {
	case Exclusive:
		if len(s.Acquire) != 1 {
			return fmt.Errorf("exclusive step must have 1 segment, not %d: %w", len(s.Acquire), ErrInvalidConfiguration)
		}
		if len(s.Release) != 0 {
			return fmt.Errorf("exclusive step has a release order: %w", ErrInvalidConfiguration)
		}
	case BatchHold:
		if len(s.Acquire) == 0 {
			return fmt.Errorf("batch-hold step has no segments: %w", ErrInvalidConfiguration)
		}
		for i := 1; i < len(s.Acquire); i++ {
			if s.Acquire[i-1] >= s.Acquire[i] {
				return fmt.Errorf("batch-hold acquires %s after %s (must be ascending): %w", s.Acquire[i], s.Acquire[i-1], ErrInvalidConfiguration)
			}
		}
		if len(s.Release) != len(s.Acquire) {
			return fmt.Errorf("batch-hold releases %d segments but acquires %d: %w", len(s.Release), len(s.Acquire), ErrInvalidConfiguration)
		}
		release := slices.Clone(s.Release)
		slices.Sort(release)
		if !slices.Equal(release, s.Acquire) {
			return fmt.Errorf("batch-hold release order %s is not a permutation of %s: %w", s.Release, s.Acquire, ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("unknown step kind %s: %w", s.Kind, ErrInvalidConfiguration)
	}
	return nil
}

// InitialState is where a train on c should be shown before its first lap.
func (c *Circuit) InitialState() SegmentID {
	return c.Route[0].Primary()
}

// Segments returns every segment c touches, in route order without duplicates.
func (c *Circuit) Segments() []SegmentID {
	res := make([]SegmentID, 0, len(c.blocks))
	for _, step := range c.Route {
		order := step.Acquire
		if step.Kind == BatchHold {
			order = step.Release
		}
		for _, id := range order {
			if !slices.Contains(res, id) {
				res = append(res, id)
			}
		}
	}
	return res
}

func (c *Circuit) String() string {
	return fmt.Sprintf("%s%s", c.Color, c.Route)
}

// Sink receives the segment a train has just fully entered.
type Sink interface {
	Write(id SegmentID)
}

// Run drives t around c exactly once.
// t is not re-read during the lap, so velocity changes made meanwhile wait until the next lap.
//
// If the lap panics while holding segments, they are poisoned, released, and an error is returned.
// If ctx is done, held segments are released cleanly and ctx.Err() is returned (wrapped).
func (c *Circuit) Run(ctx context.Context, sink Sink, t TrainSnapshot, clk clock.Clock, tr Tracer) (err error) {
	l := &lap{c: c, ctx: ctx, sink: sink, t: t, clk: clk, tr: tr}
	defer func() {
		if r := recover(); r != nil {
			held := slices.Clone(l.held)
			l.held = nil
			// not traced: the tracer may be what panicked
			for _, id := range held {
				abandon(c.blocks[id], t.ID)
			}
			if len(held) == 0 {
				err = fmt.Errorf("circuit %s: train %d failed: %v", c.Color, int(t.ID), r)
				return
			}
			err = fmt.Errorf("circuit %s: train %d failed holding %s: %v: %w", c.Color, int(t.ID), held, r, ErrLockPoisoned)
			return
		}
		for len(l.held) > 0 {
			l.release(l.held[0])
		}
	}()
	for si, step := range c.Route {
		switch step.Kind {
		case Exclusive:
			err = l.exclusive(step.Acquire[0])
		case BatchHold:
			err = l.batchHold(step.Acquire, step.Release)
		}
		if err != nil {
			return fmt.Errorf("circuit %s: step %d %s: %w", c.Color, si, step, err)
		}
	}
	return nil
}

type lap struct {
	c    *Circuit
	ctx  context.Context
	sink Sink
	t    TrainSnapshot
	clk  clock.Clock
	tr   Tracer
	held []SegmentID
}

func (l *lap) trace(kind EventKind, id SegmentID) {
	if l.tr == nil {
		return
	}
	l.tr.Trace(Event{Kind: kind, Train: l.t.ID, Color: l.c.Color, Segment: id})
}

func (l *lap) acquire(id SegmentID) error {
	b := l.c.blocks[id]
	if !b.TryAcquire(l.t.ID) {
		l.trace(EventWaiting, id)
		if err := b.Acquire(l.ctx, l.t.ID); err != nil {
			return err
		}
	}
	l.held = append(l.held, id)
	l.trace(EventAcquired, id)
	return nil
}

// release frees id. id stays in l.held until the block is actually released, so a panic on the way still poisons it.
func (l *lap) release(id SegmentID) {
	if !slices.Contains(l.held, id) {
		panic(fmt.Sprintf("release %s: not held", id))
	}
	// traced first so that a tracer never sees the next holder before this release
	l.trace(EventReleased, id)
	l.c.blocks[id].Release(l.t.ID)
	i := slices.Index(l.held, id)
	l.held = slices.Delete(l.held, i, i+1)
}

// abandon poisons and frees b after its holder failed.
// A panicking Release is swallowed so that one failed train can't take the process down.
func abandon(b Block, by TrainID) {
	defer func() { recover() }()
	b.Poison()
	b.Release(by)
}

// enter publishes id and blocks for as long as the train takes to cross it.
func (l *lap) enter(id SegmentID) error {
	d := l.c.blocks[id].TraversalTime(l.t.Velocity)
	l.sink.Write(id)
	l.trace(EventEntered, id)
	return l.clk.Sleep(l.ctx, d)
}

func (l *lap) exclusive(id SegmentID) error {
	if err := l.acquire(id); err != nil {
		return err
	}
	if err := l.enter(id); err != nil {
		return err
	}
	l.release(id)
	return nil
}

func (l *lap) batchHold(acquire, release []SegmentID) error {
	for _, id := range acquire {
		if err := l.acquire(id); err != nil {
			return err
		}
	}
	for _, id := range release {
		if err := l.enter(id); err != nil {
			return err
		}
		l.release(id)
	}
	return nil
}
