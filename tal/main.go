package tal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/clock"
	"nyiyui.ca/hato/junkan/notify"
	"nyiyui.ca/hato/junkan/tal/circuit"
	"nyiyui.ca/hato/junkan/tal/layout"
)

const muxBuffer = 256

type TrainConf struct {
	Color    Color `json:"color" yaml:"color"`
	Velocity int   `json:"velocity" yaml:"velocity"`
}

// DefaultTrains are the four trains of the junction layout, in TrainID order.
var DefaultTrains = []TrainConf{
	{Color: Green, Velocity: 2},
	{Color: Purple, Velocity: 3},
	{Color: Red, Velocity: 3},
	{Color: Blue, Velocity: 4},
}

type GuideConf struct {
	Network *layout.Network
	Trains  []TrainConf
	Bounds  Bounds
	Clock   clock.Clock
	// RunID identifies this run; a new one is made if it is zero.
	RunID uuid.UUID
	// Tracer, if not nil, sees every event on top of the Guide's own handling.
	Tracer circuit.Tracer
	Log    *zap.SugaredLogger
}

// Guide owns every train, its circuit, and its runtime.
// It is the surface renderers and controls use.
type Guide struct {
	Network *layout.Network
	RunID   uuid.UUID
	// Events carries every circuit event.
	Events *notify.Multiplexer[circuit.Event]
	// Snapshots carries a GuideSnapshot whenever a train enters a segment, changes speed, or stops.
	Snapshots *notify.Multiplexer[GuideSnapshot]

	conf      GuideConf
	log       *zap.SugaredLogger
	trains    []*Train
	circuits  []*circuit.Circuit
	positions []*Position
	runtimes  []*Runtime
	// observerLock guards observer; it is only held while polling, which never blocks.
	observerLock sync.Mutex
	observer     *Observer
}

// NewGuide sets up everything in conf without starting any train.
// All circuits are built over the same network; any error wraps ErrInvalidConfiguration.
func NewGuide(conf GuideConf) (*Guide, error) {
	if conf.Network == nil {
		return nil, fmt.Errorf("guide: no network: %w", ErrInvalidConfiguration)
	}
	if conf.Clock == nil {
		return nil, fmt.Errorf("guide: no clock: %w", ErrInvalidConfiguration)
	}
	if err := conf.Bounds.Check(); err != nil {
		return nil, fmt.Errorf("guide: %w", err)
	}
	log := conf.Log
	if log == nil {
		log = zap.S()
	}
	runID := conf.RunID
	if runID == (uuid.UUID{}) {
		runID = uuid.New()
	}
	g := &Guide{
		Network: conf.Network,
		RunID:   runID,
		conf:    conf,
		log:     log,
	}
	seen := map[Color]bool{}
	for i, tc := range conf.Trains {
		if seen[tc.Color] {
			return nil, fmt.Errorf("guide: train %d: second %s train: %w", i, tc.Color, ErrInvalidConfiguration)
		}
		seen[tc.Color] = true
		t, err := NewTrain(TrainID(i), tc.Color, tc.Velocity, conf.Bounds)
		if err != nil {
			return nil, fmt.Errorf("guide: %w", err)
		}
		c, err := circuit.NewVariant(tc.Color, circuit.Network(conf.Network))
		if err != nil {
			return nil, fmt.Errorf("guide: train %d: %w", i, err)
		}
		g.trains = append(g.trains, t)
		g.circuits = append(g.circuits, c)
		g.positions = append(g.positions, NewPosition(c.InitialState()))
	}
	g.Events = notify.NewMultiplexer[circuit.Event]("guide events", muxBuffer)
	g.Snapshots = notify.NewMultiplexer[GuideSnapshot]("guide snapshots", muxBuffer)
	tracer := circuit.Tracers(circuit.TracerFunc(g.trace), conf.Tracer)
	for i := range g.trains {
		g.runtimes = append(g.runtimes, NewRuntime(RuntimeConf{
			Train:    g.trains[i],
			Circuit:  g.circuits[i],
			Position: g.positions[i],
			Clock:    conf.Clock,
			Tracer:   tracer,
			Log:      log,
		}))
	}
	g.observer = NewObserver(g)
	return g, nil
}

func (g *Guide) trace(e circuit.Event) {
	switch e.Kind {
	case circuit.EventWaiting:
		g.log.Debugf("train %d waiting %s", int(e.Train), e.Segment)
	case circuit.EventEntered:
		g.Snapshots.Send(g.Snapshot())
	}
	g.Events.Send(e)
}

// Start starts every train on its own goroutine.
func (g *Guide) Start(ctx context.Context) {
	for i, r := range g.runtimes {
		r.Start(ctx)
		go func(i int, r *Runtime) {
			<-r.Done()
			if err := r.Err(); err != nil {
				g.log.Errorf("train %d (%s) is out of service: %s", i, g.trains[i].Color, err)
			}
			g.Snapshots.Send(g.Snapshot())
		}(i, r)
	}
}

// Stop stops every train and waits for them to release their segments.
func (g *Guide) Stop() {
	for _, r := range g.runtimes {
		r.Stop()
	}
}

// Close stops publishing on Events and Snapshots.
func (g *Guide) Close() {
	g.Events.Close()
	g.Snapshots.Close()
}

func (g *Guide) Len() int { return len(g.trains) }

// Bounds is the velocity range every train is clamped to.
func (g *Guide) Bounds() Bounds { return g.conf.Bounds }

func (g *Guide) lookup(id TrainID) (int, error) {
	if id < 0 || int(id) >= len(g.trains) {
		return 0, fmt.Errorf("train %d: %w", int(id), ErrUnknownTrain)
	}
	return int(id), nil
}

func (g *Guide) Train(id TrainID) (*Train, error) {
	i, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	return g.trains[i], nil
}

func (g *Guide) Circuit(id TrainID) (*circuit.Circuit, error) {
	i, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	return g.circuits[i], nil
}

func (g *Guide) Runtime(id TrainID) (*Runtime, error) {
	i, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	return g.runtimes[i], nil
}

// InitialState is where train id is before its first lap.
func (g *Guide) InitialState(id TrainID) (SegmentID, error) {
	c, err := g.Circuit(id)
	if err != nil {
		return 0, err
	}
	return c.InitialState(), nil
}

// TryRead returns train id's position without blocking.
// If it returns false (contended, or no such train), keep using the last known position.
func (g *Guide) TryRead(id TrainID) (SegmentID, bool) {
	i, err := g.lookup(id)
	if err != nil {
		return 0, false
	}
	return g.positions[i].TryRead()
}

// Increment speeds train id up by 1 (no-op at the maximum) and returns its new velocity.
// The train's runtime picks this up at the start of its next lap.
func (g *Guide) Increment(id TrainID) (int, error) {
	t, err := g.Train(id)
	if err != nil {
		return 0, err
	}
	v := t.Increment()
	g.log.Infof("train %d (%s): velocity %d", int(id), t.Color, v)
	g.Snapshots.Send(g.Snapshot())
	return v, nil
}

// Decrement slows train id down by 1 (no-op at the minimum) and returns its new velocity.
func (g *Guide) Decrement(id TrainID) (int, error) {
	t, err := g.Train(id)
	if err != nil {
		return 0, err
	}
	v := t.Decrement()
	g.log.Infof("train %d (%s): velocity %d", int(id), t.Color, v)
	g.Snapshots.Send(g.Snapshot())
	return v, nil
}

type TrainView struct {
	ID    TrainID `json:"id"`
	Color Color   `json:"color"`
	// Velocity is what was last commanded.
	Velocity int `json:"velocity"`
	// LapVelocity is what the current lap runs at.
	LapVelocity int          `json:"lap-velocity"`
	Segment     SegmentID    `json:"segment"`
	Laps        int          `json:"laps"`
	State       RuntimeState `json:"state"`
	Err         string       `json:"err,omitempty"`
}

// GuideSnapshot is the state of every train and segment at one instant (give or take; see Snapshot).
type GuideSnapshot struct {
	RunID     uuid.UUID         `json:"run-id"`
	Time      time.Time         `json:"time"`
	Trains    []TrainView       `json:"trains"`
	Occupancy []layout.Occupant `json:"occupancy"`
}

// Snapshot collects the state of every train and segment.
// Each part is read separately, and positions come from TryRead (falling back to the last known one), so nothing here ever blocks a train.
func (g *Guide) Snapshot() GuideSnapshot {
	gs := GuideSnapshot{
		RunID:     g.RunID,
		Time:      time.Now(),
		Trains:    make([]TrainView, len(g.trains)),
		Occupancy: g.Network.Occupancy(),
	}
	g.observerLock.Lock()
	positions := slices.Clone(g.observer.Poll())
	g.observerLock.Unlock()
	for i, t := range g.trains {
		r := g.runtimes[i]
		tv := TrainView{
			ID:          t.ID,
			Color:       t.Color,
			Velocity:    t.Velocity(),
			LapVelocity: r.LapTrain().Velocity,
			Segment:     positions[i],
			Laps:        r.Laps(),
			State:       r.State(),
		}
		if err := r.Err(); err != nil {
			tv.Err = err.Error()
		}
		gs.Trains[i] = tv
	}
	return gs
}
