package tal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/clock"
	"nyiyui.ca/hato/junkan/tal/circuit"
)

type RuntimeState int

const (
	RuntimeIdle RuntimeState = iota
	RuntimeRunning
	// RuntimeStopped means the runtime was told to stop.
	RuntimeStopped
	// RuntimeFailed means a lap failed (e.g. a poisoned segment); the other trains keep going.
	RuntimeFailed
)

var runtimeStateNames = []string{"idle", "running", "stopped", "failed"}

func (s RuntimeState) String() string {
	if s < 0 || int(s) >= len(runtimeStateNames) {
		return fmt.Sprintf("runtime-state(%d)", int(s))
	}
	return runtimeStateNames[s]
}

func (s RuntimeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RuntimeState) UnmarshalText(data []byte) error {
	for i, name := range runtimeStateNames {
		if name == string(data) {
			*s = RuntimeState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown runtime state %q", data)
}

type RuntimeConf struct {
	Train    *Train
	Circuit  *circuit.Circuit
	Position *Position
	Clock    clock.Clock
	// Tracer is optional.
	Tracer circuit.Tracer
	// Log defaults to zap.S().
	Log *zap.SugaredLogger
}

// Runtime drives one train around its circuit, lap after lap.
type Runtime struct {
	conf RuntimeConf
	log  *zap.SugaredLogger

	lock  sync.Mutex
	state RuntimeState
	err   error
	laps  int
	// lapTrain is what the current lap runs with.
	lapTrain TrainSnapshot

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRuntime(conf RuntimeConf) *Runtime {
	log := conf.Log
	if log == nil {
		log = zap.S()
	}
	return &Runtime{
		conf:     conf,
		log:      log.With("train", int(conf.Train.ID), "color", conf.Train.Color.String()),
		lapTrain: conf.Train.Snapshot(),
		done:     make(chan struct{}),
	}
}

// Run runs laps until ctx is done or a lap fails.
// Trains normally run forever; ctx is there so that tests (and Stop) can end them.
func (r *Runtime) Run(ctx context.Context) error {
	return r.RunLaps(ctx, -1)
}

// RunLaps runs n laps (forever if n is negative).
// The train's velocity is read once at the top of each lap; changes made mid-lap take effect on the next lap.
func (r *Runtime) RunLaps(ctx context.Context, n int) error {
	r.setState(RuntimeRunning, nil)
	for i := 0; n < 0 || i < n; i++ {
		snapshot := r.conf.Train.Snapshot()
		r.lock.Lock()
		r.lapTrain = snapshot
		r.lock.Unlock()
		err := r.conf.Circuit.Run(ctx, r.conf.Position, snapshot, r.conf.Clock, r.conf.Tracer)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				r.setState(RuntimeStopped, nil)
				return err
			}
			r.setState(RuntimeFailed, err)
			return fmt.Errorf("train %d lap %d: %w", int(snapshot.ID), r.Laps(), err)
		}
		r.lock.Lock()
		r.laps++
		r.lock.Unlock()
	}
	r.setState(RuntimeStopped, nil)
	return nil
}

func (r *Runtime) setState(s RuntimeState, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.state = s
	r.err = err
}

// Start runs r on its own goroutine until Stop is called or a lap fails.
// A runtime starts at most once; later calls only log.
func (r *Runtime) Start(ctx context.Context) {
	r.lock.Lock()
	if r.cancel != nil {
		r.lock.Unlock()
		r.log.Warn("already started")
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.lock.Unlock()
	r.log.Infof("starting at %s", r.conf.Circuit.InitialState())
	go func() {
		defer close(r.done)
		err := r.Run(ctx)
		if err != nil && r.State() == RuntimeFailed {
			r.log.Errorw("runtime failed", "err", err)
			return
		}
		r.log.Infof("stopped after %d laps", r.Laps())
	}()
}

// Stop stops a started runtime and waits for it to release its segments.
// If the runtime is waiting on a segment that will never be released (deadlock, or a poisoned holder that never returns), Stop still returns as Acquire gives up on cancellation.
func (r *Runtime) Stop() {
	r.lock.Lock()
	cancel := r.cancel
	r.lock.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-r.done
}

// Done is closed once a started runtime returns.
func (r *Runtime) Done() <-chan struct{} { return r.done }

func (r *Runtime) State() RuntimeState {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.state
}

// Err is why the runtime failed, if it did.
func (r *Runtime) Err() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.err
}

// Laps is the number of completed laps.
func (r *Runtime) Laps() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.laps
}

// LapTrain is the snapshot the current (or last) lap runs with.
// Its velocity can lag Train.Velocity by up to a lap.
func (r *Runtime) LapTrain() TrainSnapshot {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.lapTrain
}
