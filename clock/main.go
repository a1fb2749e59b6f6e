// Package clock converts simulated seconds into waiting.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock blocks the caller for a number of simulated seconds.
type Clock interface {
	// Sleep returns early with ctx.Err() if ctx is done first.
	Sleep(ctx context.Context, seconds int) error
}

// Real sleeps in wall time. One simulated second lasts Scale.
type Real struct {
	Scale time.Duration
}

func (r Real) Sleep(ctx context.Context, seconds int) error {
	if seconds <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(seconds) * r.Scale)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fake never blocks; it only records what it was asked to sleep.
type Fake struct {
	lock   sync.Mutex
	sleeps []int
	total  int
	// OnSleep, if not nil, is called (outside the lock) before Sleep returns.
	OnSleep func(seconds int)
}

func (f *Fake) Sleep(ctx context.Context, seconds int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.lock.Lock()
	f.sleeps = append(f.sleeps, seconds)
	f.total += seconds
	f.lock.Unlock()
	if f.OnSleep != nil {
		f.OnSleep(seconds)
	}
	return nil
}

// Sleeps returns a copy of every sleep so far, in order.
func (f *Fake) Sleeps() []int {
	f.lock.Lock()
	defer f.lock.Unlock()
	res := make([]int, len(f.sleeps))
	copy(res, f.sleeps)
	return res
}

// Now is the total simulated time slept.
func (f *Fake) Now() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.total
}
