package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFake(t *testing.T) {
	f := new(Fake)
	ctx := context.Background()
	for _, s := range []int{2, 2, 5} {
		if err := f.Sleep(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff([]int{2, 2, 5}, f.Sleeps()); diff != "" {
		t.Fatalf("diff: %s", diff)
	}
	if f.Now() != 9 {
		t.Fatalf("now = %d", f.Now())
	}
}

func TestRealCancel(t *testing.T) {
	r := Real{Scale: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Sleep(ctx, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestRealScale(t *testing.T) {
	r := Real{Scale: time.Millisecond}
	start := time.Now()
	if err := r.Sleep(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 3*time.Millisecond {
		t.Fatalf("slept only %s", elapsed)
	}
}
