package trace

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/clock"
	"nyiyui.ca/hato/junkan/tal/circuit"
	"nyiyui.ca/hato/junkan/tal/layout"
)

func open(t *testing.T, retain int) *Store {
	s, err := Open(uuid.New(), retain)
	if err != nil {
		t.Fatalf("open: %s", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func events(rs []Record) []circuit.Event {
	res := make([]circuit.Event, len(rs))
	for i, r := range rs {
		res[i] = r.Event
	}
	return res
}

func TestRecent(t *testing.T) {
	s := open(t, 0)
	want := []circuit.Event{
		{Kind: circuit.EventAcquired, Train: 0, Color: Green, Segment: 0},
		{Kind: circuit.EventEntered, Train: 0, Color: Green, Segment: 0},
		{Kind: circuit.EventReleased, Train: 0, Color: Green, Segment: 0},
		{Kind: circuit.EventAcquired, Train: 1, Color: Purple, Segment: 6},
	}
	for _, e := range want {
		s.Trace(e)
	}
	rs, err := s.Recent(0)
	if err != nil {
		t.Fatalf("recent: %s", err)
	}
	if diff := cmp.Diff(want, events(rs)); diff != "" {
		t.Fatalf("diff (-want +got):\n%s", diff)
	}
	for i, r := range rs {
		if r.Seq != int64(i) {
			t.Fatalf("record %d: seq %d", i, r.Seq)
		}
		if r.RunID != s.RunID {
			t.Fatalf("record %d: run %s", i, r.RunID)
		}
	}
	rs, err = s.Recent(2)
	if err != nil {
		t.Fatalf("recent: %s", err)
	}
	if diff := cmp.Diff(want[2:], events(rs)); diff != "" {
		t.Fatalf("diff (-want +got):\n%s", diff)
	}
}

func TestRetain(t *testing.T) {
	s := open(t, 3)
	for i := 0; i < 10; i++ {
		s.Trace(circuit.Event{Kind: circuit.EventEntered, Segment: SegmentID(i)})
	}
	n, err := s.Len()
	if err != nil {
		t.Fatalf("len: %s", err)
	}
	if n != 3 {
		t.Fatalf("len: %d", n)
	}
	rs, err := s.Recent(0)
	if err != nil {
		t.Fatalf("recent: %s", err)
	}
	got := make([]SegmentID, len(rs))
	for i, r := range rs {
		got[i] = r.Segment
	}
	if !cmp.Equal(got, []SegmentID{7, 8, 9}) {
		t.Fatalf("got %s", got)
	}
}

func TestSegmentTrain(t *testing.T) {
	s := open(t, 0)
	s.Trace(circuit.Event{Kind: circuit.EventAcquired, Train: 0, Segment: 3})
	s.Trace(circuit.Event{Kind: circuit.EventAcquired, Train: 1, Segment: 4})
	s.Trace(circuit.Event{Kind: circuit.EventReleased, Train: 0, Segment: 3})
	s.Trace(circuit.Event{Kind: circuit.EventAcquired, Train: 3, Segment: 3})
	s.Trace(circuit.Event{Kind: circuit.EventAcquired, Train: 0, Segment: 11})

	rs, err := s.Segment(3, 0)
	if err != nil {
		t.Fatalf("segment: %s", err)
	}
	want := []circuit.Event{
		{Kind: circuit.EventAcquired, Train: 0, Segment: 3},
		{Kind: circuit.EventReleased, Train: 0, Segment: 3},
		{Kind: circuit.EventAcquired, Train: 3, Segment: 3},
	}
	if diff := cmp.Diff(want, events(rs)); diff != "" {
		t.Fatalf("diff (-want +got):\n%s", diff)
	}
	rs, err = s.Segment(3, 1)
	if err != nil {
		t.Fatalf("segment: %s", err)
	}
	if diff := cmp.Diff(want[2:], events(rs)); diff != "" {
		t.Fatalf("diff (-want +got):\n%s", diff)
	}

	rs, err = s.Train(0, 0)
	if err != nil {
		t.Fatalf("train: %s", err)
	}
	want = []circuit.Event{
		{Kind: circuit.EventAcquired, Train: 0, Segment: 3},
		{Kind: circuit.EventReleased, Train: 0, Segment: 3},
		{Kind: circuit.EventAcquired, Train: 0, Segment: 11},
	}
	if diff := cmp.Diff(want, events(rs)); diff != "" {
		t.Fatalf("diff (-want +got):\n%s", diff)
	}

	rs, err = s.Segment(12, 0)
	if err != nil {
		t.Fatalf("segment: %s", err)
	}
	if len(rs) != 0 {
		t.Fatalf("got %v", rs)
	}
}

func TestAudit(t *testing.T) {
	rs := []Record{
		// released before the window
		{Seq: 0, Event: circuit.Event{Kind: circuit.EventReleased, Train: 2, Segment: 4}},
		{Seq: 1, Event: circuit.Event{Kind: circuit.EventAcquired, Train: 0, Segment: 4}},
		{Seq: 2, Event: circuit.Event{Kind: circuit.EventAcquired, Train: 1, Segment: 4}},
		{Seq: 3, Event: circuit.Event{Kind: circuit.EventReleased, Train: 0, Segment: 4}},
		{Seq: 4, Event: circuit.Event{Kind: circuit.EventAcquired, Train: 2, Segment: 5}},
	}
	vs := audit(rs)
	if len(vs) != 1 {
		t.Fatalf("violations: %v", vs)
	}
	if vs[0].Seq != 2 || vs[0].Holder != 0 {
		t.Fatalf("violation: %s", vs[0])
	}
}

type discard struct{}

func (discard) Write(SegmentID) {}

func TestAuditCircuits(t *testing.T) {
	s := open(t, 0)
	n, err := layout.InitJunction13()
	if err != nil {
		t.Fatalf("layout: %s", err)
	}
	var wg sync.WaitGroup
	for i, color := range Colors {
		c, err := circuit.NewVariant(color, circuit.Network(n))
		if err != nil {
			t.Fatalf("circuit %s: %s", color, err)
		}
		wg.Add(1)
		go func(i int, c *circuit.Circuit) {
			defer wg.Done()
			sink := discard{}
			for lap := 0; lap < 20; lap++ {
				err := c.Run(context.Background(), sink, TrainSnapshot{ID: TrainID(i), Velocity: 5}, &clock.Fake{}, s)
				if err != nil {
					t.Errorf("train %d: %s", i, err)
					return
				}
			}
		}(i, c)
	}
	wg.Wait()
	vs, err := s.Audit()
	if err != nil {
		t.Fatalf("audit: %s", err)
	}
	if len(vs) != 0 {
		t.Fatalf("violations: %v", vs)
	}
	rs, err := s.Segment(3, 0)
	if err != nil {
		t.Fatalf("segment: %s", err)
	}
	if len(rs) == 0 {
		t.Fatalf("no records for L4")
	}
}
