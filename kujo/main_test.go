package kujo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/clock"
	"nyiyui.ca/hato/junkan/tal"
	"nyiyui.ca/hato/junkan/tal/circuit"
	"nyiyui.ca/hato/junkan/tal/layout"
	"nyiyui.ca/hato/junkan/trace"
)

func newGuide(t *testing.T) *tal.Guide {
	n, err := layout.InitJunction13()
	if err != nil {
		t.Fatal(err)
	}
	g, err := tal.NewGuide(tal.GuideConf{
		Network: n,
		Trains:  tal.DefaultTrains,
		Bounds:  tal.DefaultBounds,
		Clock:   &clock.Fake{},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(g.Close)
	return g
}

func newServer(t *testing.T, store *trace.Store) (*tal.Guide, *httptest.Server) {
	g := newGuide(t)
	s := NewServer(g, store)
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return g, ts
}

func do(t *testing.T, method, url string, status int, v any) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != status {
		t.Fatalf("%s %s: status %d, want %d", method, url, resp.StatusCode, status)
	}
	if v == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("%s %s: decode: %s", method, url, err)
	}
}

func TestTrains(t *testing.T) {
	_, ts := newServer(t, nil)
	var tvs []tal.TrainView
	do(t, "GET", ts.URL+"/trains", 200, &tvs)
	got := make([]SegmentID, len(tvs))
	for i, tv := range tvs {
		if tv.ID != TrainID(i) || tv.Color != Colors[i] {
			t.Fatalf("train %d: %#v", i, tv)
		}
		got[i] = tv.Segment
	}
	// where each train starts
	expected := []SegmentID{0, 6, 7, 11}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Fatalf("diff: %s", diff)
	}

	var tv tal.TrainView
	do(t, "GET", ts.URL+"/trains/3", 200, &tv)
	if tv.Color != Blue || tv.Velocity != 4 || tv.State != tal.RuntimeIdle {
		t.Fatalf("train 3: %#v", tv)
	}
	do(t, "GET", ts.URL+"/trains/4", 404, nil)
	do(t, "GET", ts.URL+"/trains/blue", 400, nil)
	do(t, "POST", ts.URL+"/trains", 405, nil)
}

func TestVelocity(t *testing.T) {
	g, ts := newServer(t, nil)
	var vr VelocityResponse
	do(t, "POST", ts.URL+"/trains/0/increment", 200, &vr)
	if diff := cmp.Diff(VelocityResponse{ID: 0, Velocity: 3}, vr); diff != "" {
		t.Fatalf("diff: %s", diff)
	}
	for i := 0; i < 10; i++ {
		do(t, "POST", ts.URL+"/trains/1/decrement", 200, &vr)
	}
	if diff := cmp.Diff(VelocityResponse{ID: 1, Velocity: tal.MinVelocity}, vr); diff != "" {
		t.Fatalf("diff: %s", diff)
	}
	tr, err := g.Train(1)
	if err != nil {
		t.Fatal(err)
	}
	if v := tr.Velocity(); v != tal.MinVelocity {
		t.Fatalf("velocity %d", v)
	}
	do(t, "GET", ts.URL+"/trains/0/increment", 405, nil)
	do(t, "POST", ts.URL+"/trains/9/increment", 404, nil)
	do(t, "POST", ts.URL+"/trains/0/accelerate", 404, nil)
}

func TestHistory(t *testing.T) {
	store, err := trace.Open(uuid.New(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	_, ts := newServer(t, store)
	store.Trace(circuit.Event{Kind: circuit.EventAcquired, Train: 0, Color: Green, Segment: 3})
	store.Trace(circuit.Event{Kind: circuit.EventAcquired, Train: 3, Color: Blue, Segment: 11})
	store.Trace(circuit.Event{Kind: circuit.EventReleased, Train: 0, Color: Green, Segment: 3})

	var rs []trace.Record
	do(t, "GET", ts.URL+"/history?segment=L4", 200, &rs)
	if len(rs) != 2 || rs[0].Kind != circuit.EventAcquired || rs[1].Kind != circuit.EventReleased {
		t.Fatalf("L4: %v", rs)
	}
	do(t, "GET", ts.URL+"/history?train=3", 200, &rs)
	if len(rs) != 1 || rs[0].Segment != 11 {
		t.Fatalf("train 3: %v", rs)
	}
	do(t, "GET", ts.URL+"/history?n=1", 200, &rs)
	if len(rs) != 1 || rs[0].Seq != 2 {
		t.Fatalf("latest: %v", rs)
	}
	do(t, "GET", ts.URL+"/history?segment=4", 400, nil)
	do(t, "GET", ts.URL+"/history?n=all", 400, nil)
}

func TestHistoryNotKept(t *testing.T) {
	_, ts := newServer(t, nil)
	do(t, "GET", ts.URL+"/history", 404, nil)
}

func TestSnapshotStream(t *testing.T) {
	g, ts := newServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan tal.GuideSnapshot, 1)
	c := sse.NewClient(ts.URL + "/events")
	go c.SubscribeWithContext(ctx, StreamSnapshot, func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		var gs tal.GuideSnapshot
		if err := json.Unmarshal(msg.Data, &gs); err != nil {
			return
		}
		select {
		case received <- gs:
		default:
		}
	})
	// the subscription may not be up yet, so keep changing speed until a snapshot arrives
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case gs := <-received:
			if gs.RunID != g.RunID {
				t.Fatalf("run id %s, want %s", gs.RunID, g.RunID)
			}
			if len(gs.Trains) != 4 {
				t.Fatalf("%d trains", len(gs.Trains))
			}
			return
		case <-tick.C:
			if _, err := g.Increment(2); err != nil {
				t.Fatal(err)
			}
			if _, err := g.Decrement(2); err != nil {
				t.Fatal(err)
			}
		case <-timeout:
			t.Fatal("no snapshot")
		}
	}
}
