// Package kujo serves a Guide over HTTP: server-sent events for snapshots and circuit events, and a small JSON API for speed control and history.
package kujo

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/tal"
	"nyiyui.ca/hato/junkan/tal/circuit"
	"nyiyui.ca/hato/junkan/trace"
)

const (
	StreamSnapshot = "snapshot"
	StreamEvents   = "events"

	defaultHistory = 64
)

type Server struct {
	g     *tal.Guide
	store *trace.Store
	s     *sse.Server
	sm    *http.ServeMux
	log   *zap.SugaredLogger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewServer starts forwarding g's snapshots and events.
// store may be nil, in which case /history is not found.
func NewServer(g *tal.Guide, store *trace.Store) *Server {
	s := &Server{
		g:     g,
		store: store,
		s:     sse.New(),
		sm:    http.NewServeMux(),
		log:   zap.S().Named("kujo"),
		done:  make(chan struct{}),
	}
	// late subscribers only want what happens next
	s.s.AutoReplay = false
	s.s.CreateStream(StreamSnapshot)
	s.s.CreateStream(StreamEvents)
	s.sm.Handle("/events", s.s)
	s.sm.HandleFunc("/snapshot", s.handleSnapshot)
	s.sm.HandleFunc("/trains", s.handleTrains)
	s.sm.HandleFunc("/trains/", s.handleTrain)
	s.sm.HandleFunc("/history", s.handleHistory)
	s.wg.Add(2)
	go s.forwardSnapshots()
	go s.forwardEvents()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.sm.ServeHTTP(w, r)
}

// Close stops forwarding and disconnects every event stream client.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.s.Close()
	})
}

func (s *Server) publish(stream, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Errorf("marshal json: %s", err)
		return
	}
	s.s.TryPublish(stream, &sse.Event{
		Event: []byte(event),
		Data:  data,
	})
}

func (s *Server) forwardSnapshots() {
	defer s.wg.Done()
	ch := make(chan tal.GuideSnapshot)
	s.g.Snapshots.Subscribe("kujo", ch)
	defer s.g.Snapshots.Unsubscribe(ch)
	for {
		select {
		case gs := <-ch:
			s.publish(StreamSnapshot, StreamSnapshot, gs)
		case <-s.done:
			return
		}
	}
}

func (s *Server) forwardEvents() {
	defer s.wg.Done()
	ch := make(chan circuit.Event)
	s.g.Events.Subscribe("kujo", ch)
	defer s.g.Events.Unsubscribe(ch)
	for {
		select {
		case e := <-ch:
			s.publish(StreamEvents, e.Kind.String(), e)
		case <-s.done:
			return
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Infof("write response: %s", err)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.g.Snapshot())
}

func (s *Server) handleTrains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.g.Snapshot().Trains)
}

// VelocityResponse is the reply to a speed change.
type VelocityResponse struct {
	ID       TrainID `json:"id"`
	Velocity int     `json:"velocity"`
}

// handleTrain serves GET /trains/{id}, POST /trains/{id}/increment, and POST /trains/{id}/decrement.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/trains/"), "/")
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		http.Error(w, fmt.Sprintf("train id: %s", err), http.StatusBadRequest)
		return
	}
	id := TrainID(n)
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if _, err := s.g.Train(id); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.writeJSON(w, s.g.Snapshot().Trains[n])
	case len(parts) == 2 && (parts[1] == "increment" || parts[1] == "decrement"):
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		change := s.g.Increment
		if parts[1] == "decrement" {
			change = s.g.Decrement
		}
		v, err := change(id)
		if errors.Is(err, ErrUnknownTrain) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		} else if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, VelocityResponse{ID: id, Velocity: v})
	default:
		http.NotFound(w, r)
	}
}

// handleHistory serves the latest events, optionally only those about ?segment= or ?train=, up to ?n= of them.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "history is not kept", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	n := defaultHistory
	if raw := q.Get("n"); raw != "" {
		var err error
		n, err = strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("n: %s", err), http.StatusBadRequest)
			return
		}
	}
	var rs []trace.Record
	var err error
	switch {
	case q.Has("segment"):
		var id SegmentID
		id, err = ParseSegmentID(q.Get("segment"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rs, err = s.store.Segment(id, n)
	case q.Has("train"):
		var id int
		id, err = strconv.Atoi(q.Get("train"))
		if err != nil {
			http.Error(w, fmt.Sprintf("train: %s", err), http.StatusBadRequest)
			return
		}
		rs, err = s.store.Train(TrainID(id), n)
	default:
		rs, err = s.store.Recent(n)
	}
	if err != nil {
		s.log.Errorf("history: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, rs)
}
