// Package trace keeps a bounded, queryable history of circuit events.
package trace

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/buntdb"
	"go.uber.org/zap"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/tal/circuit"
)

const (
	// DefaultRetain is how many records a Store keeps when none is given.
	DefaultRetain = 4096

	keyPrefix    = "event:"
	segmentIndex = "segment"
	trainIndex   = "train"
)

// Record is one stored event.
type Record struct {
	Seq   int64     `json:"seq"`
	RunID uuid.UUID `json:"run-id"`
	Time  time.Time `json:"time"`
	circuit.Event
}

// Store records events in an in-memory buntdb database.
// It is a circuit.Tracer.
type Store struct {
	RunID  uuid.UUID
	db     *buntdb.DB
	retain int64

	// lock orders records the same way their events happened.
	lock sync.Mutex
	seq  int64
}

// Open makes an empty Store for the run runID, keeping the latest retain records (DefaultRetain if not positive).
func Open(runID uuid.UUID, retain int) (*Store, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	err = db.CreateIndex(segmentIndex, keyPrefix+"*", buntdb.IndexJSON("segment"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create index %s: %w", segmentIndex, err)
	}
	err = db.CreateIndex(trainIndex, keyPrefix+"*", buntdb.IndexJSON("train"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create index %s: %w", trainIndex, err)
	}
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Store{
		RunID:  runID,
		db:     db,
		retain: int64(retain),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(seq int64) string {
	return fmt.Sprintf("%s%020d", keyPrefix, seq)
}

// Trace stores e, dropping the oldest record if the Store is full.
// Failures are logged, never returned, so that tracing can't stop a train.
func (s *Store) Trace(e circuit.Event) {
	s.lock.Lock()
	defer s.lock.Unlock()
	r := Record{
		Seq:   s.seq,
		RunID: s.RunID,
		Time:  time.Now(),
		Event: e,
	}
	data, err := json.Marshal(r)
	if err != nil {
		zap.S().Errorf("trace: marshal %v: %s", e, err)
		return
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(key(r.Seq), string(data), nil); err != nil {
			return err
		}
		if old := r.Seq - s.retain; old >= 0 {
			if _, err := tx.Delete(key(old)); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
	if err != nil {
		zap.S().Errorf("trace: store %v: %s", e, err)
		return
	}
	s.seq++
}

func decode(v string) (Record, error) {
	var r Record
	err := json.Unmarshal([]byte(v), &r)
	return r, err
}

// Len is the number of records kept.
func (s *Store) Len() (n int, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		n, err = tx.Len()
		return err
	})
	return
}

// Recent returns the latest n records (all of them if n is not positive), oldest first.
func (s *Store) Recent(n int) ([]Record, error) {
	res := make([]Record, 0)
	var derr error
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.DescendKeys(keyPrefix+"*", func(k, v string) bool {
			r, err := decode(v)
			if err != nil {
				derr = fmt.Errorf("record %s: %w", k, err)
				return false
			}
			res = append(res, r)
			return n <= 0 || len(res) < n
		})
	})
	if err != nil {
		return nil, err
	}
	if derr != nil {
		return nil, derr
	}
	reverse(res)
	return res, nil
}

// Segment returns the latest n records about segment id (all if n is not positive), oldest first.
func (s *Store) Segment(id SegmentID, n int) ([]Record, error) {
	pivot, err := json.Marshal(map[string]SegmentID{"segment": id})
	if err != nil {
		return nil, err
	}
	return s.equal(segmentIndex, string(pivot), n)
}

// Train returns the latest n records about train id (all if n is not positive), oldest first.
func (s *Store) Train(id TrainID, n int) ([]Record, error) {
	pivot, err := json.Marshal(map[string]TrainID{"train": id})
	if err != nil {
		return nil, err
	}
	return s.equal(trainIndex, string(pivot), n)
}

func (s *Store) equal(index, pivot string, n int) ([]Record, error) {
	res := make([]Record, 0)
	var derr error
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendEqual(index, pivot, func(k, v string) bool {
			r, err := decode(v)
			if err != nil {
				derr = fmt.Errorf("record %s: %w", k, err)
				return false
			}
			res = append(res, r)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	if derr != nil {
		return nil, derr
	}
	// equal keys are ordered by key, i.e. by Seq
	if n > 0 && len(res) > n {
		res = res[len(res)-n:]
	}
	return res, nil
}

func reverse(rs []Record) {
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
}
