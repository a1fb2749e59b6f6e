package trace

import (
	"fmt"

	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/tal/circuit"
)

// Violation is a record showing a segment held by two trains at once.
type Violation struct {
	Record
	// Holder is the train that already held the segment.
	Holder TrainID
}

func (v Violation) String() string {
	return fmt.Sprintf("#%d: %s acquired %s while %s held it", v.Seq, v.Train, v.Segment, v.Holder)
}

// Audit replays the stored records and reports every acquisition of a segment that was already held.
// Records released before the retained window are ignored, so a trimmed Store can be audited too.
func (s *Store) Audit() ([]Violation, error) {
	rs, err := s.Recent(0)
	if err != nil {
		return nil, err
	}
	return audit(rs), nil
}

func audit(rs []Record) []Violation {
	holders := map[SegmentID]TrainID{}
	vs := make([]Violation, 0)
	for _, r := range rs {
		switch r.Kind {
		case circuit.EventAcquired:
			if h, ok := holders[r.Segment]; ok && h != r.Train {
				vs = append(vs, Violation{Record: r, Holder: h})
			}
			holders[r.Segment] = r.Train
		case circuit.EventReleased:
			if h, ok := holders[r.Segment]; ok && h == r.Train {
				delete(holders, r.Segment)
			}
		}
	}
	return vs
}
