package junkan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SegmentID references a single track segment by its index in the network.
// Segments are totally ordered by SegmentID; anything holding more than one segment at a time must acquire them in ascending order.
type SegmentID int

func (s SegmentID) String() string {
	return fmt.Sprintf("L%d", int(s)+1)
}

// ParseSegmentID parses the form returned by SegmentID.String (e.g. L4).
func ParseSegmentID(s string) (SegmentID, error) {
	if !strings.HasPrefix(s, "L") {
		return 0, fmt.Errorf("segment %q: must start with L", s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return 0, fmt.Errorf("segment %q: %w", s, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("segment %q: must be L1 or higher", s)
	}
	return SegmentID(n - 1), nil
}

func (s SegmentID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SegmentID) UnmarshalText(data []byte) error {
	s2, err := ParseSegmentID(string(data))
	if err != nil {
		return err
	}
	*s = s2
	return nil
}

// TrainID references a single train.
// NoTrain is reserved for "nobody".
type TrainID int

var NoTrain TrainID = -1

// String is the form every message uses, e.g. "train 0".
func (t TrainID) String() string {
	if t == NoTrain {
		return "no train"
	}
	return fmt.Sprintf("train %d", int(t))
}

type Color int

const (
	Green Color = iota
	Purple
	Red
	Blue
)

var colorNames = []string{"green", "purple", "red", "blue"}

// Colors lists all colors in train order.
var Colors = []Color{Green, Purple, Red, Blue}

func (c Color) String() string {
	if c < 0 || int(c) >= len(colorNames) {
		return fmt.Sprintf("color(%d)", int(c))
	}
	return colorNames[c]
}

func ParseColor(s string) (Color, error) {
	for i, name := range colorNames {
		if name == s {
			return Color(i), nil
		}
	}
	return 0, fmt.Errorf("unknown color %q", s)
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(data []byte) error {
	c2, err := ParseColor(string(data))
	if err != nil {
		return err
	}
	*c = c2
	return nil
}

var (
	// ErrInvalidConfiguration is returned when a network, circuit, or train is set up with values that cannot run (e.g. an unknown segment).
	// It is always fatal at startup.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrLockPoisoned is returned when acquiring a segment whose previous holder failed while holding it.
	ErrLockPoisoned = errors.New("lock poisoned")
	ErrUnknownTrain = errors.New("unknown train")
)

// TrainSnapshot is a copy of a train's state at one instant.
type TrainSnapshot struct {
	ID       TrainID `json:"id"`
	Velocity int     `json:"velocity"`
}
