package circuit

import (
	"fmt"

	. "nyiyui.ca/hato/junkan"
)

func seg(name string) SegmentID {
	id, err := ParseSegmentID(name)
	if err != nil {
		panic(err)
	}
	return id
}

func exclusives(names ...string) []Step {
	res := make([]Step, len(names))
	for i, name := range names {
		res[i] = ExclusiveStep(seg(name))
	}
	return res
}

// Routes are the circuits of the junction layout (see layout.InitJunction13), one per color.
// Only blue holds more than one segment at a time: it takes the whole L4–L6–L10 crossing before entering it.
var Routes = map[Color][]Step{
	Green:  exclusives("L1", "L2", "L3", "L4"),
	Purple: exclusives("L7", "L5", "L6", "L3"),
	Red:    exclusives("L8", "L9", "L10", "L5"),
	Blue: append(
		exclusives("L12", "L13", "L11"),
		BatchHoldStep(
			[]SegmentID{seg("L4"), seg("L6"), seg("L10")},
			[]SegmentID{seg("L4"), seg("L6"), seg("L10")},
		),
	),
}

// NewVariant makes the circuit for color.
func NewVariant(color Color, resolve Resolver) (*Circuit, error) {
	route, ok := Routes[color]
	if !ok {
		return nil, fmt.Errorf("no circuit for color %s: %w", color, ErrInvalidConfiguration)
	}
	return New(color, route, resolve)
}
