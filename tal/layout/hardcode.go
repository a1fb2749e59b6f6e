package layout

// JunctionSegments is the number of segments in the junction layout (L1 to L13).
const JunctionSegments = 13

// JunctionDistance is the distance of every segment in the junction layout.
const JunctionDistance = 5

// InitJunction13 makes the four-loop junction layout: three small loops side by side (L1–L10) and a large loop (L11–L13) beneath that shares L4, L6, and L10 with them.
func InitJunction13() (*Network, error) {
	return NewNetwork(JunctionSegments, JunctionDistance)
}
