package vision

// maxLabels bounds the provisional label space for one frame. Worst-case
// SVGA scenes can touch thousands of provisional labels, but in practice a
// night scene holds a handful of lights; 512 leaves generous headroom while
// keeping the accumulator tables small enough to live in the detector.
// Label 0 is reserved for background.
const maxLabels = 512

// labelSet is a bounded disjoint-set over provisional blob labels. It is a
// plain value owned by one Detector, never package state, so detection is
// reentrant and two detectors cannot contaminate each other's labels.
type labelSet struct {
	parent [maxLabels]uint16
	next   uint16 // next unassigned label; valid labels are 1..next-1
}

// reset prepares the set for a new frame.
func (s *labelSet) reset() {
	s.next = 1
}

// alloc returns a fresh label, or ok=false when the label space is
// exhausted. Exhaustion is a documented degraded-accuracy mode: the caller
// drops the would-be blob rather than failing the frame.
func (s *labelSet) alloc() (uint16, bool) {
	if s.next >= maxLabels {
		return 0, false
	}
	l := s.next
	s.parent[l] = l
	s.next++
	return l, true
}

// find resolves a label to its root, halving the path as it walks.
func (s *labelSet) find(x uint16) uint16 {
	for s.parent[x] != x {
		s.parent[x] = s.parent[s.parent[x]]
		x = s.parent[x]
	}
	return x
}

// union merges the sets holding a and b. The higher root is attached to the
// lower so the smallest provisional label always wins, which keeps label
// resolution deterministic for identical frames.
func (s *labelSet) union(a, b uint16) {
	ra, rb := s.find(a), s.find(b)
	switch {
	case ra < rb:
		s.parent[rb] = ra
	case rb < ra:
		s.parent[ra] = rb
	}
}
