// Package segbuf implements the per-tag double-buffered segment allocator.
// It is the hot path of the whole service — ID issuance itself waits on the
// durable store only on a cold tag's first request, or when the active
// segment runs out before the standby slot has been refilled.
package segbuf

import "sync/atomic"

// Segment is a contiguous half-open range [lo, hi) reserved atomically from
// the DRS. cursor is the next ID to issue; once cursor >= ceiling the
// segment is exhausted and immutable.
type Segment struct {
	lo      int64 // inclusive lower bound, for diagnostics only
	cursor  int64 // next ID to issue, advanced atomically
	ceiling int64 // exclusive upper bound
}

// newSegment constructs a Segment spanning the reserved range [lo, hi).
func newSegment(lo, hi int64) *Segment {
	return &Segment{lo: lo, cursor: lo, ceiling: hi}
}

// remaining returns how many IDs are still issuable from this segment. May
// be negative transiently if concurrent claims overshot the ceiling; callers
// must clamp.
func (s *Segment) remaining() int64 {
	return s.ceiling - atomic.LoadInt64(&s.cursor)
}

// span returns the total size of the segment.
func (s *Segment) span() int64 {
	return s.ceiling - s.lo
}

// claim attempts to atomically advance cursor by up to want IDs, returning
// the half-open range actually claimed and how many of those IDs are valid
// (<= ceiling). ok is false if the segment was already exhausted before this
// call (cursor had already reached ceiling).
func (s *Segment) claim(want int64) (first int64, n int64, ok bool) {
	if want <= 0 {
		return 0, 0, true
	}
	next := atomic.AddInt64(&s.cursor, want)
	first = next - want
	if first >= s.ceiling {
		// Already exhausted before this call; give back what we took.
		atomic.AddInt64(&s.cursor, -want)
		return 0, 0, false
	}
	if next > s.ceiling {
		// Overshot: only the portion up to ceiling is valid.
		n = s.ceiling - first
	} else {
		n = want
	}
	return first, n, true
}

// exhausted reports whether every ID in the segment has been claimed.
func (s *Segment) exhausted() bool {
	return atomic.LoadInt64(&s.cursor) >= s.ceiling
}
