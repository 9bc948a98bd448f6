package storage

import (
	"time"

	"spacecomms/pkg/types"
)

const minBucketWidth = time.Second

// seenSet is a set of message ids partitioned into fixed-width time buckets,
// so expiry drops whole buckets instead of scanning every id. It is not
// safe for concurrent use.
type seenSet struct {
	width   time.Duration
	buckets map[int64]map[types.MessageID]struct{}
	index   map[types.MessageID]int64
}

// newSeenSet sizes buckets at a sixteenth of window, never below one second.
func newSeenSet(window time.Duration) *seenSet {
	width := window / 16
	if width < minBucketWidth {
		width = minBucketWidth
	}
	return &seenSet{
		width:   width,
		buckets: make(map[int64]map[types.MessageID]struct{}),
		index:   make(map[types.MessageID]int64),
	}
}

func (s *seenSet) bucketOf(t time.Time) int64 {
	return t.UnixNano() / int64(s.width)
}

func (s *seenSet) has(id types.MessageID) bool {
	_, ok := s.index[id]
	return ok
}

// mark records id at t. Re-marking moves an id forward in time, never back.
func (s *seenSet) mark(id types.MessageID, t time.Time) {
	b := s.bucketOf(t)
	if old, ok := s.index[id]; ok {
		if old >= b {
			return
		}
		delete(s.buckets[old], id)
		if len(s.buckets[old]) == 0 {
			delete(s.buckets, old)
		}
	}

	bucket, ok := s.buckets[b]
	if !ok {
		bucket = make(map[types.MessageID]struct{})
		s.buckets[b] = bucket
	}
	bucket[id] = struct{}{}
	s.index[id] = b
}

func (s *seenSet) remove(id types.MessageID) {
	b, ok := s.index[id]
	if !ok {
		return
	}
	delete(s.index, id)
	delete(s.buckets[b], id)
	if len(s.buckets[b]) == 0 {
		delete(s.buckets, b)
	}
}

// expire drops every bucket that ends at or before cutoff.
func (s *seenSet) expire(cutoff time.Time) int {
	limit := s.bucketOf(cutoff)
	removed := 0
	for b, ids := range s.buckets {
		if b >= limit {
			continue
		}
		for id := range ids {
			delete(s.index, id)
		}
		removed += len(ids)
		delete(s.buckets, b)
	}
	return removed
}

func (s *seenSet) len() int {
	return len(s.index)
}
