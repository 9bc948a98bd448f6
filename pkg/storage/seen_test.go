package storage

import (
	"testing"
	"time"
)

func TestSeenSet_BucketWidth(t *testing.T) {
	if w := newSeenSet(0).width; w != time.Second {
		t.Errorf("zero window width = %v, want 1s", w)
	}
	if w := newSeenSet(32 * time.Minute).width; w != 2*time.Minute {
		t.Errorf("32m window width = %v, want 2m", w)
	}
}

func TestSeenSet_ExpireDropsWholeBuckets(t *testing.T) {
	s := newSeenSet(16 * time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.mark("old-1", base)
	s.mark("old-2", base.Add(30*time.Second))
	s.mark("edge", base.Add(time.Minute))
	s.mark("new", base.Add(10*time.Minute))

	// cutoff lands inside the bucket holding "edge"; that bucket survives
	removed := s.expire(base.Add(90 * time.Second))
	if removed != 2 {
		t.Errorf("removed %d, want 2", removed)
	}
	if s.has("old-1") || s.has("old-2") {
		t.Error("expired ids still present")
	}
	if !s.has("edge") || !s.has("new") {
		t.Error("live ids dropped")
	}
	if s.len() != 2 {
		t.Errorf("len = %d, want 2", s.len())
	}
}

func TestSeenSet_RemarkMovesForward(t *testing.T) {
	s := newSeenSet(16 * time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.mark("m", base)
	s.mark("m", base.Add(5*time.Minute))
	s.mark("m", base)

	if n := s.expire(base.Add(2 * time.Minute)); n != 0 {
		t.Errorf("expired %d ids, want 0 after re-mark", n)
	}
	if !s.has("m") || len(s.buckets) != 1 {
		t.Errorf("unexpected state: has=%v buckets=%d", s.has("m"), len(s.buckets))
	}
}

func TestSeenSet_Remove(t *testing.T) {
	s := newSeenSet(16 * time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.mark("a", base)
	s.mark("b", base)
	s.remove("a")
	s.remove("missing")

	if s.has("a") || !s.has("b") {
		t.Fatalf("after remove: has(a)=%v has(b)=%v", s.has("a"), s.has("b"))
	}
	s.remove("b")
	if len(s.buckets) != 0 || s.len() != 0 {
		t.Errorf("empty set still holds %d buckets, %d ids", len(s.buckets), s.len())
	}
}
