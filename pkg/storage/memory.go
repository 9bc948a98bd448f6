package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"spacecomms/pkg/cdm"
	"spacecomms/pkg/types"
)

// Memory is the in-process backend. Each collection has its own lock so
// readers of one collection never wait on writers to another.
type Memory struct {
	cdmsMu sync.RWMutex
	cdms   map[types.CdmID]*cdm.Record

	objectsMu sync.RWMutex
	objects   map[types.ObjectID]*cdm.ObjectRecord

	seenMu sync.RWMutex
	seen   *seenSet
}

var _ Storage = (*Memory)(nil)

// NewMemory creates an empty store whose seen set is bucketed for the given
// dedup window.
func NewMemory(dedupWindow time.Duration) *Memory {
	return &Memory{
		cdms:    make(map[types.CdmID]*cdm.Record),
		objects: make(map[types.ObjectID]*cdm.ObjectRecord),
		seen:    newSeenSet(dedupWindow),
	}
}

func (m *Memory) StoreCDM(ctx context.Context, r *cdm.Record) error {
	if r == nil || r.CdmID == "" {
		return types.Errorf(types.KindStorage, "cdm without id")
	}
	cp := *r

	m.cdmsMu.Lock()
	m.cdms[r.CdmID] = &cp
	m.cdmsMu.Unlock()
	return nil
}

func (m *Memory) GetCDM(ctx context.Context, id types.CdmID) (*cdm.Record, error) {
	m.cdmsMu.RLock()
	r, ok := m.cdms[id]
	m.cdmsMu.RUnlock()

	if !ok {
		return nil, types.NotFound("cdm %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) ListCDMs(ctx context.Context) ([]*cdm.Record, error) {
	m.cdmsMu.RLock()
	out := make([]*cdm.Record, 0, len(m.cdms))
	for _, r := range m.cdms {
		cp := *r
		out = append(out, &cp)
	}
	m.cdmsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CdmID < out[j].CdmID })
	return out, nil
}

func (m *Memory) WithdrawCDM(ctx context.Context, id types.CdmID) error {
	m.cdmsMu.Lock()
	defer m.cdmsMu.Unlock()

	if _, ok := m.cdms[id]; !ok {
		return types.NotFound("cdm %s not found", id)
	}
	delete(m.cdms, id)
	return nil
}

func (m *Memory) CdmCount(ctx context.Context) (int, error) {
	m.cdmsMu.RLock()
	defer m.cdmsMu.RUnlock()
	return len(m.cdms), nil
}

func (m *Memory) StoreObject(ctx context.Context, o *cdm.ObjectRecord) error {
	if o == nil || o.ObjectID == "" {
		return types.Errorf(types.KindStorage, "object without id")
	}
	cp := *o

	m.objectsMu.Lock()
	m.objects[o.ObjectID] = &cp
	m.objectsMu.Unlock()
	return nil
}

func (m *Memory) GetObject(ctx context.Context, id types.ObjectID) (*cdm.ObjectRecord, error) {
	m.objectsMu.RLock()
	o, ok := m.objects[id]
	m.objectsMu.RUnlock()

	if !ok {
		return nil, types.NotFound("object %s not found", id)
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) ListObjects(ctx context.Context) ([]*cdm.ObjectRecord, error) {
	m.objectsMu.RLock()
	out := make([]*cdm.ObjectRecord, 0, len(m.objects))
	for _, o := range m.objects {
		cp := *o
		out = append(out, &cp)
	}
	m.objectsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ObjectID < out[j].ObjectID })
	return out, nil
}

func (m *Memory) WithdrawObject(ctx context.Context, id types.ObjectID) error {
	m.objectsMu.Lock()
	defer m.objectsMu.Unlock()

	if _, ok := m.objects[id]; !ok {
		return types.NotFound("object %s not found", id)
	}
	delete(m.objects, id)
	return nil
}

func (m *Memory) ObjectCount(ctx context.Context) (int, error) {
	m.objectsMu.RLock()
	defer m.objectsMu.RUnlock()
	return len(m.objects), nil
}

func (m *Memory) HasSeenMessage(ctx context.Context, id types.MessageID) (bool, error) {
	m.seenMu.RLock()
	defer m.seenMu.RUnlock()
	return m.seen.has(id), nil
}

func (m *Memory) MarkMessageSeen(ctx context.Context, id types.MessageID, at time.Time) error {
	m.seenMu.Lock()
	m.seen.mark(id, at)
	m.seenMu.Unlock()
	return nil
}

func (m *Memory) ClaimMessage(ctx context.Context, id types.MessageID, at time.Time) (bool, error) {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	if m.seen.has(id) {
		return false, nil
	}
	m.seen.mark(id, at)
	return true, nil
}

func (m *Memory) ForgetMessage(ctx context.Context, id types.MessageID) error {
	m.seenMu.Lock()
	m.seen.remove(id)
	m.seenMu.Unlock()
	return nil
}

func (m *Memory) ExpireSeenMessages(ctx context.Context, cutoff time.Time) (int, error) {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	return m.seen.expire(cutoff), nil
}

func (m *Memory) SeenCount(ctx context.Context) (int, error) {
	m.seenMu.RLock()
	defer m.seenMu.RUnlock()
	return m.seen.len(), nil
}

func (m *Memory) Close() error { return nil }
