package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerfabric/sequencer/internal/errs"
	"github.com/ledgerfabric/sequencer/internal/model"
)

// MemStore is a non-durable Store backed by process memory, intended
// for tests and single-node development, not production deployment.
type MemStore struct {
	mu sync.RWMutex

	members    map[model.Member]model.MemberID
	payloads   map[model.PayloadID]model.Payload
	events     []model.Event
	watermarks map[int]model.Watermark
	acked      map[model.MemberID]uint64

	closed bool
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		members:    make(map[model.Member]model.MemberID),
		payloads:   make(map[model.PayloadID]model.Payload),
		watermarks: make(map[int]model.Watermark),
		acked:      make(map[model.MemberID]uint64),
	}
}

func (m *MemStore) RegisterMember(_ context.Context, identity model.Member, id model.MemberID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.members[identity] = id
	return nil
}

func (m *MemStore) SavePayloads(_ context.Context, payloads []model.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, p := range payloads {
		m.payloads[p.ID] = p
	}
	return nil
}

func (m *MemStore) SaveEvents(_ context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	//1.- Require the incoming batch to extend the log contiguously.
	var expected uint64 = 0
	if len(m.events) > 0 {
		expected = m.events[len(m.events)-1].Counter + 1
	}
	for i, e := range events {
		if e.Counter != expected+uint64(i) {
			return fmt.Errorf("store: %w: expected counter %d, got %d", errs.ErrCounterConflict, expected+uint64(i), e.Counter)
		}
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *MemStore) SaveWatermark(_ context.Context, wm model.Watermark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if prev, ok := m.watermarks[wm.InstanceIndex]; ok && wm.Timestamp.Before(prev.Timestamp) {
		return fmt.Errorf("store: %w: instance %d regressed from %s to %s",
			errs.ErrWatermarkRegression, wm.InstanceIndex, prev.Timestamp, wm.Timestamp)
	}
	m.watermarks[wm.InstanceIndex] = wm
	return nil
}

func (m *MemStore) FetchWatermark(_ context.Context, instanceIndex int) (model.Watermark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wm, ok := m.watermarks[instanceIndex]
	if !ok {
		return model.Watermark{}, ErrNotFound
	}
	return wm, nil
}

func (m *MemStore) ReadEvents(_ context.Context, from uint64, limit int) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := sort.Search(len(m.events), func(i int) bool { return m.events[i].Counter >= from })
	remaining := m.events[start:]
	if limit > 0 && len(remaining) > limit {
		remaining = remaining[:limit]
	}
	out := make([]model.Event, len(remaining))
	copy(out, remaining)
	return out, nil
}

func (m *MemStore) Acknowledge(_ context.Context, member model.MemberID, through uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if prev, ok := m.acked[member]; ok && through < prev {
		return nil
	}
	m.acked[member] = through
	return nil
}

// Acked exposes a member's last acknowledged counter, used by tests and
// the inspection tool.
func (m *MemStore) Acked(member model.MemberID) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.acked[member]
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Store = (*MemStore)(nil)
