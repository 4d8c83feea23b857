package store

import (
	"context"
	"sort"
	"sync"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/pkg/metrics"
)

// MemoryStore is an in-process DurableStore backed by a guarded map. It
// generalizes infrastructure/state.PersistentState.CompareAndSwap from
// byte-equality comparison to integer version comparison.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*flow.Snapshot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*flow.Snapshot)}
}

func (m *MemoryStore) Save(ctx context.Context, snap *flow.Snapshot, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.data[snap.FlowID]
	currentVersion := int64(0)
	if ok {
		currentVersion = existing.Version
	}
	if currentVersion != expectedVersion {
		metrics.CASConflicts.WithLabelValues(snap.FlowType).Inc()
		return ErrVersionConflict
	}

	m.data[snap.FlowID] = snap.Clone()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, flowID string) (*flow.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.data[flowID]
	if !ok {
		return nil, ErrNotFound
	}
	return snap.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, flowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, flowID)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, filter Filter, page Page) ([]*flow.Snapshot, error) {
	m.mu.Lock()
	all := make([]*flow.Snapshot, 0, len(m.data))
	for _, snap := range m.data {
		all = append(all, snap)
	}
	m.mu.Unlock()

	matched := make([]*flow.Snapshot, 0, len(all))
	for _, snap := range all {
		if matches(snap, filter) {
			matched = append(matched, snap.Clone())
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })

	if page.Limit <= 0 {
		page.Limit = 25
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	if page.Offset >= len(matched) {
		return nil, nil
	}
	end := page.Offset + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[page.Offset:end], nil
}

func (m *MemoryStore) ListNonTerminal(ctx context.Context) ([]*flow.Snapshot, error) {
	return m.List(ctx, Filter{NonTerminalOnly: true}, Page{Limit: 1 << 30})
}

func (m *MemoryStore) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*flow.Snapshot)
	return nil
}

func matches(snap *flow.Snapshot, f Filter) bool {
	if f.FlowType != "" && snap.FlowType != f.FlowType {
		return false
	}
	if f.Status != "" && snap.Status != f.Status {
		return false
	}
	if f.NonTerminalOnly && snap.Status.Terminal() {
		return false
	}
	if f.CorrelationID != "" && snap.CorrelationID != f.CorrelationID {
		return false
	}
	if f.UserID != "" && snap.UserID != f.UserID {
		return false
	}
	if f.CreatedAfter != nil && snap.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && snap.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}
