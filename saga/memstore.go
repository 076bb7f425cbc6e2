package saga

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a fully in-memory Store. Safe for concurrent access. Intended
// for unit testing and development; production uses pgstore.SagaStore.
type MemStore struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]*Instance
	history   map[uuid.UUID]map[int]Outcome
	leases    map[uuid.UUID]time.Time

	// now is swappable so tests can control lease expiry.
	now func() time.Time
}

// NewMemStore returns a new empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		instances: make(map[uuid.UUID]*Instance),
		history:   make(map[uuid.UUID]map[int]Outcome),
		leases:    make(map[uuid.UUID]time.Time),
		now:       time.Now,
	}
}

func (m *MemStore) CreateInstance(_ context.Context, inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inst
	cp.CreatedAt = m.now()
	cp.UpdatedAt = cp.CreatedAt
	m.instances[inst.ID] = &cp
	m.history[inst.ID] = make(map[int]Outcome)
	return nil
}

func (m *MemStore) GetInstance(_ context.Context, id uuid.UUID) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *MemStore) History(_ context.Context, id uuid.UUID) ([]Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.history[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	out := make([]Outcome, 0, len(entries))
	for _, o := range entries {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemStore) RecordOutcome(_ context.Context, id uuid.UUID, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.history[id]
	if !ok {
		return ErrInstanceNotFound
	}
	// First write wins.
	if _, exists := entries[o.Seq]; exists {
		return nil
	}
	entries[o.Seq] = o
	return nil
}

func (m *MemStore) Claim(_ context.Context, id uuid.UUID, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return false, ErrInstanceNotFound
	}
	if !m.claimable(inst) {
		return false, nil
	}
	m.claim(inst, lease)
	return true, nil
}

func (m *MemStore) ClaimNext(_ context.Context, workflows []string, lease time.Duration) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]bool, len(workflows))
	for _, w := range workflows {
		wanted[w] = true
	}

	var oldest *Instance
	for _, inst := range m.instances {
		if len(wanted) > 0 && !wanted[inst.Workflow] {
			continue
		}
		if !m.claimable(inst) {
			continue
		}
		if oldest == nil || inst.CreatedAt.Before(oldest.CreatedAt) {
			oldest = inst
		}
	}
	if oldest == nil {
		return nil, nil
	}
	m.claim(oldest, lease)
	cp := *oldest
	return &cp, nil
}

func (m *MemStore) Heartbeat(_ context.Context, id uuid.UUID, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[id]; !ok {
		return ErrInstanceNotFound
	}
	m.leases[id] = m.now().Add(lease)
	return nil
}

func (m *MemStore) Complete(_ context.Context, id uuid.UUID, output json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return ErrInstanceNotFound
	}
	if inst.Status.Terminal() {
		return nil
	}
	inst.Status = StatusCompleted
	inst.Output = output
	inst.UpdatedAt = m.now()
	delete(m.leases, id)
	return nil
}

func (m *MemStore) Fail(_ context.Context, id uuid.UUID, f *Fault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return ErrInstanceNotFound
	}
	if inst.Status.Terminal() {
		return nil
	}
	inst.Status = StatusFailed
	inst.Fault = f
	inst.UpdatedAt = m.now()
	delete(m.leases, id)
	return nil
}

func (m *MemStore) CancelScheduled(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return false, ErrInstanceNotFound
	}
	if inst.Status != StatusScheduled {
		return false, nil
	}
	inst.Status = StatusFailed
	inst.Fault = &Fault{Kind: FaultValidation, Code: "cancelled", Message: "cancelled before execution"}
	inst.UpdatedAt = m.now()
	return true, nil
}

// claimable requires the caller to hold m.mu.
func (m *MemStore) claimable(inst *Instance) bool {
	switch inst.Status {
	case StatusScheduled:
		return true
	case StatusRunning:
		return m.leases[inst.ID].Before(m.now())
	default:
		return false
	}
}

// claim requires the caller to hold m.mu.
func (m *MemStore) claim(inst *Instance, lease time.Duration) {
	inst.Status = StatusRunning
	inst.UpdatedAt = m.now()
	m.leases[inst.ID] = m.now().Add(lease)
}
