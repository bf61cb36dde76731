package snapcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrInjected is the error returned by Memory's failure hooks.
var ErrInjected = errors.New("snapcache: injected failure")

// Memory is an in-process Cache for tests and local runs.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte

	applies int
	ops     int

	// FailApplyAfter makes Apply fail once this many batches succeeded.
	// Negative disables it.
	FailApplyAfter int

	// FailSetActive makes the next SetActive calls fail while positive,
	// decrementing on each failure.
	FailSetActive int
}

var _ Cache = (*Memory)(nil)

// NewMemory returns an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte), FailApplyAfter: -1}
}

// Apply implements Cache.
func (m *Memory) Apply(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailApplyAfter >= 0 && m.applies >= m.FailApplyAfter {
		return fmt.Errorf("apply batch %d: %w", m.applies+1, ErrInjected)
	}
	for _, op := range ops {
		v := make([]byte, len(op.Value))
		copy(v, op.Value)
		m.data[op.Key] = v
	}
	m.applies++
	m.ops += len(ops)
	return nil
}

// SetActive implements Cache.
func (m *Memory) SetActive(ctx context.Context, campusID, runID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSetActive > 0 {
		m.FailSetActive--
		return fmt.Errorf("set active campus %d: %w", campusID, ErrInjected)
	}
	m.data[ActiveKey(campusID)] = encodePointer(runID)
	return nil
}

// ActiveRun implements Cache.
func (m *Memory) ActiveRun(_ context.Context, campusID int64) (int64, error) {
	v, ok := m.get(ActiveKey(campusID))
	if !ok {
		return 0, ErrNotFound
	}
	return decodePointer(v)
}

// ClusterOf implements Cache.
func (m *Memory) ClusterOf(_ context.Context, runID, userID int64) (int, error) {
	v, ok := m.get(UserKey(runID, userID))
	if !ok {
		return 0, ErrNotFound
	}
	return decodeSeq(v)
}

// Members implements Cache.
func (m *Memory) Members(_ context.Context, runID int64, seq int) ([]Member, error) {
	prefix := MemberPrefix(runID, seq)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Member{}
	for k, v := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		mem, err := memberFromKey(prefix, k, v)
		if err != nil {
			return nil, err
		}
		out = append(out, mem)
	}
	SortMembers(out)
	return out, nil
}

// Applies returns the number of successful Apply batches.
func (m *Memory) Applies() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applies
}

// Ops returns the number of operations written by successful batches.
func (m *Memory) Ops() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ops
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}
