package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store and SettingsStore backed by maps.
type MemoryStore struct {
	mu       sync.Mutex
	windows  map[windowKey][]time.Time
	cooldown map[string]time.Time
	inflight map[string]int
	circuits map[circuitKey]*CircuitRecord
	settings map[string]string
}

type windowKey struct {
	actor string
	kind  Kind
}

type circuitKey struct {
	actor   string
	service string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:  make(map[windowKey][]time.Time),
		cooldown: make(map[string]time.Time),
		inflight: make(map[string]int),
		circuits: make(map[circuitKey]*CircuitRecord),
		settings: make(map[string]string),
	}
}

func (m *MemoryStore) GetWindow(ctx context.Context, actor string, kind Kind) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.windows[windowKey{actor: actor, kind: kind}]
	if len(events) == 0 {
		return nil, nil
	}
	out := make([]time.Time, len(events))
	copy(out, events)
	return out, nil
}

func (m *MemoryStore) PutWindow(ctx context.Context, actor string, kind Kind, events []time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := windowKey{actor: actor, kind: kind}
	if len(events) == 0 {
		delete(m.windows, key)
		return nil
	}
	stored := make([]time.Time, len(events))
	copy(stored, events)
	m.windows[key] = stored
	return nil
}

func (m *MemoryStore) GetCooldown(ctx context.Context, actor string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mark, ok := m.cooldown[actor]
	return mark, ok, nil
}

func (m *MemoryStore) PutCooldown(ctx context.Context, actor string, mark time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cooldown[actor] = mark
	return nil
}

func (m *MemoryStore) GetConcurrency(ctx context.Context, actor string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.inflight[actor], nil
}

func (m *MemoryStore) PutConcurrency(ctx context.Context, actor string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if count <= 0 {
		delete(m.inflight, actor)
		return nil
	}
	m.inflight[actor] = count
	return nil
}

func (m *MemoryStore) GetCircuit(ctx context.Context, actor, service string) (*CircuitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.circuits[circuitKey{actor: actor, service: service}]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (m *MemoryStore) PutCircuit(ctx context.Context, actor, service string, record *CircuitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := circuitKey{actor: actor, service: service}
	if record == nil {
		delete(m.circuits, key)
		return nil
	}
	clone := *record
	m.circuits[key] = &clone
	return nil
}

func (m *MemoryStore) ListCircuits(ctx context.Context, actor string) (map[string]*CircuitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*CircuitRecord)
	for key, record := range m.circuits {
		if key.actor != actor {
			continue
		}
		clone := *record
		out[key.service] = &clone
	}
	return out, nil
}

func (m *MemoryStore) ResetActor(ctx context.Context, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.windows {
		if key.actor == actor {
			delete(m.windows, key)
		}
	}
	delete(m.cooldown, actor)
	delete(m.inflight, actor)
	for key := range m.circuits {
		if key.actor == actor {
			delete(m.circuits, key)
		}
	}
	return nil
}

func (m *MemoryStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.settings[key]
	return value, ok, nil
}

func (m *MemoryStore) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[key] = value
	return nil
}
