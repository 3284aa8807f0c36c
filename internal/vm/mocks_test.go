package vm

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/yolocloud/internal/store"
	"github.com/jbweber/yolocloud/internal/task"
)

// mockQueue is a mock implementation of the taskQueue interface.
type mockQueue struct {
	mu sync.Mutex

	// Configurable behavior
	enqueueFunc func(ctx context.Context, name task.Name, vmID uuid.UUID, args map[string]string) error

	// Call tracking
	calls []task.Task
}

func (m *mockQueue) Enqueue(ctx context.Context, name task.Name, vmID uuid.UUID, args map[string]string) error {
	m.mu.Lock()
	m.calls = append(m.calls, task.Task{Name: name, VMID: vmID, Args: args})
	fn := m.enqueueFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, name, vmID, args)
	}
	return nil
}

func (m *mockQueue) tasks() []task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]task.Task(nil), m.calls...)
}

// fixedHost always selects the same hypervisor.
type fixedHost string

func (h fixedHost) Select() string { return string(h) }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
