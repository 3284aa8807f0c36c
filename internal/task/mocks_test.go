package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/store"
)

// mockStore is an in-memory implementation of the vmStore interface.
type mockStore struct {
	mu  sync.Mutex
	vms map[uuid.UUID]v1alpha1.VirtualMachine

	// Configurable behavior
	getErr    error
	updateErr error

	// Call tracking
	getCalls    []uuid.UUID
	updateCalls []uuid.UUID
	deleteCalls []uuid.UUID
}

func newMockStore(vms ...*v1alpha1.VirtualMachine) *mockStore {
	m := &mockStore{vms: make(map[uuid.UUID]v1alpha1.VirtualMachine)}
	for _, vm := range vms {
		m.vms[vm.ID] = *vm
	}
	return m
}

func (m *mockStore) GetVM(_ context.Context, id uuid.UUID) (*v1alpha1.VirtualMachine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getCalls = append(m.getCalls, id)
	if m.getErr != nil {
		return nil, m.getErr
	}
	vm, ok := m.vms[id]
	if !ok {
		return nil, fmt.Errorf("vm %s: %w", id, store.ErrNotFound)
	}
	return &vm, nil
}

func (m *mockStore) UpdateVM(_ context.Context, id uuid.UUID, fn func(vm *v1alpha1.VirtualMachine) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCalls = append(m.updateCalls, id)
	if m.updateErr != nil {
		return m.updateErr
	}
	vm, ok := m.vms[id]
	if !ok {
		return fmt.Errorf("vm %s: %w", id, store.ErrNotFound)
	}
	if err := fn(&vm); err != nil {
		return err
	}
	m.vms[id] = vm
	return nil
}

func (m *mockStore) DeleteVM(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteCalls = append(m.deleteCalls, id)
	delete(m.vms, id)
	return nil
}

func (m *mockStore) get(id uuid.UUID) (v1alpha1.VirtualMachine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vm, ok := m.vms[id]
	return vm, ok
}

// mockExecutor records dispatched tasks.
type mockExecutor struct {
	mu    sync.Mutex
	calls []Task

	dispatchFunc func(ctx context.Context, t Task) error
}

func (m *mockExecutor) Dispatch(ctx context.Context, t Task) error {
	m.mu.Lock()
	m.calls = append(m.calls, t)
	fn := m.dispatchFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, t)
	}
	return nil
}

func (m *mockExecutor) tasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Task(nil), m.calls...)
}

// mockPublisher is a mock implementation of jsPublisher.
type mockPublisher struct {
	publishFunc func(subj string, data []byte) (*nats.PubAck, error)

	subjects []string
	payloads [][]byte
}

func (m *mockPublisher) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	m.subjects = append(m.subjects, subj)
	m.payloads = append(m.payloads, data)
	if m.publishFunc != nil {
		return m.publishFunc(subj, data)
	}
	return &nats.PubAck{Stream: DefaultStream}, nil
}

// mockStreams is a mock implementation of jsStreams.
type mockStreams struct {
	infoErr error
	addErr  error

	added []*nats.StreamConfig
}

func (m *mockStreams) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	if m.infoErr != nil {
		return nil, m.infoErr
	}
	return &nats.StreamInfo{Config: nats.StreamConfig{Name: stream}}, nil
}

func (m *mockStreams) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	m.added = append(m.added, cfg)
	if m.addErr != nil {
		return nil, m.addErr
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

// mockAcker records acknowledgements.
type mockAcker struct {
	mu       sync.Mutex
	acks     int
	naks     int
	progress int
	terms    int
	acked    chan struct{}
	naked    chan struct{}
}

func newMockAcker() *mockAcker {
	return &mockAcker{acked: make(chan struct{}, 1), naked: make(chan struct{}, 1)}
}

func (m *mockAcker) Ack(opts ...nats.AckOpt) error {
	m.mu.Lock()
	m.acks++
	m.mu.Unlock()
	m.acked <- struct{}{}
	return nil
}

func (m *mockAcker) Nak(opts ...nats.AckOpt) error {
	m.mu.Lock()
	m.naks++
	m.mu.Unlock()
	m.naked <- struct{}{}
	return nil
}

func (m *mockAcker) InProgress(opts ...nats.AckOpt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress++
	return nil
}

func (m *mockAcker) Term(opts ...nats.AckOpt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms++
	return nil
}

func (m *mockAcker) counts() (acks, naks, progress int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks, m.naks, m.progress
}
