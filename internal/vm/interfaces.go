package vm

import (
	"context"

	"github.com/google/uuid"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/store"
	"github.com/jbweber/yolocloud/internal/task"
)

// vmStore defines the persistence operations the Service needs.
//
// In production, this is satisfied by *store.Store.
// In tests, this is also *store.Store, opened in memory.
type vmStore interface {
	// Update runs fn in one atomic read-write transaction
	Update(ctx context.Context, fn func(tx *store.Tx) error) error

	// GetVM returns the VM record with id
	GetVM(ctx context.Context, id uuid.UUID) (*v1alpha1.VirtualMachine, error)

	// ListVMs returns every VM record
	ListVMs(ctx context.Context) ([]*v1alpha1.VirtualMachine, error)
}

// taskQueue defines how lifecycle tasks are handed off.
//
// In production, this is satisfied by *task.LocalQueue or *task.NATSQueue.
// In tests, this is satisfied by mock implementations.
type taskQueue interface {
	// Enqueue hands a task off for asynchronous execution
	Enqueue(ctx context.Context, name task.Name, vmID uuid.UUID, args map[string]string) error
}
