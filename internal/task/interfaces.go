package task

import (
	"context"

	"github.com/google/uuid"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/provision"
)

// vmStore defines the persistence operations tasks need.
//
// In production, this is satisfied by *store.Store.
// In tests, this is satisfied by mock implementations.
type vmStore interface {
	// GetVM returns the VM record, or an error wrapping store.ErrNotFound.
	GetVM(ctx context.Context, id uuid.UUID) (*v1alpha1.VirtualMachine, error)

	// UpdateVM applies fn to the stored record in one transaction.
	UpdateVM(ctx context.Context, id uuid.UUID, fn func(vm *v1alpha1.VirtualMachine) error) error

	// DeleteVM removes the VM record.
	DeleteVM(ctx context.Context, id uuid.UUID) error
}

// templateRegistry resolves template names.
//
// In production, this is satisfied by *provision.Registry.
type templateRegistry interface {
	Lookup(name string) (provision.Template, error)
}

// Executor runs a single task to completion.
//
// In production, this is satisfied by *Dispatcher.
type Executor interface {
	Dispatch(ctx context.Context, t Task) error
}

// Queue accepts tasks for asynchronous execution.
type Queue interface {
	Enqueue(ctx context.Context, name Name, vmID uuid.UUID, args map[string]string) error
}
