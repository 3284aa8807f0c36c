package task

import (
	"context"

	"github.com/google/uuid"
)

// LocalQueue hands tasks straight to an in-process Runner.
type LocalQueue struct {
	runner *Runner
}

// NewLocalQueue creates a LocalQueue over r.
func NewLocalQueue(r *Runner) *LocalQueue {
	return &LocalQueue{runner: r}
}

// Enqueue implements Queue.
func (q *LocalQueue) Enqueue(ctx context.Context, name Name, vmID uuid.UUID, args map[string]string) error {
	resolved, err := ParseName(string(name))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = q.runner.Submit(Task{Name: resolved, VMID: vmID, Args: args})
	return err
}
