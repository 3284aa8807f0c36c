package vm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/yolocloud/internal/task"
)

// EnqueueLifecycleTask hands the named task for vmID to the queue. The name
// may be an alias such as "power-on". Unlike task execution, which treats a
// missing VM as a no-op, this fails with ErrVMNotFound so callers get a
// synchronous answer.
func (s *Service) EnqueueLifecycleTask(ctx context.Context, name string, vmID uuid.UUID, args map[string]string) error {
	resolved, err := task.ParseName(name)
	if err != nil {
		return err
	}
	if _, err := s.GetVM(ctx, vmID); err != nil {
		return err
	}

	if err := s.queue.Enqueue(ctx, resolved, vmID, args); err != nil {
		return fmt.Errorf("failed to enqueue %s for vm %s: %w", resolved, vmID, err)
	}
	s.logger.Debug("task enqueued",
		zap.String("task", string(resolved)),
		zap.String("vm_id", vmID.String()))
	return nil
}

// ChangeMedia enqueues a media swap to pool/volume. An empty pool defaults
// to the media pool; an empty volume ejects.
func (s *Service) ChangeMedia(ctx context.Context, vmID uuid.UUID, pool, volume string) error {
	args := map[string]string{}
	if pool != "" {
		args[task.ArgPool] = pool
	}
	if volume != "" {
		args[task.ArgVolume] = volume
	}
	return s.EnqueueLifecycleTask(ctx, string(task.ChangeMedia), vmID, args)
}

// Eject enqueues removal of the current medium.
func (s *Service) Eject(ctx context.Context, vmID uuid.UUID) error {
	return s.ChangeMedia(ctx, vmID, "", "")
}

// DeleteVM enqueues teardown of the VM's domain and record. With keepDisk
// the primary volume is left in its pool.
func (s *Service) DeleteVM(ctx context.Context, vmID uuid.UUID, keepDisk bool) error {
	args := map[string]string{task.ArgKeepDisk: strconv.FormatBool(keepDisk)}
	return s.EnqueueLifecycleTask(ctx, string(task.Delete), vmID, args)
}
