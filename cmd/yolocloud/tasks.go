package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jbweber/yolocloud/internal/task"
	"github.com/jbweber/yolocloud/internal/vm"
)

var (
	taskArgs  map[string]string
	mediaPool string
	keepDisk  bool
)

// enqueue runs fn against the service. With the local broker the task has
// finished by the time enqueue returns.
func enqueue(ctx context.Context, rawID string, fn func(ctx context.Context, s *vm.Service, id uuid.UUID) error) error {
	id, err := parseVMID(rawID)
	if err != nil {
		return err
	}
	return withApp(func(a *app) error {
		if err := fn(ctx, a.service, id); err != nil {
			return err
		}
		fmt.Printf("Task for VM %s queued\n", id)
		return nil
	})
}

func taskNames() string {
	names := make([]string, 0, len(task.Names()))
	for _, n := range task.Names() {
		names = append(names, string(n))
	}
	return strings.Join(names, ", ")
}

var taskCmd = &cobra.Command{
	Use:   "task <name> <vm-id>",
	Short: "Queue a lifecycle task for a VM",
	Long: `Queue a lifecycle task for a VM.

Task names: ` + taskNames() + `
"force-shutdown" is accepted as an alias of destroy. Failures are logged by
whoever executes the task and are not reported here.

Examples:
  yolocloud task start 6c1d...
  yolocloud task change-media 6c1d... --arg volume=debian.iso`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return enqueue(cmd.Context(), args[1], func(ctx context.Context, s *vm.Service, id uuid.UUID) error {
			return s.EnqueueLifecycleTask(ctx, args[0], id, taskArgs)
		})
	},
}

var changeMediaCmd = &cobra.Command{
	Use:   "change-media <vm-id> <volume>",
	Short: "Insert a volume into a VM's cdrom drive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return enqueue(cmd.Context(), args[0], func(ctx context.Context, s *vm.Service, id uuid.UUID) error {
			return s.ChangeMedia(ctx, id, mediaPool, args[1])
		})
	},
}

var ejectCmd = &cobra.Command{
	Use:   "eject <vm-id>",
	Short: "Eject the media in a VM's cdrom drive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return enqueue(cmd.Context(), args[0], func(ctx context.Context, s *vm.Service, id uuid.UUID) error {
			return s.Eject(ctx, id)
		})
	},
}

var deleteVMCmd = &cobra.Command{
	Use:   "delete-vm <vm-id>",
	Short: "Tear down a VM and remove its record",
	Long: `Force off and undefine the VM's domain, delete its primary disk volume
unless --keep-disk is given, then remove the VM record.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return enqueue(cmd.Context(), args[0], func(ctx context.Context, s *vm.Service, id uuid.UUID) error {
			return s.DeleteVM(ctx, id, keepDisk)
		})
	},
}

func init() {
	taskCmd.Flags().StringToStringVar(&taskArgs, "arg", nil, "task argument as key=value (repeatable)")
	changeMediaCmd.Flags().StringVar(&mediaPool, "pool", task.DefaultMediaPool, "storage pool holding the volume")
	deleteVMCmd.Flags().BoolVar(&keepDisk, "keep-disk", false, "keep the primary disk volume")
}
