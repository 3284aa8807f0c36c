package task

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/descriptor"
	"github.com/jbweber/yolocloud/internal/hypervisor"
	"github.com/jbweber/yolocloud/internal/naming"
	"github.com/jbweber/yolocloud/internal/store"
)

type handler func(ctx context.Context, vm *v1alpha1.VirtualMachine, t Task) error

// Dispatcher executes tasks against the hypervisor that owns each VM.
type Dispatcher struct {
	store     vmStore
	dialer    hypervisor.Dialer
	templates templateRegistry
	logger    *zap.Logger

	handlers map[Name]handler
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(s vmStore, d hypervisor.Dialer, templates templateRegistry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	disp := &Dispatcher{
		store:     s,
		dialer:    d,
		templates: templates,
		logger:    logger,
	}
	disp.handlers = map[Name]handler{
		Provision:   disp.provision,
		Start:       disp.power("start", hypervisor.Domain.Create),
		Shutdown:    disp.power("shut down", hypervisor.Domain.Shutdown),
		Reboot:      disp.power("reboot", hypervisor.Domain.Reboot),
		Reset:       disp.power("reset", hypervisor.Domain.Reset),
		Destroy:     disp.power("destroy", hypervisor.Domain.Destroy),
		ChangeMedia: disp.changeMedia,
		Delete:      disp.delete,
	}
	return disp
}

// Dispatch runs t. A task for a VM with no record is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, t Task) error {
	h, ok := d.handlers[t.Name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, t.Name)
	}

	vm, err := d.store.GetVM(ctx, t.VMID)
	if errors.Is(err, store.ErrNotFound) {
		d.logger.Debug("skipping task for missing vm",
			zap.String("task", string(t.Name)),
			zap.String("vm_id", t.VMID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load vm %s: %w", t.VMID, err)
	}

	return h(ctx, vm, t)
}

func (d *Dispatcher) provision(ctx context.Context, vm *v1alpha1.VirtualMachine, t Task) error {
	if vm.Provisioned {
		d.logger.Debug("vm already provisioned", zap.String("vm_id", vm.ID.String()))
		return nil
	}

	tmpl, err := d.templates.Lookup(t.Arg(ArgTemplate, vm.Template))
	if err != nil {
		return err
	}

	err = hypervisor.WithConn(ctx, d.dialer, vm.HypervisorURL, func(conn hypervisor.Conn) error {
		return tmpl.Provision(ctx, vm, conn)
	})
	if err != nil {
		return err
	}

	err = d.store.UpdateVM(ctx, vm.ID, func(stored *v1alpha1.VirtualMachine) error {
		stored.Provisioned = true
		stored.PrimaryDisk = vm.PrimaryDisk
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		d.logger.Warn("vm deleted while provisioning, domain left on hypervisor",
			zap.String("vm_id", vm.ID.String()),
			zap.String("hypervisor", vm.HypervisorURL))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark vm %s provisioned: %w", vm.ID, err)
	}

	d.logger.Info("vm provisioned",
		zap.String("vm_id", vm.ID.String()),
		zap.String("hypervisor", vm.HypervisorURL),
		zap.String("primary_disk", vm.PrimaryDisk))
	return nil
}

// power returns a handler that looks up the domain and calls op on it.
func (d *Dispatcher) power(verb string, op func(hypervisor.Domain, context.Context) error) handler {
	return func(ctx context.Context, vm *v1alpha1.VirtualMachine, t Task) error {
		return hypervisor.WithConn(ctx, d.dialer, vm.HypervisorURL, func(conn hypervisor.Conn) error {
			dom, err := conn.LookupDomain(ctx, vm.ID)
			if err != nil {
				return err
			}
			if err := op(dom, ctx); err != nil {
				return fmt.Errorf("failed to %s vm %s: %w", verb, vm.ID, err)
			}
			return nil
		})
	}
}

func (d *Dispatcher) changeMedia(ctx context.Context, vm *v1alpha1.VirtualMachine, t Task) error {
	pool := t.Arg(ArgPool, DefaultMediaPool)
	volume := t.Arg(ArgVolume, "")

	return hypervisor.WithConn(ctx, d.dialer, vm.HypervisorURL, func(conn hypervisor.Conn) error {
		dom, err := conn.LookupDomain(ctx, vm.ID)
		if err != nil {
			return err
		}

		desc := descriptor.New(dom)
		found, err := desc.HasRemovableMedia(ctx)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("vm %s: %w", vm.ID, descriptor.ErrNoRemovableMedia)
		}

		if volume == "" {
			err = desc.EjectRemovableMedia(ctx)
		} else {
			err = desc.SetRemovableMedia(ctx, pool, volume)
		}
		if err != nil {
			return err
		}

		device, err := desc.RemovableMediaDeviceXML(ctx)
		if err != nil {
			return err
		}
		if err := dom.UpdateDevice(ctx, device); err != nil {
			return fmt.Errorf("failed to update removable media on vm %s: %w", vm.ID, err)
		}
		return nil
	})
}

func (d *Dispatcher) delete(ctx context.Context, vm *v1alpha1.VirtualMachine, t Task) error {
	keepDisk, err := strconv.ParseBool(t.Arg(ArgKeepDisk, "false"))
	if err != nil {
		return fmt.Errorf("invalid %s argument for vm %s: %w", ArgKeepDisk, vm.ID, err)
	}

	// Unprovisioned VMs may still own a domain from a provision attempt
	// whose volume step failed.
	err = hypervisor.WithConn(ctx, d.dialer, vm.HypervisorURL, func(conn hypervisor.Conn) error {
		if err := teardownDomain(ctx, conn, vm); err != nil {
			return err
		}
		if keepDisk || vm.PrimaryDisk == "" {
			return nil
		}
		return deleteVolume(ctx, conn, vm.PrimaryDisk)
	})
	if err != nil {
		return err
	}

	if err := d.store.DeleteVM(ctx, vm.ID); err != nil {
		return fmt.Errorf("failed to delete vm %s: %w", vm.ID, err)
	}

	d.logger.Info("vm deleted",
		zap.String("vm_id", vm.ID.String()),
		zap.Bool("kept_disk", keepDisk))
	return nil
}

// teardownDomain forces the domain off if it is running and undefines it.
// A domain that is already gone is not an error.
func teardownDomain(ctx context.Context, conn hypervisor.Conn, vm *v1alpha1.VirtualMachine) error {
	dom, err := conn.LookupDomain(ctx, vm.ID)
	if errors.Is(err, hypervisor.ErrDomainNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	state, err := dom.State(ctx)
	if err != nil {
		return err
	}
	if state.IsActive() {
		if err := dom.Destroy(ctx); err != nil {
			return fmt.Errorf("failed to stop vm %s: %w", vm.ID, err)
		}
	}

	if err := dom.Undefine(ctx); err != nil {
		return fmt.Errorf("failed to undefine vm %s: %w", vm.ID, err)
	}
	return nil
}

// deleteVolume removes the volume ref names. A volume that is already gone
// is not an error.
func deleteVolume(ctx context.Context, conn hypervisor.Conn, ref string) error {
	poolName, volume, err := naming.ParseVolumeRef(ref)
	if err != nil {
		return err
	}

	pool, err := conn.StoragePool(ctx, poolName)
	if err != nil {
		return err
	}
	if err := pool.DeleteVolume(ctx, volume); err != nil && !errors.Is(err, hypervisor.ErrVolumeNotFound) {
		return fmt.Errorf("failed to delete volume %s: %w", ref, err)
	}
	return nil
}
