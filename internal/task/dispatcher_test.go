package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/descriptor"
	"github.com/jbweber/yolocloud/internal/hypervisor"
	"github.com/jbweber/yolocloud/internal/hypervisor/hypervisortest"
	"github.com/jbweber/yolocloud/internal/naming"
	"github.com/jbweber/yolocloud/internal/provision"
	"github.com/jbweber/yolocloud/internal/store"
)

const cdromDomainXML = `<domain type="kvm">
  <name>test</name>
  <memory unit="MiB">1024</memory>
  <vcpu>1</vcpu>
  <devices>
    <disk type="volume" device="disk">
      <source pool="default" volume="root.qcow2"/>
      <target dev="vda" bus="virtio"/>
    </disk>
    <disk type="volume" device="cdrom">
      <source pool="iso" volume="old.iso"/>
      <target dev="sda" bus="sata" tray="closed"/>
      <readonly/>
    </disk>
  </devices>
</domain>`

const plainDomainXML = `<domain type="kvm">
  <name>test</name>
  <memory unit="MiB">1024</memory>
  <vcpu>1</vcpu>
  <devices>
    <disk type="volume" device="disk">
      <source pool="default" volume="root.qcow2"/>
      <target dev="vda" bus="virtio"/>
    </disk>
  </devices>
</domain>`

func newTestVM(t *testing.T) *v1alpha1.VirtualMachine {
	t.Helper()
	vm, err := v1alpha1.NewVirtualMachine(time.Now())
	require.NoError(t, err)
	vm.HypervisorURL = "test:///default"
	return vm
}

func newRegistry(t *testing.T) *provision.Registry {
	t.Helper()
	r, err := provision.NewTextRenderer()
	require.NoError(t, err)
	reg := provision.NewRegistry()
	reg.Register(provision.DefaultTemplate, provision.NewBaseTemplate(r, provision.DefaultBaseParams()))
	return reg
}

// assertClosedOnce checks every opened connection was closed exactly once.
func assertClosedOnce(t *testing.T, d *hypervisortest.Dialer, wantConns int) {
	t.Helper()
	conns := d.Conns()
	require.Len(t, conns, wantConns, "connections opened")
	for _, c := range conns {
		assert.Equal(t, 1, c.Closes(), "connection %d closes", c.ID)
	}
}

func TestDispatch_MissingVM(t *testing.T) {
	for _, name := range Names() {
		t.Run(string(name), func(t *testing.T) {
			dialer := hypervisortest.NewDialer("default")
			d := NewDispatcher(newMockStore(), dialer, newRegistry(t), nil)

			err := d.Dispatch(context.Background(), Task{Name: name, VMID: uuid.New()})
			require.NoError(t, err)
			assert.Empty(t, dialer.Conns(), "no hypervisor call for a missing VM")
		})
	}
}

func TestDispatch_UnknownTask(t *testing.T) {
	s := newMockStore()
	d := NewDispatcher(s, hypervisortest.NewDialer(), newRegistry(t), nil)

	err := d.Dispatch(context.Background(), Task{Name: "hibernate", VMID: uuid.New()})
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.Empty(t, s.getCalls, "unknown tasks fail before touching the store")
}

func TestDispatch_StoreError(t *testing.T) {
	s := newMockStore()
	s.getErr = errors.New("disk on fire")
	dialer := hypervisortest.NewDialer()
	d := NewDispatcher(s, dialer, newRegistry(t), nil)

	err := d.Dispatch(context.Background(), Task{Name: Start, VMID: uuid.New()})
	assert.ErrorIs(t, err, s.getErr)
	assert.Empty(t, dialer.Conns())
}

func TestDispatch_PowerOperations(t *testing.T) {
	tests := []struct {
		task  Name
		op    string
		state hypervisor.State
	}{
		{task: Start, op: "create", state: hypervisor.StateRunning},
		{task: Shutdown, op: "shutdown", state: hypervisor.StateShutoff},
		{task: Reboot, op: "reboot", state: hypervisor.StateRunning},
		{task: Reset, op: "reset", state: hypervisor.StateRunning},
		{task: Destroy, op: "destroy", state: hypervisor.StateShutoff},
	}

	for _, tt := range tests {
		t.Run(string(tt.task), func(t *testing.T) {
			vm := newTestVM(t)
			dialer := hypervisortest.NewDialer()
			dom := dialer.AddDomain(vm.ID, plainDomainXML)
			d := NewDispatcher(newMockStore(vm), dialer, newRegistry(t), nil)

			require.NoError(t, d.Dispatch(context.Background(), Task{Name: tt.task, VMID: vm.ID}))

			assert.Equal(t, 1, dom.CallCount(tt.op))
			assert.Equal(t, tt.state, dom.StateValue)
			assertClosedOnce(t, dialer, 1)
			assert.Equal(t, vm.HypervisorURL, dialer.Conns()[0].URL)
		})
	}
}

func TestDispatch_PowerFailures(t *testing.T) {
	t.Run("domain missing", func(t *testing.T) {
		vm := newTestVM(t)
		dialer := hypervisortest.NewDialer()
		d := NewDispatcher(newMockStore(vm), dialer, newRegistry(t), nil)

		err := d.Dispatch(context.Background(), Task{Name: Start, VMID: vm.ID})
		assert.ErrorIs(t, err, hypervisor.ErrDomainNotFound)
		assertClosedOnce(t, dialer, 1)
	})

	t.Run("operation fails", func(t *testing.T) {
		vm := newTestVM(t)
		dialer := hypervisortest.NewDialer()
		dom := dialer.AddDomain(vm.ID, plainDomainXML)
		opErr := errors.New("domain is not running")
		dom.Errors["shutdown"] = opErr
		d := NewDispatcher(newMockStore(vm), dialer, newRegistry(t), nil)

		err := d.Dispatch(context.Background(), Task{Name: Shutdown, VMID: vm.ID})
		assert.ErrorIs(t, err, opErr)
		assertClosedOnce(t, dialer, 1)
	})

	t.Run("hypervisor unreachable", func(t *testing.T) {
		vm := newTestVM(t)
		dialer := hypervisortest.NewDialer()
		dialer.OpenErr = hypervisor.ErrHypervisorUnreachable
		d := NewDispatcher(newMockStore(vm), dialer, newRegistry(t), nil)

		err := d.Dispatch(context.Background(), Task{Name: Reboot, VMID: vm.ID})
		assert.ErrorIs(t, err, hypervisor.ErrHypervisorUnreachable)
	})

	t.Run("close error does not mask operation error", func(t *testing.T) {
		vm := newTestVM(t)
		dialer := hypervisortest.NewDialer()
		dom := dialer.AddDomain(vm.ID, plainDomainXML)
		opErr := errors.New("reset refused")
		closeErr := errors.New("socket closed")
		dom.Errors["reset"] = opErr
		dialer.CloseErr = closeErr
		d := NewDispatcher(newMockStore(vm), dialer, newRegistry(t), nil)

		err := d.Dispatch(context.Background(), Task{Name: Reset, VMID: vm.ID})
		assert.ErrorIs(t, err, opErr)
		assert.ErrorIs(t, err, closeErr)
		assert.True(t, strings.Index(err.Error(), opErr.Error()) < strings.Index(err.Error(), closeErr.Error()))
	})
}

func TestDispatch_Provision(t *testing.T) {
	vm := newTestVM(t)
	s := newMockStore(vm)
	dialer := hypervisortest.NewDialer("default")
	d := NewDispatcher(s, dialer, newRegistry(t), nil)

	require.NoError(t, d.Dispatch(context.Background(), Task{Name: Provision, VMID: vm.ID}))

	stored, ok := s.get(vm.ID)
	require.True(t, ok)
	assert.True(t, stored.Provisioned)
	assert.Equal(t, naming.VolumeRef("default", naming.VolumeNameBoot(vm.ID)), stored.PrimaryDisk)
	assert.NotNil(t, dialer.Domain(vm.ID))
	assertClosedOnce(t, dialer, 1)

	// A second provision is a no-op.
	require.NoError(t, d.Dispatch(context.Background(), Task{Name: Provision, VMID: vm.ID}))
	assert.Len(t, dialer.Conns(), 1)
}

func TestDispatch_ProvisionFailures(t *testing.T) {
	t.Run("volume creation fails", func(t *testing.T) {
		vm := newTestVM(t)
		s := newMockStore(vm)
		dialer := hypervisortest.NewDialer("default")
		dialer.Pool("default").CreateErr = errors.New("pool full")
		d := NewDispatcher(s, dialer, newRegistry(t), nil)

		err := d.Dispatch(context.Background(), Task{Name: Provision, VMID: vm.ID})
		assert.ErrorIs(t, err, provision.ErrProvisioningFailed)

		stored, _ := s.get(vm.ID)
		assert.False(t, stored.Provisioned)
		assert.Empty(t, s.updateCalls, "nothing is persisted on failure")
		assertClosedOnce(t, dialer, 1)
	})

	t.Run("unknown template", func(t *testing.T) {
		vm := newTestVM(t)
		vm.Template = "enormous"
		dialer := hypervisortest.NewDialer("default")
		d := NewDispatcher(newMockStore(vm), dialer, newRegistry(t), nil)

		err := d.Dispatch(context.Background(), Task{Name: Provision, VMID: vm.ID})
		assert.ErrorIs(t, err, provision.ErrUnknownTemplate)
		assert.Empty(t, dialer.Conns())
	})

	t.Run("template argument overrides record", func(t *testing.T) {
		vm := newTestVM(t)
		vm.Template = "enormous"
		dialer := hypervisortest.NewDialer("default")
		d := NewDispatcher(newMockStore(vm), dialer, newRegistry(t), nil)

		err := d.Dispatch(context.Background(), Task{Name: Provision, VMID: vm.ID, Args: map[string]string{ArgTemplate: "base"}})
		assert.NoError(t, err)
	})

	t.Run("vm deleted while provisioning", func(t *testing.T) {
		vm := newTestVM(t)
		s := newMockStore(vm)
		dialer := hypervisortest.NewDialer("default")
		d := NewDispatcher(s, dialer, newRegistry(t), nil)
		s.updateErr = fmt.Errorf("vm %s: %w", vm.ID, store.ErrNotFound)

		err := d.Dispatch(context.Background(), Task{Name: Provision, VMID: vm.ID})
		assert.NoError(t, err)
	})
}

func TestDispatch_ChangeMedia(t *testing.T) {
	tests := []struct {
		name       string
		args       map[string]string
		wantPool   string
		wantVolume string
		wantTray   string
	}{
		{
			name:       "swap with default pool",
			args:       map[string]string{ArgVolume: "debian.iso"},
			wantPool:   DefaultMediaPool,
			wantVolume: "debian.iso",
			wantTray:   "closed",
		},
		{
			name:       "swap with explicit pool",
			args:       map[string]string{ArgPool: "images", ArgVolume: "alpine.iso"},
			wantPool:   "images",
			wantVolume: "alpine.iso",
			wantTray:   "closed",
		},
		{
			name:     "eject",
			args:     nil,
			wantTray: "open",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVM(t)
			dialer := hypervisortest.NewDialer()
			dom := dialer.AddDomain(vm.ID, cdromDomainXML)
			d := NewDispatcher(newMockStore(vm), dialer, newRegistry(t), nil)

			require.NoError(t, d.Dispatch(context.Background(), Task{Name: ChangeMedia, VMID: vm.ID, Args: tt.args}))

			require.Len(t, dom.Devices, 1, "exactly one update-device call")
			var disk libvirtxml.DomainDisk
			require.NoError(t, disk.Unmarshal(dom.Devices[0]))
			assert.Equal(t, "cdrom", disk.Device)
			assert.Equal(t, tt.wantTray, disk.Target.Tray)
			if tt.wantVolume != "" {
				require.NotNil(t, disk.Source)
				require.NotNil(t, disk.Source.Volume)
				assert.Equal(t, tt.wantPool, disk.Source.Volume.Pool)
				assert.Equal(t, tt.wantVolume, disk.Source.Volume.Volume)
			}
			assertClosedOnce(t, dialer, 1)
		})
	}
}

func TestDispatch_ChangeMediaClosesConnection(t *testing.T) {
	tests := []struct {
		name    string
		xml     string
		setup   func(dom *hypervisortest.Domain, d *hypervisortest.Dialer)
		wantErr error
	}{
		{
			name: "success",
			xml:  cdromDomainXML,
		},
		{
			name:    "no removable media device",
			xml:     plainDomainXML,
			wantErr: descriptor.ErrNoRemovableMedia,
		},
		{
			name:    "malformed description",
			xml:     "<domain",
			wantErr: descriptor.ErrMalformedDomainDescription,
		},
		{
			name:    "update device fails",
			xml:     cdromDomainXML,
			setup:   func(dom *hypervisortest.Domain, _ *hypervisortest.Dialer) { dom.Errors["update-device"] = errUpdate },
			wantErr: errUpdate,
		},
		{
			name:    "fetch fails",
			xml:     cdromDomainXML,
			setup:   func(dom *hypervisortest.Domain, _ *hypervisortest.Dialer) { dom.Errors["xml-desc"] = errFetch },
			wantErr: errFetch,
		},
		{
			name: "update and close both fail",
			xml:  cdromDomainXML,
			setup: func(dom *hypervisortest.Domain, d *hypervisortest.Dialer) {
				dom.Errors["update-device"] = errUpdate
				d.CloseErr = errors.New("close failed")
			},
			wantErr: errUpdate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVM(t)
			dialer := hypervisortest.NewDialer()
			dom := dialer.AddDomain(vm.ID, tt.xml)
			if tt.setup != nil {
				tt.setup(dom, dialer)
			}
			d := NewDispatcher(newMockStore(vm), dialer, newRegistry(t), nil)

			err := d.Dispatch(context.Background(), Task{Name: ChangeMedia, VMID: vm.ID, Args: map[string]string{ArgVolume: "x.iso"}})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			// The handle that was opened is the one that was closed, once.
			assertClosedOnce(t, dialer, 1)
		})
	}
}

var (
	errUpdate = errors.New("update-device refused")
	errFetch  = errors.New("xml fetch failed")
)

func TestDispatch_Delete(t *testing.T) {
	tests := []struct {
		name          string
		args          map[string]string
		state         hypervisor.State
		wantDestroy   int
		wantVolume    bool
		domainExists  bool
		volumeMissing bool
	}{
		{
			name:         "running vm",
			state:        hypervisor.StateRunning,
			wantDestroy:  1,
			domainExists: true,
		},
		{
			name:         "stopped vm",
			state:        hypervisor.StateShutoff,
			domainExists: true,
		},
		{
			name:         "keep disk",
			args:         map[string]string{ArgKeepDisk: "true"},
			state:        hypervisor.StateShutoff,
			wantVolume:   true,
			domainExists: true,
		},
		{
			name: "domain already gone",
		},
		{
			name:          "volume already gone",
			state:         hypervisor.StateShutoff,
			domainExists:  true,
			volumeMissing: true,
		},
		{
			name:          "domain and volume already gone",
			volumeMissing: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVM(t)
			volume := naming.VolumeNameBoot(vm.ID)
			vm.Provisioned = true
			vm.PrimaryDisk = naming.VolumeRef("default", volume)
			s := newMockStore(vm)

			dialer := hypervisortest.NewDialer("default")
			if !tt.volumeMissing {
				dialer.Pool("default").Volumes[volume] = "<volume/>"
			}
			var dom *hypervisortest.Domain
			if tt.domainExists {
				dom = dialer.AddDomain(vm.ID, plainDomainXML)
				dom.StateValue = tt.state
			}
			d := NewDispatcher(s, dialer, newRegistry(t), nil)

			require.NoError(t, d.Dispatch(context.Background(), Task{Name: Delete, VMID: vm.ID, Args: tt.args}))

			if dom != nil {
				assert.Equal(t, tt.wantDestroy, dom.CallCount("destroy"))
				assert.True(t, dom.Undefined)
			}
			assert.Nil(t, dialer.Domain(vm.ID))
			_, kept := dialer.Pool("default").Volumes[volume]
			assert.Equal(t, tt.wantVolume, kept)
			_, exists := s.get(vm.ID)
			assert.False(t, exists, "record removed")
			assertClosedOnce(t, dialer, 1)
		})
	}
}

func TestDispatch_DeleteInvalidKeepDisk(t *testing.T) {
	vm := newTestVM(t)
	volume := naming.VolumeNameBoot(vm.ID)
	vm.Provisioned = true
	vm.PrimaryDisk = naming.VolumeRef("default", volume)
	s := newMockStore(vm)
	dialer := hypervisortest.NewDialer("default")
	dialer.Pool("default").Volumes[volume] = "<volume/>"
	dom := dialer.AddDomain(vm.ID, plainDomainXML)
	dom.StateValue = hypervisor.StateShutoff
	d := NewDispatcher(s, dialer, newRegistry(t), nil)

	err := d.Dispatch(context.Background(), Task{Name: Delete, VMID: vm.ID, Args: map[string]string{ArgKeepDisk: "yes"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ArgKeepDisk)

	assert.False(t, dom.Undefined)
	_, kept := dialer.Pool("default").Volumes[volume]
	assert.True(t, kept, "volume is kept when the argument is invalid")
	_, exists := s.get(vm.ID)
	assert.True(t, exists, "record is kept when the argument is invalid")
	assert.Empty(t, dialer.Conns(), "no hypervisor call for an invalid argument")
}

func TestDispatch_DeleteFailureKeepsRecord(t *testing.T) {
	vm := newTestVM(t)
	vm.Provisioned = true
	s := newMockStore(vm)
	dialer := hypervisortest.NewDialer("default")
	dom := dialer.AddDomain(vm.ID, plainDomainXML)
	dom.StateValue = hypervisor.StateShutoff
	dom.Errors["undefine"] = errors.New("domain has snapshots")
	d := NewDispatcher(s, dialer, newRegistry(t), nil)

	err := d.Dispatch(context.Background(), Task{Name: Delete, VMID: vm.ID})
	require.Error(t, err)

	_, exists := s.get(vm.ID)
	assert.True(t, exists, "record is kept when teardown fails")
	assertClosedOnce(t, dialer, 1)
}
