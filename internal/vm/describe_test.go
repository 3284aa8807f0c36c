package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/descriptor"
	"github.com/jbweber/yolocloud/internal/hypervisor"
	"github.com/jbweber/yolocloud/internal/hypervisor/hypervisortest"
)

const describeDomainXML = `<domain type="kvm">
  <name>yc-test</name>
  <memory unit="GiB">2</memory>
  <vcpu>2</vcpu>
  <features>
    <acpi/>
    <apic/>
  </features>
  <devices>
    <disk type="volume" device="cdrom">
      <source pool="iso" volume="debian.iso"/>
      <target dev="sda" bus="sata" tray="closed"/>
    </disk>
    <graphics type="spice" port="5900" autoport="yes"/>
    <graphics type="vnc" port="5901"/>
  </devices>
</domain>`

func newDescribeService(t *testing.T, hypervisorURL, domainXML string, provisioned bool) (*Service, *v1alpha1.VirtualMachine, *hypervisortest.Dialer) {
	t.Helper()
	s := newTestStore(t)

	vm, err := v1alpha1.NewVirtualMachine(testNow)
	require.NoError(t, err)
	vm.HypervisorURL = hypervisorURL
	vm.Provisioned = provisioned
	vm.PrimaryDisk = "default/boot.qcow2"
	require.NoError(t, s.SaveVM(context.Background(), vm))

	dialer := hypervisortest.NewDialer()
	if domainXML != "" {
		dom := dialer.AddDomain(vm.ID, domainXML)
		dom.StateValue = hypervisor.StateRunning
	}
	return NewService(s, &mockQueue{}, dialer, Options{}), vm, dialer
}

func TestDescribeDomain(t *testing.T) {
	svc, vm, dialer := newDescribeService(t, "qemu+tcp://hv1.example.com/system", describeDomainXML, true)

	snap, err := svc.DescribeDomain(context.Background(), vm.ID)
	require.NoError(t, err)

	assert.Equal(t, vm.ID, snap.ID)
	assert.Equal(t, "Running", snap.State)
	assert.Equal(t, uint64(2048), snap.MemoryMiB)
	assert.Equal(t, uint(2), snap.VCPUs)
	assert.Equal(t, []string{"acpi", "apic"}, snap.Features)
	assert.Equal(t, "spice://hv1.example.com:5900", snap.GraphicsURI)
	assert.Equal(t, "iso/debian.iso", snap.Media)
	assert.Equal(t, "default/boot.qcow2", snap.PrimaryDisk)
	assert.False(t, snap.FetchedAt.IsZero())

	require.Len(t, dialer.Conns(), 1)
	assert.Equal(t, 1, dialer.Conns()[0].Closes())
}

func TestDescribeDomain_LocalHypervisor(t *testing.T) {
	svc, vm, _ := newDescribeService(t, "qemu:///system", describeDomainXML, true)

	snap, err := svc.DescribeDomain(context.Background(), vm.ID)
	require.NoError(t, err)
	assert.Equal(t, "spice://localhost:5900", snap.GraphicsURI)
}

func TestDescribeDomain_Errors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		svc, _, dialer := newDescribeService(t, "qemu:///system", describeDomainXML, true)

		_, err := svc.DescribeDomain(context.Background(), uuid.New())
		assert.ErrorIs(t, err, ErrVMNotFound)
		assert.Empty(t, dialer.Conns())
	})

	t.Run("not ready", func(t *testing.T) {
		svc, vm, dialer := newDescribeService(t, "qemu:///system", describeDomainXML, false)

		_, err := svc.DescribeDomain(context.Background(), vm.ID)
		assert.ErrorIs(t, err, ErrNotReady)
		assert.Empty(t, dialer.Conns())
	})

	t.Run("domain missing", func(t *testing.T) {
		svc, vm, dialer := newDescribeService(t, "qemu:///system", "", true)

		_, err := svc.DescribeDomain(context.Background(), vm.ID)
		assert.ErrorIs(t, err, hypervisor.ErrDomainNotFound)
		assert.Equal(t, 1, dialer.Conns()[0].Closes())
	})

	t.Run("malformed description", func(t *testing.T) {
		svc, vm, dialer := newDescribeService(t, "qemu:///system", `<domain type="kvm"><vcpu>1</vcpu></domain>`, true)

		_, err := svc.DescribeDomain(context.Background(), vm.ID)
		assert.ErrorIs(t, err, descriptor.ErrMalformedDomainDescription)
		assert.Equal(t, 1, dialer.Conns()[0].Closes())
	})

	t.Run("hypervisor unreachable", func(t *testing.T) {
		svc, vm, dialer := newDescribeService(t, "qemu:///system", describeDomainXML, true)
		dialer.OpenErr = errors.Join(hypervisor.ErrHypervisorUnreachable, errors.New("connection refused"))

		_, err := svc.DescribeDomain(context.Background(), vm.ID)
		assert.ErrorIs(t, err, hypervisor.ErrHypervisorUnreachable)
	})
}

func TestGraphicsHost(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "qemu:///system", want: "localhost"},
		{url: "qemu+unix:///system", want: "localhost"},
		{url: "qemu+tcp://hv1.example.com/system", want: "hv1.example.com"},
		{url: "qemu+tcp://[2001:db8::1]:16509/system", want: "2001:db8::1"},
		{url: "::not a uri", want: "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, graphicsHost(tt.url))
		})
	}
}
