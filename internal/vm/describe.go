package vm

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jbweber/yolocloud/internal/descriptor"
	"github.com/jbweber/yolocloud/internal/hypervisor"
	"github.com/jbweber/yolocloud/internal/libvirt"
	"github.com/jbweber/yolocloud/internal/naming"
)

// Snapshot is what DescribeDomain reports about a provisioned VM.
type Snapshot struct {
	ID          uuid.UUID  `json:"id" yaml:"id"`
	Domain      string     `json:"domain" yaml:"domain"`
	Hypervisor  string     `json:"hypervisor" yaml:"hypervisor"`
	State       string     `json:"state" yaml:"state"`
	MemoryMiB   uint64     `json:"memoryMiB" yaml:"memoryMiB"`
	VCPUs       uint       `json:"vcpus" yaml:"vcpus"`
	Features    []string   `json:"features,omitempty" yaml:"features,omitempty"`
	GraphicsURI string     `json:"graphicsURI,omitempty" yaml:"graphicsURI,omitempty"`
	Media       string     `json:"media,omitempty" yaml:"media,omitempty"`
	PrimaryDisk string     `json:"primaryDisk,omitempty" yaml:"primaryDisk,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	FetchedAt   time.Time  `json:"fetchedAt" yaml:"fetchedAt"`
}

// DescribeDomain reads the live domain of a provisioned VM. It fails with
// ErrVMNotFound for unknown ids and ErrNotReady before provisioning has
// completed.
func (s *Service) DescribeDomain(ctx context.Context, vmID uuid.UUID) (*Snapshot, error) {
	vm, err := s.GetVM(ctx, vmID)
	if err != nil {
		return nil, err
	}
	if !vm.Provisioned {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, vmID)
	}

	snap := &Snapshot{
		ID:          vm.ID,
		Domain:      naming.DomainName(vm.ID),
		Hypervisor:  vm.HypervisorURL,
		PrimaryDisk: vm.PrimaryDisk,
		ExpiresAt:   vm.ExpiresAt,
	}

	err = hypervisor.WithConn(ctx, s.dialer, vm.HypervisorURL, func(conn hypervisor.Conn) error {
		dom, err := conn.LookupDomain(ctx, vm.ID)
		if err != nil {
			return err
		}

		state, err := dom.State(ctx)
		if err != nil {
			return err
		}
		snap.State = state.String()

		return describe(ctx, descriptor.New(dom), graphicsHost(vm.HypervisorURL), snap)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func describe(ctx context.Context, desc *descriptor.Descriptor, host string, snap *Snapshot) error {
	var err error
	if snap.MemoryMiB, err = desc.MemoryInMiB(ctx); err != nil {
		return err
	}
	if snap.VCPUs, err = desc.VCPUs(ctx); err != nil {
		return err
	}

	features, err := desc.Features(ctx)
	if err != nil {
		return err
	}
	snap.Features = slices.Collect(features)

	if uri, ok, err := desc.RemoteManagementURI(ctx, host); err != nil {
		return err
	} else if ok {
		snap.GraphicsURI = uri
	}

	if media, ok, err := desc.RemovableMedia(ctx); err != nil {
		return err
	} else if ok {
		snap.Media = naming.VolumeRef(media.Pool, media.Volume)
	}

	snap.FetchedAt = desc.FetchedAt()
	return nil
}

// graphicsHost returns the host a remote console connects to for a VM on
// hypervisorURL.
func graphicsHost(hypervisorURL string) string {
	target, err := libvirt.ParseURI(hypervisorURL)
	if err != nil || !target.IsRemote() {
		return "localhost"
	}
	return target.Host
}
