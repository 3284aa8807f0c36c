package provision

import (
	"context"
	"fmt"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/hypervisor"
	"github.com/jbweber/yolocloud/internal/metadata"
	"github.com/jbweber/yolocloud/internal/naming"
)

// BaseParams parameterizes the built-in base template.
type BaseParams struct {
	MemoryMiB      uint   `mapstructure:"memory_mib" yaml:"memory_mib"`
	VCPUs          uint   `mapstructure:"vcpus" yaml:"vcpus"`
	DiskGiB        uint   `mapstructure:"disk_gib" yaml:"disk_gib"`
	Bridge         string `mapstructure:"bridge" yaml:"bridge"`
	NetworkModel   string `mapstructure:"network_model" yaml:"network_model"`
	WithMedia      bool   `mapstructure:"with_media" yaml:"with_media"`
	WithNetwork    bool   `mapstructure:"with_network" yaml:"with_network"`
	StoragePool    string `mapstructure:"storage_pool" yaml:"storage_pool"`
	MediaPool      string `mapstructure:"media_pool" yaml:"media_pool"`
	GraphicsListen string `mapstructure:"graphics_listen" yaml:"graphics_listen"`
}

// DefaultBaseParams returns the base template defaults: 1 GiB of memory,
// one vCPU, a 10 GiB disk, virtio networking on br0 and an empty cdrom.
func DefaultBaseParams() BaseParams {
	return BaseParams{
		MemoryMiB:      1024,
		VCPUs:          1,
		DiskGiB:        10,
		Bridge:         "br0",
		NetworkModel:   "virtio",
		WithMedia:      true,
		WithNetwork:    true,
		StoragePool:    "default",
		MediaPool:      "iso",
		GraphicsListen: "0.0.0.0",
	}
}

// Validate checks the parameters for errors.
func (p BaseParams) Validate() error {
	if p.MemoryMiB == 0 {
		return fmt.Errorf("memory_mib must be positive")
	}
	if p.VCPUs == 0 {
		return fmt.Errorf("vcpus must be positive")
	}
	if p.DiskGiB == 0 {
		return fmt.Errorf("disk_gib must be positive")
	}
	if p.StoragePool == "" {
		return fmt.Errorf("storage_pool is required")
	}
	if p.WithNetwork && p.Bridge == "" {
		return fmt.Errorf("bridge is required when with_network is set")
	}
	return nil
}

// BaseTemplate provisions a single-disk VM from the base/domain.xml and
// base/volume.xml descriptor templates.
type BaseTemplate struct {
	renderer Renderer
	params   BaseParams

	// Prefix selects the descriptor templates; "base" by default.
	Prefix string
}

// NewBaseTemplate creates a BaseTemplate rendering with r.
func NewBaseTemplate(r Renderer, params BaseParams) *BaseTemplate {
	return &BaseTemplate{renderer: r, params: params, Prefix: "base"}
}

// Params returns the render parameters for vm.
func (t *BaseTemplate) Params(vm *v1alpha1.VirtualMachine) map[string]any {
	return map[string]any{
		"ID":             vm.ID.String(),
		"Name":           naming.DomainName(vm.ID),
		"Volume":         naming.VolumeNameBoot(vm.ID),
		"MAC":            naming.MACFromID(vm.ID),
		"Password":       vm.ManagementPassword,
		"MemoryMiB":      t.params.MemoryMiB,
		"VCPUs":          t.params.VCPUs,
		"DiskGiB":        t.params.DiskGiB,
		"Bridge":         t.params.Bridge,
		"NetworkModel":   t.params.NetworkModel,
		"WithMedia":      t.params.WithMedia,
		"WithNetwork":    t.params.WithNetwork,
		"StoragePool":    t.params.StoragePool,
		"MediaPool":      t.params.MediaPool,
		"GraphicsListen": t.params.GraphicsListen,
	}
}

// Render produces the validated domain and volume descriptors for vm. The
// domain descriptor carries vm as metadata.
func (t *BaseTemplate) Render(vm *v1alpha1.VirtualMachine) (domainXML, volumeXML string, err error) {
	params := t.Params(vm)

	rawDomain, err := t.renderer.Render(t.Prefix+"/domain.xml", params)
	if err != nil {
		return "", "", fmt.Errorf("failed to render domain descriptor: %w", err)
	}
	volumeXML, err = t.renderer.Render(t.Prefix+"/volume.xml", params)
	if err != nil {
		return "", "", fmt.Errorf("failed to render volume descriptor: %w", err)
	}

	var dom libvirtxml.Domain
	if err := dom.Unmarshal(rawDomain); err != nil {
		return "", "", fmt.Errorf("rendered domain descriptor is invalid: %w", err)
	}
	if dom.UUID != vm.ID.String() {
		return "", "", fmt.Errorf("rendered domain descriptor has UUID %q, want %q", dom.UUID, vm.ID)
	}

	var vol libvirtxml.StorageVolume
	if err := vol.Unmarshal(volumeXML); err != nil {
		return "", "", fmt.Errorf("rendered volume descriptor is invalid: %w", err)
	}
	if vol.Name == "" {
		return "", "", fmt.Errorf("rendered volume descriptor has no name")
	}

	if err := metadata.Embed(&dom, vm); err != nil {
		return "", "", err
	}
	domainXML, err = dom.Marshal()
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal domain descriptor: %w", err)
	}

	return domainXML, volumeXML, nil
}

// Provision implements Template.
func (t *BaseTemplate) Provision(ctx context.Context, vm *v1alpha1.VirtualMachine, conn hypervisor.Conn) error {
	domainXML, volumeXML, err := t.Render(vm)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	if _, err := conn.DefineDomain(ctx, domainXML); err != nil {
		return fmt.Errorf("%w: failed to define domain: %w", ErrProvisioningFailed, err)
	}

	pool, err := conn.StoragePool(ctx, t.params.StoragePool)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	volume, err := pool.CreateVolume(ctx, volumeXML)
	if err != nil {
		return fmt.Errorf("%w: failed to create volume: %w", ErrProvisioningFailed, err)
	}

	vm.PrimaryDisk = naming.VolumeRef(pool.Name(), volume)
	return nil
}
