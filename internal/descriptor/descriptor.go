package descriptor

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"iter"
	"math/bits"
	"net"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/metadata"
)

var (
	// ErrMalformedDomainDescription is returned when an element the caller
	// relies on is missing or cannot be parsed.
	ErrMalformedDomainDescription = errors.New("malformed domain description")

	// ErrNoRemovableMedia is returned when the domain has no cdrom device.
	ErrNoRemovableMedia = errors.New("domain has no removable media device")
)

// Source provides the live XML description of a domain.
//
// In production, this is satisfied by hypervisor.Domain.
// In tests, this is satisfied by a static string source.
type Source interface {
	XMLDesc(ctx context.Context) (string, error)
}

// Media identifies the storage volume bound to a removable media device.
type Media struct {
	Pool   string `json:"pool" yaml:"pool"`
	Volume string `json:"volume" yaml:"volume"`
}

// Descriptor is a lazily fetched, cached view of one domain description.
// It is safe for concurrent use.
type Descriptor struct {
	src Source
	now func() time.Time

	mu        sync.Mutex
	dom       *libvirtxml.Domain
	features  []string
	fetchedAt time.Time
}

// New creates a Descriptor over src. Nothing is fetched until the first
// accessor call.
func New(src Source) *Descriptor {
	return &Descriptor{src: src, now: time.Now}
}

// InvalidateCache drops the cached description; the next accessor call
// fetches it again.
func (d *Descriptor) InvalidateCache() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dom = nil
	d.features = nil
	d.fetchedAt = time.Time{}
}

// FetchedAt reports when the cached description was fetched.
// The zero time means nothing is cached.
func (d *Descriptor) FetchedAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetchedAt
}

// shadow records facts libvirtxml cannot tell apart: whether a disk's
// <source> element exists at all, and the raw children of <features>.
type shadow struct {
	Features *struct {
		Items []struct {
			XMLName xml.Name
			State   string `xml:"state,attr"`
		} `xml:",any"`
	} `xml:"features"`
	Disks []struct {
		Source *struct{} `xml:"source"`
	} `xml:"devices>disk"`
}

// load returns the cached domain, fetching and parsing it when needed.
// The caller must hold d.mu.
func (d *Descriptor) load(ctx context.Context) (*libvirtxml.Domain, error) {
	if d.dom != nil {
		return d.dom, nil
	}

	raw, err := d.src.XMLDesc(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch domain description: %w", err)
	}

	var dom libvirtxml.Domain
	if err := dom.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDomainDescription, err)
	}

	var sh shadow
	if err := xml.Unmarshal([]byte(raw), &sh); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDomainDescription, err)
	}

	// libvirtxml allocates a source for every disk from its type attribute,
	// even when the element is absent. Drop those so a nil Source means
	// "no <source> element".
	if dom.Devices != nil {
		for i := range dom.Devices.Disks {
			if i < len(sh.Disks) && sh.Disks[i].Source == nil {
				dom.Devices.Disks[i].Source = nil
			}
		}
	}

	var features []string
	if sh.Features != nil {
		for _, item := range sh.Features.Items {
			if item.State == "off" {
				continue
			}
			features = append(features, item.XMLName.Local)
		}
	}

	d.dom = &dom
	d.features = features
	d.fetchedAt = d.now()
	return d.dom, nil
}

// with runs fn against the cached domain under the lock.
func (d *Descriptor) with(ctx context.Context, fn func(dom *libvirtxml.Domain) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dom, err := d.load(ctx)
	if err != nil {
		return err
	}
	return fn(dom)
}

// Memory returns the <memory> value converted to unit, truncated to an
// integer.
func (d *Descriptor) Memory(ctx context.Context, unit string) (uint64, error) {
	to, ok := unitSize(unit)
	if !ok {
		return 0, fmt.Errorf("unknown memory unit %q", unit)
	}

	var bytes uint64
	err := d.with(ctx, func(dom *libvirtxml.Domain) error {
		if dom.Memory == nil {
			return fmt.Errorf("%w: no <memory> element", ErrMalformedDomainDescription)
		}
		declared := dom.Memory.Unit
		if declared == "" {
			declared = "KiB"
		}
		from, ok := unitSize(declared)
		if !ok {
			return fmt.Errorf("%w: unknown <memory> unit %q", ErrMalformedDomainDescription, declared)
		}
		hi, lo := bits.Mul64(uint64(dom.Memory.Value), from)
		if hi != 0 {
			return fmt.Errorf("%w: <memory> value %d %s overflows", ErrMalformedDomainDescription, dom.Memory.Value, declared)
		}
		bytes = lo
		return nil
	})
	if err != nil {
		return 0, err
	}
	return bytes / to, nil
}

// MemoryInMiB returns the <memory> value in MiB.
func (d *Descriptor) MemoryInMiB(ctx context.Context) (uint64, error) {
	return d.Memory(ctx, "MiB")
}

// VCPUs returns the <vcpu> count.
func (d *Descriptor) VCPUs(ctx context.Context) (uint, error) {
	var n uint
	err := d.with(ctx, func(dom *libvirtxml.Domain) error {
		if dom.VCPU == nil {
			return fmt.Errorf("%w: no <vcpu> element", ErrMalformedDomainDescription)
		}
		n = dom.VCPU.Value
		return nil
	})
	return n, err
}

// Features returns the names of the enabled hypervisor features, in document
// order. The sequence may be ranged over any number of times.
func (d *Descriptor) Features(ctx context.Context) (iter.Seq[string], error) {
	var names []string
	err := d.with(ctx, func(*libvirtxml.Domain) error {
		names = slices.Clone(d.features)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Values(names), nil
}

// VNCPort returns the port of the first VNC graphics device.
// ok is false when there is no such device or it has no port assigned.
func (d *Descriptor) VNCPort(ctx context.Context) (port int, ok bool, err error) {
	err = d.with(ctx, func(dom *libvirtxml.Domain) error {
		port, ok = vncPort(dom)
		return nil
	})
	return port, ok, err
}

// SPICEPort returns the port of the first SPICE graphics device.
// ok is false when there is no such device or it has no port assigned.
func (d *Descriptor) SPICEPort(ctx context.Context) (port int, ok bool, err error) {
	err = d.with(ctx, func(dom *libvirtxml.Domain) error {
		port, ok = spicePort(dom)
		return nil
	})
	return port, ok, err
}

// RemoteManagementURI returns a spice:// or vnc:// URI for host. SPICE is
// preferred when both are available. ok is false when neither graphics
// device exposes a port.
func (d *Descriptor) RemoteManagementURI(ctx context.Context, host string) (uri string, ok bool, err error) {
	err = d.with(ctx, func(dom *libvirtxml.Domain) error {
		scheme := "spice"
		port, found := spicePort(dom)
		if !found {
			scheme = "vnc"
			port, found = vncPort(dom)
		}
		if !found {
			return nil
		}

		u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strconv.Itoa(port))}
		uri, ok = u.String(), true
		return nil
	})
	return uri, ok, err
}

// RemovableMedia returns the volume bound to the first cdrom device.
// ok is false when there is no cdrom device, it has no <source> element, or
// the source does not name a volume.
func (d *Descriptor) RemovableMedia(ctx context.Context) (media Media, ok bool, err error) {
	err = d.with(ctx, func(dom *libvirtxml.Domain) error {
		disk := cdrom(dom)
		if disk == nil || disk.Source == nil || disk.Source.Volume == nil {
			return nil
		}
		if disk.Source.Volume.Volume == "" {
			return nil
		}
		media = Media{Pool: disk.Source.Volume.Pool, Volume: disk.Source.Volume.Volume}
		ok = true
		return nil
	})
	return media, ok, err
}

// SetRemovableMedia binds pool/volume to the first cdrom device in the
// cached description, creating its <source> element if needed, and closes
// the tray when the device declares one.
func (d *Descriptor) SetRemovableMedia(ctx context.Context, pool, volume string) error {
	return d.with(ctx, func(dom *libvirtxml.Domain) error {
		disk := cdrom(dom)
		if disk == nil {
			return ErrNoRemovableMedia
		}

		if disk.Source == nil {
			disk.Source = &libvirtxml.DomainDiskSource{}
		}
		disk.Source.File = nil
		disk.Source.Block = nil
		disk.Source.Network = nil
		disk.Source.Volume = &libvirtxml.DomainDiskSourceVolume{Pool: pool, Volume: volume}

		if disk.Target != nil && disk.Target.Tray != "" {
			disk.Target.Tray = "closed"
		}
		return nil
	})
}

// EjectRemovableMedia opens the tray of the first cdrom device in the cached
// description and unbinds its medium. It does nothing when the domain has
// no cdrom device.
func (d *Descriptor) EjectRemovableMedia(ctx context.Context) error {
	return d.with(ctx, func(dom *libvirtxml.Domain) error {
		disk := cdrom(dom)
		if disk == nil {
			return nil
		}

		if disk.Target == nil {
			disk.Target = &libvirtxml.DomainDiskTarget{}
		}
		disk.Target.Tray = "open"
		disk.Source = nil
		return nil
	})
}

// RemovableMediaDeviceXML returns the cached definition of the first cdrom
// device, suitable for an update-device call.
func (d *Descriptor) RemovableMediaDeviceXML(ctx context.Context) (string, error) {
	var out string
	err := d.with(ctx, func(dom *libvirtxml.Domain) error {
		disk := cdrom(dom)
		if disk == nil {
			return ErrNoRemovableMedia
		}
		xmlText, err := disk.Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal cdrom device: %w", err)
		}
		out = xmlText
		return nil
	})
	return out, err
}

// HasRemovableMedia reports whether the domain has a cdrom device.
func (d *Descriptor) HasRemovableMedia(ctx context.Context) (bool, error) {
	var found bool
	err := d.with(ctx, func(dom *libvirtxml.Domain) error {
		found = cdrom(dom) != nil
		return nil
	})
	return found, err
}

// Metadata returns the VirtualMachine record embedded in the domain.
// ok is false when the domain carries no yolocloud metadata.
func (d *Descriptor) Metadata(ctx context.Context) (vm *v1alpha1.VirtualMachine, ok bool, err error) {
	err = d.with(ctx, func(dom *libvirtxml.Domain) error {
		if dom.Metadata == nil {
			return nil
		}
		vm, ok, err = metadata.Decode(dom.Metadata.XML)
		return err
	})
	return vm, ok, err
}

func cdrom(dom *libvirtxml.Domain) *libvirtxml.DomainDisk {
	if dom.Devices == nil {
		return nil
	}
	for i := range dom.Devices.Disks {
		if dom.Devices.Disks[i].Device == "cdrom" {
			return &dom.Devices.Disks[i]
		}
	}
	return nil
}

func vncPort(dom *libvirtxml.Domain) (int, bool) {
	if dom.Devices == nil {
		return 0, false
	}
	for _, g := range dom.Devices.Graphics {
		if g.VNC != nil {
			return g.VNC.Port, g.VNC.Port > 0
		}
	}
	return 0, false
}

func spicePort(dom *libvirtxml.Domain) (int, bool) {
	if dom.Devices == nil {
		return 0, false
	}
	for _, g := range dom.Devices.Graphics {
		if g.Spice != nil {
			return g.Spice.Port, g.Spice.Port > 0
		}
	}
	return 0, false
}
