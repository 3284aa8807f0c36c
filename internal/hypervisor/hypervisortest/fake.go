// Package hypervisortest provides an in-memory hypervisor for tests.
//
// Dialer records every connection it hands out so tests can assert that each
// opened connection was closed exactly once.
package hypervisortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/yolocloud/internal/hypervisor"
)

// Dialer is a fake hypervisor.Dialer backed by one in-memory host.
type Dialer struct {
	mu sync.Mutex

	// OpenErr, when set, makes every Open fail.
	OpenErr error
	// CloseErr is returned by Close on every connection.
	CloseErr error
	// DefineErr, when set, makes DefineDomain fail.
	DefineErr error

	domains map[uuid.UUID]*Domain
	pools   map[string]*Pool
	conns   []*Conn
}

// NewDialer returns a fake with no domains and the given storage pools.
func NewDialer(pools ...string) *Dialer {
	d := &Dialer{
		domains: make(map[uuid.UUID]*Domain),
		pools:   make(map[string]*Pool),
	}
	for _, name := range pools {
		d.pools[name] = &Pool{name: name, Volumes: make(map[string]string)}
	}
	return d
}

// Open implements hypervisor.Dialer.
func (d *Dialer) Open(_ context.Context, url string) (hypervisor.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	c := &Conn{ID: len(d.conns) + 1, URL: url, dialer: d}
	d.conns = append(d.conns, c)
	return c, nil
}

// Conns returns every connection opened so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// AddDomain registers a domain with the given XML description.
func (d *Dialer) AddDomain(id uuid.UUID, xml string) *Domain {
	d.mu.Lock()
	defer d.mu.Unlock()

	dom := &Domain{id: id, dialer: d, XML: xml, Errors: make(map[string]error)}
	d.domains[id] = dom
	return dom
}

// Domain returns the domain with id, or nil.
func (d *Dialer) Domain(id uuid.UUID) *Domain {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.domains[id]
}

// Pool returns the pool with name, or nil.
func (d *Dialer) Pool(name string) *Pool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pools[name]
}

// Conn is a fake hypervisor.Conn.
type Conn struct {
	ID  int
	URL string

	dialer *Dialer
	mu     sync.Mutex
	closes int
}

// Closes returns how many times Close was called on this connection.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// LookupDomain implements hypervisor.Conn.
func (c *Conn) LookupDomain(_ context.Context, id uuid.UUID) (hypervisor.Domain, error) {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()

	dom, ok := c.dialer.domains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", hypervisor.ErrDomainNotFound, id)
	}
	return dom, nil
}

// DefineDomain implements hypervisor.Conn. The UUID is taken from the XML.
func (c *Conn) DefineDomain(_ context.Context, xml string) (hypervisor.Domain, error) {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()

	if c.dialer.DefineErr != nil {
		return nil, c.dialer.DefineErr
	}

	var spec libvirtxml.Domain
	if err := spec.Unmarshal(xml); err != nil {
		return nil, fmt.Errorf("invalid domain XML: %w", err)
	}
	id, err := uuid.Parse(spec.UUID)
	if err != nil {
		return nil, fmt.Errorf("invalid domain UUID %q: %w", spec.UUID, err)
	}

	dom := &Domain{id: id, dialer: c.dialer, XML: xml, Errors: make(map[string]error), StateValue: hypervisor.StateShutoff}
	c.dialer.domains[id] = dom
	return dom, nil
}

// StoragePool implements hypervisor.Conn.
func (c *Conn) StoragePool(_ context.Context, name string) (hypervisor.Pool, error) {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()

	p, ok := c.dialer.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", hypervisor.ErrPoolNotFound, name)
	}
	return p, nil
}

// Close implements hypervisor.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()

	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	return c.dialer.CloseErr
}

// Pool is a fake hypervisor.Pool.
type Pool struct {
	name string

	mu sync.Mutex
	// Volumes maps volume name to the XML it was created from.
	Volumes map[string]string
	// CreateErr, when set, makes CreateVolume fail.
	CreateErr error
}

// Name implements hypervisor.Pool.
func (p *Pool) Name() string { return p.name }

// CreateVolume implements hypervisor.Pool.
func (p *Pool) CreateVolume(_ context.Context, xml string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.CreateErr != nil {
		return "", p.CreateErr
	}
	var vol libvirtxml.StorageVolume
	if err := vol.Unmarshal(xml); err != nil {
		return "", fmt.Errorf("invalid volume XML: %w", err)
	}
	if _, exists := p.Volumes[vol.Name]; exists {
		return "", fmt.Errorf("volume %s already exists", vol.Name)
	}
	p.Volumes[vol.Name] = xml
	return vol.Name, nil
}

// DeleteVolume implements hypervisor.Pool.
func (p *Pool) DeleteVolume(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.Volumes[name]; !ok {
		return fmt.Errorf("%w: %s in pool %s", hypervisor.ErrVolumeNotFound, name, p.name)
	}
	delete(p.Volumes, name)
	return nil
}

// Domain is a fake hypervisor.Domain.
type Domain struct {
	id     uuid.UUID
	dialer *Dialer

	mu sync.Mutex
	// XML is returned by XMLDesc.
	XML string
	// StateValue is returned by State.
	StateValue hypervisor.State
	// Errors maps an operation name ("create", "shutdown", "update-device", ...)
	// to the error it should return.
	Errors map[string]error
	// Calls records operation names in call order.
	Calls []string
	// Devices records XML passed to UpdateDevice.
	Devices []string
	// Undefined is set once Undefine succeeded.
	Undefined bool
}

// CallCount returns how many times op was invoked.
func (d *Domain) CallCount(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, c := range d.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (d *Domain) record(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, op)
	return d.Errors[op]
}

// UUID implements hypervisor.Domain.
func (d *Domain) UUID() uuid.UUID { return d.id }

// XMLDesc implements hypervisor.Domain.
func (d *Domain) XMLDesc(_ context.Context) (string, error) {
	if err := d.record("xml-desc"); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.XML, nil
}

// UpdateDevice implements hypervisor.Domain.
func (d *Domain) UpdateDevice(_ context.Context, xml string) error {
	if err := d.record("update-device"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Devices = append(d.Devices, xml)
	return nil
}

// State implements hypervisor.Domain.
func (d *Domain) State(_ context.Context) (hypervisor.State, error) {
	if err := d.record("state"); err != nil {
		return hypervisor.StateNoState, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.StateValue, nil
}

func (d *Domain) transition(op string, to hypervisor.State) error {
	if err := d.record(op); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StateValue = to
	return nil
}

// Create implements hypervisor.Domain.
func (d *Domain) Create(_ context.Context) error {
	return d.transition("create", hypervisor.StateRunning)
}

// Shutdown implements hypervisor.Domain.
func (d *Domain) Shutdown(_ context.Context) error {
	return d.transition("shutdown", hypervisor.StateShutoff)
}

// Reboot implements hypervisor.Domain.
func (d *Domain) Reboot(_ context.Context) error {
	return d.transition("reboot", hypervisor.StateRunning)
}

// Reset implements hypervisor.Domain.
func (d *Domain) Reset(_ context.Context) error {
	return d.transition("reset", hypervisor.StateRunning)
}

// Destroy implements hypervisor.Domain.
func (d *Domain) Destroy(_ context.Context) error {
	return d.transition("destroy", hypervisor.StateShutoff)
}

// Undefine implements hypervisor.Domain. The domain disappears from the
// host; later lookups fail with ErrDomainNotFound.
func (d *Domain) Undefine(_ context.Context) error {
	if err := d.record("undefine"); err != nil {
		return err
	}
	d.mu.Lock()
	d.Undefined = true
	d.mu.Unlock()

	if d.dialer != nil {
		d.dialer.mu.Lock()
		delete(d.dialer.domains, d.id)
		d.dialer.mu.Unlock()
	}
	return nil
}
