package libvirt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/yolocloud/internal/deadline"
	"github.com/jbweber/yolocloud/internal/hypervisor"
)

// rpcClient defines the go-libvirt operations the hypervisor connection needs.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type rpcClient interface {
	DomainLookupByUUID(UUID libvirt.UUID) (libvirt.Domain, error)
	DomainDefineXML(XML string) (libvirt.Domain, error)
	DomainGetXMLDesc(Dom libvirt.Domain, Flags libvirt.DomainXMLFlags) (string, error)
	DomainUpdateDeviceFlags(Dom libvirt.Domain, XML string, Flags libvirt.DomainDeviceModifyFlags) error
	DomainGetState(Dom libvirt.Domain, Flags uint32) (int32, int32, error)
	DomainCreate(Dom libvirt.Domain) error
	DomainShutdown(Dom libvirt.Domain) error
	DomainReboot(Dom libvirt.Domain, Flags libvirt.DomainRebootFlagValues) error
	DomainReset(Dom libvirt.Domain, Flags uint32) error
	DomainDestroy(Dom libvirt.Domain) error
	DomainUndefineFlags(Dom libvirt.Domain, Flags libvirt.DomainUndefineFlagsValues) error
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StorageVolCreateXML(Pool libvirt.StoragePool, XML string, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolDelete(Vol libvirt.StorageVol, Flags libvirt.StorageVolDeleteFlags) error
}

// notFoundCodes maps hypervisor sentinels to the libvirt error reported
// for the missing object.
var notFoundCodes = map[error]libvirt.ErrorNumber{
	hypervisor.ErrDomainNotFound: libvirt.ErrNoDomain,
	hypervisor.ErrPoolNotFound:   libvirt.ErrNoStoragePool,
	hypervisor.ErrVolumeNotFound: libvirt.ErrNoStorageVol,
}

// Dialer opens go-libvirt backed hypervisor connections.
type Dialer struct {
	// ConnectTimeout bounds dialing and the connect handshake.
	ConnectTimeout time.Duration
	// OperationTimeout bounds every RPC issued on an open connection.
	OperationTimeout time.Duration
}

// NewDialer creates a Dialer with the given timeouts.
func NewDialer(connectTimeout, operationTimeout time.Duration) *Dialer {
	return &Dialer{
		ConnectTimeout:   connectTimeout,
		OperationTimeout: operationTimeout,
	}
}

// Open implements hypervisor.Dialer.
func (d *Dialer) Open(ctx context.Context, url string) (hypervisor.Conn, error) {
	target, err := ParseURI(url)
	if err != nil {
		return nil, err
	}

	client, err := ConnectWithContext(ctx, target, d.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", hypervisor.ErrHypervisorUnreachable, url, err)
	}

	return &Conn{
		rpc:     client.Libvirt(),
		closer:  client,
		url:     url,
		timeout: d.OperationTimeout,
	}, nil
}

// Conn is a hypervisor.Conn over one go-libvirt connection.
type Conn struct {
	rpc     rpcClient
	closer  interface{ Close() error }
	url     string
	timeout time.Duration
}

// call runs one RPC under the operation timeout. Transport failures are
// reported as ErrHypervisorUnreachable and missing objects as notFound.
func (c *Conn) call(ctx context.Context, op string, notFound error, fn func() error) error {
	err := deadline.Run(ctx, c.timeout, op, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, deadline.ErrTimeout) || errors.Is(err, context.Canceled) {
		return err
	}
	var rpcErr libvirt.Error
	if !errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %s on %s: %w", hypervisor.ErrHypervisorUnreachable, op, c.url, err)
	}
	if code, ok := notFoundCodes[notFound]; ok && libvirt.ErrorNumber(rpcErr.Code) == code {
		return fmt.Errorf("%s: %w: %v", op, notFound, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// LookupDomain implements hypervisor.Conn.
func (c *Conn) LookupDomain(ctx context.Context, id uuid.UUID) (hypervisor.Domain, error) {
	var dom libvirt.Domain
	err := c.call(ctx, "look up domain "+id.String(), hypervisor.ErrDomainNotFound, func() (err error) {
		dom, err = c.rpc.DomainLookupByUUID(libvirt.UUID(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Domain{conn: c, dom: dom}, nil
}

// DefineDomain implements hypervisor.Conn.
func (c *Conn) DefineDomain(ctx context.Context, xml string) (hypervisor.Domain, error) {
	var dom libvirt.Domain
	err := c.call(ctx, "define domain", nil, func() (err error) {
		dom, err = c.rpc.DomainDefineXML(xml)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Domain{conn: c, dom: dom}, nil
}

// StoragePool implements hypervisor.Conn.
func (c *Conn) StoragePool(ctx context.Context, name string) (hypervisor.Pool, error) {
	var pool libvirt.StoragePool
	err := c.call(ctx, "look up storage pool "+name, hypervisor.ErrPoolNotFound, func() (err error) {
		pool, err = c.rpc.StoragePoolLookupByName(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Pool{conn: c, pool: pool}, nil
}

// Close implements hypervisor.Conn.
func (c *Conn) Close() error {
	return c.closer.Close()
}

// Domain is a hypervisor.Domain backed by a go-libvirt domain handle.
type Domain struct {
	conn *Conn
	dom  libvirt.Domain
}

// UUID implements hypervisor.Domain.
func (d *Domain) UUID() uuid.UUID {
	return uuid.UUID(d.dom.UUID)
}

func (d *Domain) do(ctx context.Context, op string, fn func() error) error {
	return d.conn.call(ctx, op+" domain "+d.dom.Name, hypervisor.ErrDomainNotFound, fn)
}

// XMLDesc implements hypervisor.Domain.
func (d *Domain) XMLDesc(ctx context.Context) (string, error) {
	var xml string
	err := d.do(ctx, "describe", func() (err error) {
		xml, err = d.conn.rpc.DomainGetXMLDesc(d.dom, 0)
		return err
	})
	return xml, err
}

// UpdateDevice implements hypervisor.Domain. The device is updated in the
// live domain when it is running and always in the persistent config.
func (d *Domain) UpdateDevice(ctx context.Context, xml string) error {
	state, err := d.State(ctx)
	if err != nil {
		return err
	}

	flags := libvirt.DomainDeviceModifyConfig
	if state.IsActive() {
		flags |= libvirt.DomainDeviceModifyLive
	}
	return d.do(ctx, "update device on", func() error {
		return d.conn.rpc.DomainUpdateDeviceFlags(d.dom, xml, flags)
	})
}

// State implements hypervisor.Domain.
func (d *Domain) State(ctx context.Context) (hypervisor.State, error) {
	var state int32
	err := d.do(ctx, "get state of", func() (err error) {
		state, _, err = d.conn.rpc.DomainGetState(d.dom, 0)
		return err
	})
	return hypervisor.State(state), err
}

// Create implements hypervisor.Domain.
func (d *Domain) Create(ctx context.Context) error {
	return d.do(ctx, "start", func() error { return d.conn.rpc.DomainCreate(d.dom) })
}

// Shutdown implements hypervisor.Domain.
func (d *Domain) Shutdown(ctx context.Context) error {
	return d.do(ctx, "shut down", func() error { return d.conn.rpc.DomainShutdown(d.dom) })
}

// Reboot implements hypervisor.Domain.
func (d *Domain) Reboot(ctx context.Context) error {
	return d.do(ctx, "reboot", func() error { return d.conn.rpc.DomainReboot(d.dom, 0) })
}

// Reset implements hypervisor.Domain.
func (d *Domain) Reset(ctx context.Context) error {
	return d.do(ctx, "reset", func() error { return d.conn.rpc.DomainReset(d.dom, 0) })
}

// Destroy implements hypervisor.Domain.
func (d *Domain) Destroy(ctx context.Context) error {
	return d.do(ctx, "destroy", func() error { return d.conn.rpc.DomainDestroy(d.dom) })
}

// Undefine implements hypervisor.Domain.
func (d *Domain) Undefine(ctx context.Context) error {
	return d.do(ctx, "undefine", func() error {
		return d.conn.rpc.DomainUndefineFlags(d.dom, libvirt.DomainUndefineNvram)
	})
}

// Pool is a hypervisor.Pool backed by a go-libvirt storage pool handle.
type Pool struct {
	conn *Conn
	pool libvirt.StoragePool
}

// Name implements hypervisor.Pool.
func (p *Pool) Name() string {
	return p.pool.Name
}

// CreateVolume implements hypervisor.Pool.
func (p *Pool) CreateVolume(ctx context.Context, xml string) (string, error) {
	var spec libvirtxml.StorageVolume
	if err := spec.Unmarshal(xml); err != nil {
		return "", fmt.Errorf("invalid volume XML: %w", err)
	}

	var vol libvirt.StorageVol
	err := p.conn.call(ctx, "create volume "+spec.Name+" in pool "+p.pool.Name, nil, func() (err error) {
		vol, err = p.conn.rpc.StorageVolCreateXML(p.pool, xml, 0)
		return err
	})
	if err != nil {
		return "", err
	}
	return vol.Name, nil
}

// DeleteVolume implements hypervisor.Pool.
func (p *Pool) DeleteVolume(ctx context.Context, name string) error {
	return p.conn.call(ctx, "delete volume "+name+" from pool "+p.pool.Name, hypervisor.ErrVolumeNotFound, func() error {
		vol, err := p.conn.rpc.StorageVolLookupByName(p.pool, name)
		if err != nil {
			return err
		}
		return p.conn.rpc.StorageVolDelete(vol, 0)
	})
}
