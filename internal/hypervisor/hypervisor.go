// Package hypervisor defines the connection abstraction the lifecycle code
// talks to.
//
// Connections are never shared: every task opens its own Conn with a Dialer
// and releases it through WithConn, which closes exactly the handle it
// opened on every exit path.
//
// The production implementation lives in internal/libvirt. Tests use fakes
// that record Open/Close pairs.
package hypervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrHypervisorUnreachable wraps connection and transport failures.
	ErrHypervisorUnreachable = errors.New("hypervisor unreachable")

	// ErrDomainNotFound is returned when no domain has the requested UUID.
	ErrDomainNotFound = errors.New("domain not found")

	// ErrPoolNotFound is returned when the named storage pool does not exist.
	ErrPoolNotFound = errors.New("storage pool not found")

	// ErrVolumeNotFound is returned when the named volume is not in the pool.
	ErrVolumeNotFound = errors.New("storage volume not found")
)

// Dialer opens hypervisor connections.
type Dialer interface {
	// Open connects to the hypervisor at url (e.g. "qemu:///system").
	Open(ctx context.Context, url string) (Conn, error)
}

// Conn is one open hypervisor connection.
type Conn interface {
	// LookupDomain finds a domain by UUID.
	LookupDomain(ctx context.Context, id uuid.UUID) (Domain, error)

	// DefineDomain defines (but does not start) a persistent domain.
	DefineDomain(ctx context.Context, xml string) (Domain, error)

	// StoragePool looks up a storage pool by name.
	StoragePool(ctx context.Context, name string) (Pool, error)

	// Close releases the connection.
	Close() error
}

// Pool is a storage pool on a connection.
type Pool interface {
	// Name returns the pool name.
	Name() string

	// CreateVolume creates a volume from XML and returns its name.
	CreateVolume(ctx context.Context, xml string) (string, error)

	// DeleteVolume removes a volume by name.
	DeleteVolume(ctx context.Context, name string) error
}

// Domain is a handle to one domain on a connection.
type Domain interface {
	// UUID returns the domain UUID.
	UUID() uuid.UUID

	// XMLDesc fetches the live domain description.
	XMLDesc(ctx context.Context) (string, error)

	// UpdateDevice replaces a device definition from XML in the persistent
	// config, and in the live domain when it is running.
	UpdateDevice(ctx context.Context, xml string) error

	// State returns the current domain state.
	State(ctx context.Context) (State, error)

	// Create powers the domain on.
	Create(ctx context.Context) error

	// Shutdown sends a graceful shutdown (ACPI) request.
	Shutdown(ctx context.Context) error

	// Reboot sends a graceful reboot request.
	Reboot(ctx context.Context) error

	// Reset hard-resets the domain.
	Reset(ctx context.Context) error

	// Destroy forces the domain off.
	Destroy(ctx context.Context) error

	// Undefine removes the persistent definition, including NVRAM.
	Undefine(ctx context.Context) error
}

// WithConn opens a connection to url, runs fn with it and closes it.
//
// The connection is closed on every path out of fn, including panics. A
// close failure is reported alongside the error returned by fn; fn's error
// stays first so errors.Is and the message both favour the operation.
func WithConn(ctx context.Context, d Dialer, url string, fn func(Conn) error) (err error) {
	conn, err := d.Open(ctx, url)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := conn.Close()
		if closeErr == nil {
			return
		}
		closeErr = fmt.Errorf("failed to close connection to %s: %w", url, closeErr)
		if err == nil {
			err = closeErr
			return
		}
		err = errors.Join(err, closeErr)
	}()

	return fn(conn)
}
