package libvirt

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	// DefaultSocketPath is the system libvirtd socket.
	DefaultSocketPath = "/var/run/libvirt/libvirt-sock"

	// DefaultTCPPort is the libvirtd TCP listen port.
	DefaultTCPPort = "16509"
)

// Target describes how to reach a libvirt daemon and which driver to open.
type Target struct {
	// Driver is the URI handed to the daemon, e.g. "qemu:///system".
	Driver string
	// Socket is the unix socket path for local targets.
	Socket string
	// Host and Port are set for remote targets.
	Host string
	Port string
}

// IsRemote reports whether the target is reached over TCP.
func (t Target) IsRemote() bool {
	return t.Host != ""
}

// Address returns the dial address of the target.
func (t Target) Address() string {
	if t.IsRemote() {
		return net.JoinHostPort(t.Host, t.Port)
	}
	return t.Socket
}

// ParseURI turns a libvirt connection URI into a Target.
//
// Supported transports are the implicit local one ("qemu:///system"),
// "+unix" and "+tcp". Other transports (ssh, tls, libssh2) are rejected.
func ParseURI(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("invalid libvirt URI %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return Target{}, fmt.Errorf("invalid libvirt URI %q: missing driver", raw)
	}

	driver, transport, _ := strings.Cut(u.Scheme, "+")
	path := u.Path
	if path == "" {
		path = "/system"
	}
	target := Target{Driver: driver + "://" + path}

	switch transport {
	case "", "unix":
		if transport == "" && u.Host != "" {
			// A host without explicit transport means TLS in libvirt.
			return Target{}, fmt.Errorf("unsupported libvirt URI %q: remote hosts require the +tcp transport", raw)
		}
		target.Socket = DefaultSocketPath
		if s := u.Query().Get("socket"); s != "" {
			target.Socket = s
		}
	case "tcp":
		if u.Hostname() == "" {
			return Target{}, fmt.Errorf("invalid libvirt URI %q: tcp transport requires a host", raw)
		}
		target.Host = u.Hostname()
		target.Port = u.Port()
		if target.Port == "" {
			target.Port = DefaultTCPPort
		}
	default:
		return Target{}, fmt.Errorf("unsupported libvirt transport %q in %q", transport, raw)
	}

	return target, nil
}
