package libvirt

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// DefaultConnectTimeout is used when Connect is given a zero timeout.
const DefaultConnectTimeout = 5 * time.Second

// Client wraps a go-libvirt connection.
type Client struct {
	libvirt *libvirt.Libvirt
	target  Target
}

// Connect establishes a connection to the libvirt daemon described by target.
// It returns a Client that must be closed via Close() when done.
//
// If timeout is zero, defaults to 5 seconds.
func Connect(target Target, timeout time.Duration) (*Client, error) {
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}

	l := libvirt.NewWithDialer(newDialer(target, timeout))
	if err := l.ConnectToURI(libvirt.ConnectURI(target.Driver)); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", target.Address(), err)
	}

	return &Client{libvirt: l, target: target}, nil
}

func newDialer(target Target, timeout time.Duration) socket.Dialer {
	if target.IsRemote() {
		return dialers.NewRemote(
			target.Host,
			dialers.UsePort(target.Port),
			dialers.WithRemoteTimeout(timeout),
		)
	}
	return dialers.NewLocal(
		dialers.WithSocket(target.Socket),
		dialers.WithLocalTimeout(timeout),
	)
}

// ConnectWithContext establishes a connection with context support for cancellation.
func ConnectWithContext(ctx context.Context, target Target, timeout time.Duration) (*Client, error) {
	// Create a channel for the connection result
	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	// Attempt connection in a goroutine
	go func() {
		c, err := Connect(target, timeout)
		resultCh <- result{client: c, err: err}
	}()

	// Wait for either context cancellation or connection completion
	select {
	case <-ctx.Done():
		// Close a connection that completes after we stopped waiting.
		go func() {
			if res := <-resultCh; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// Close closes the libvirt connection and releases resources.
// It is safe to call Close multiple times.
func (c *Client) Close() error {
	if c.libvirt == nil {
		return nil
	}

	l := c.libvirt
	c.libvirt = nil
	if err := l.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}

	return nil
}

// Libvirt returns the underlying go-libvirt client for direct API access.
// This should be used sparingly; prefer the hypervisor.Conn returned by Dialer.
func (c *Client) Libvirt() *libvirt.Libvirt {
	return c.libvirt
}

// Ping verifies the connection is still alive by calling a simple libvirt API.
func (c *Client) Ping() error {
	if c.libvirt == nil {
		return fmt.Errorf("client not connected")
	}

	// Try to get libvirt version as a ping test
	_, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return fmt.Errorf("libvirt connection is dead: %w", err)
	}

	return nil
}

// Version returns the daemon's libvirt version as major.minor.patch.
func (c *Client) Version() (string, error) {
	if c.libvirt == nil {
		return "", fmt.Errorf("client not connected")
	}

	v, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("failed to get libvirt version: %w", err)
	}

	// libvirt returns version as an integer like 8006000 for 8.6.0
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v%1000000)/1000, v%1000), nil
}
