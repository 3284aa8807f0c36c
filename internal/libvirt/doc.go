// Package libvirt implements the hypervisor connection abstraction on top of
// github.com/digitalocean/go-libvirt.
//
// This package provides:
//   - URI parsing for local and TCP libvirt endpoints
//   - Connection management (connect, disconnect, ping)
//   - A hypervisor.Dialer whose connections wrap domains and storage pools
//
// Connection URIs:
//
// Local URIs talk to the daemon over its unix socket; qemu+tcp URIs dial the
// remote daemon directly:
//
//	qemu:///system                          -> /var/run/libvirt/libvirt-sock
//	qemu:///system?socket=/run/libvirt.sock -> custom socket
//	qemu+tcp://hv1.example.com/system       -> hv1.example.com:16509
//	qemu+tcp://[2001:db8::1]:16510/system   -> [2001:db8::1]:16510
//
// Usage:
//
//	d := libvirt.NewDialer(5*time.Second, 30*time.Second)
//	err := hypervisor.WithConn(ctx, d, vm.HypervisorURL, func(c hypervisor.Conn) error {
//	    dom, err := c.LookupDomain(ctx, vm.ID)
//	    if err != nil {
//	        return err
//	    }
//	    return dom.Create(ctx)
//	})
//
// Consumer-Side Interfaces:
//
// Conn wraps a small rpcClient interface rather than *libvirt.Libvirt so that
// the translation between go-libvirt and hypervisor types can be tested with
// mocks. *libvirt.Libvirt satisfies rpcClient implicitly.
package libvirt
