package provision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/hypervisor"
)

// DefaultTemplate is used for VMs that did not request a template.
const DefaultTemplate = "base"

var (
	// ErrUnknownTemplate is returned for template names nothing is registered under.
	ErrUnknownTemplate = errors.New("unknown template")

	// ErrProvisioningFailed wraps every failure to define the domain or
	// create its volume.
	ErrProvisioningFailed = errors.New("provisioning failed")
)

// Template provisions one kind of virtual machine on a connection.
//
// On success the VM's PrimaryDisk is set; the caller marks it provisioned
// and persists it.
type Template interface {
	Provision(ctx context.Context, vm *v1alpha1.VirtualMachine, conn hypervisor.Conn) error
}

// Registry maps template names to Templates. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]Template)}
}

// Register adds t under name, replacing any previous registration.
func (r *Registry) Register(name string, t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[name] = t
}

// Lookup returns the Template registered under name. An empty name resolves
// to DefaultTemplate.
func (r *Registry) Lookup(name string) (Template, error) {
	if name == "" {
		name = DefaultTemplate
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return t, nil
}

// Names returns the registered template names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
