package vm

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/jbweber/yolocloud/api/v1alpha1"
)

// HostSelector picks the hypervisor a new VM is placed on.
type HostSelector interface {
	// Select returns a hypervisor URL.
	Select() string
}

// RandomHostSelector picks uniformly among its hosts.
type RandomHostSelector struct {
	hosts []string
}

// NewRandomHostSelector creates a RandomHostSelector. With no hosts it
// always selects the local system hypervisor.
func NewRandomHostSelector(hosts ...string) *RandomHostSelector {
	return &RandomHostSelector{hosts: append([]string(nil), hosts...)}
}

// Select implements HostSelector.
func (s *RandomHostSelector) Select() string {
	if len(s.hosts) == 0 {
		return v1alpha1.DefaultHypervisorURL
	}
	return s.hosts[rand.IntN(len(s.hosts))]
}

// RoundRobinHostSelector cycles through its hosts in order. It is safe for
// concurrent use.
type RoundRobinHostSelector struct {
	hosts []string
	next  atomic.Uint64
}

// NewRoundRobinHostSelector creates a RoundRobinHostSelector.
func NewRoundRobinHostSelector(hosts ...string) *RoundRobinHostSelector {
	return &RoundRobinHostSelector{hosts: append([]string(nil), hosts...)}
}

// Select implements HostSelector.
func (s *RoundRobinHostSelector) Select() string {
	if len(s.hosts) == 0 {
		return v1alpha1.DefaultHypervisorURL
	}
	n := s.next.Add(1) - 1
	return s.hosts[n%uint64(len(s.hosts))]
}
