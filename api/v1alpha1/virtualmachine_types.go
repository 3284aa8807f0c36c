package v1alpha1

import (
	"time"

	"github.com/google/uuid"
)

// DefaultHypervisorURL is the hypervisor a VirtualMachine lives on when
// neither its token nor the host selection policy picks another one.
const DefaultHypervisorURL = "qemu:///system"

// VirtualMachine is the persisted record of one virtual machine.
//
// The record is distinct from the hypervisor domain: Provisioned is only true
// once a domain with ID as its UUID has been defined on HypervisorURL.
type VirtualMachine struct {
	// ID is the domain UUID. Generated at creation, never changed.
	ID uuid.UUID `json:"id" yaml:"id"`

	// CreatedAt is set once when the record is created.
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`

	// HypervisorURL locates the libvirt daemon that owns the domain.
	HypervisorURL string `json:"hypervisorURL" yaml:"hypervisorURL"`

	// ExpiresAt makes the VM eligible for reclamation once reached.
	// +optional
	ExpiresAt *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`

	// ManagementPassword is handed out for out-of-band (SPICE/VNC) access.
	// +optional
	ManagementPassword string `json:"managementPassword,omitempty" yaml:"managementPassword,omitempty"`

	// Provisioned is false until the domain and its volume exist.
	Provisioned bool `json:"provisioned" yaml:"provisioned"`

	// PrimaryDisk is the name of the primary storage volume.
	// +optional
	PrimaryDisk string `json:"primaryDisk,omitempty" yaml:"primaryDisk,omitempty"`

	// Template is the template name requested at admission.
	// +optional
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
}

// Token authorizes the creation of virtual machines.
type Token struct {
	// Value is the redeemable token string (UUID formatted).
	Value string `json:"value" yaml:"value"`

	// ExpiresAt stops the token from being redeemed once reached.
	// +optional
	ExpiresAt *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`

	// VMLifetime is the lifetime in seconds of VMs created with this token.
	// 0 means the VMs never expire.
	VMLifetime int64 `json:"vmLifetime" yaml:"vmLifetime"`

	// Regenerates keeps the token usable after redemption.
	Regenerates bool `json:"regenerates" yaml:"regenerates"`

	// HypervisorURL forces VMs created with this token onto one host.
	// +optional
	HypervisorURL string `json:"hypervisorURL,omitempty" yaml:"hypervisorURL,omitempty"`
}
