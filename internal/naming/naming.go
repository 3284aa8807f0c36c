// Package naming provides the naming conventions for the libvirt resources
// that back a VirtualMachine: domain names, volume names and MAC addresses
// are all derived from the VM's UUID so they never need to be stored.
package naming

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DomainPrefix prefixes every domain name created by yolocloud.
const DomainPrefix = "yc-"

// DomainName returns the libvirt domain name for a VM.
// Format: yc-{uuid}
//
// Example: 7f1c4a9e-3b2d-4c1e-9a0f-5d6e7f8a9b0c → yc-7f1c4a9e-3b2d-4c1e-9a0f-5d6e7f8a9b0c
func DomainName(id uuid.UUID) string {
	return DomainPrefix + id.String()
}

// MACFromID calculates a deterministic MAC address from a VM's UUID.
// Uses the QEMU/KVM OUI 52:54:00 followed by the last three UUID bytes.
//
// Example: ...-5d6e7f8a9b0c → 52:54:00:8a:9b:0c
func MACFromID(id uuid.UUID) string {
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", id[13], id[14], id[15])
}

// VolumeNameBoot returns the volume name for a VM's primary disk.
// Format: {uuid}_boot.qcow2
func VolumeNameBoot(id uuid.UUID) string {
	return fmt.Sprintf("%s_boot.qcow2", id)
}

// VolumeRef joins a pool and volume name into the reference stored in
// VirtualMachine.PrimaryDisk.
// Format: {pool}/{volume}
func VolumeRef(pool, volume string) string {
	return pool + "/" + volume
}

// ParseVolumeRef splits a reference produced by VolumeRef.
func ParseVolumeRef(ref string) (pool, volume string, err error) {
	pool, volume, ok := strings.Cut(ref, "/")
	if !ok || pool == "" || volume == "" {
		return "", "", fmt.Errorf("invalid volume reference %q: want pool/volume", ref)
	}
	return pool, volume, nil
}
