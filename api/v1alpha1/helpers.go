package v1alpha1

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultPasswordLength is the length of generated management passwords.
	DefaultPasswordLength = 12

	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewVirtualMachine creates an unprovisioned VirtualMachine with a fresh ID,
// CreatedAt set to now and a generated management password.
func NewVirtualMachine(now time.Time) (*VirtualMachine, error) {
	password, err := GeneratePassword(DefaultPasswordLength)
	if err != nil {
		return nil, err
	}

	return &VirtualMachine{
		ID:                 uuid.New(),
		CreatedAt:          now,
		HypervisorURL:      DefaultHypervisorURL,
		ManagementPassword: password,
	}, nil
}

// NewToken creates a single-use token that never expires and whose VMs
// never expire.
func NewToken() *Token {
	return &Token{Value: uuid.New().String()}
}

// GeneratePassword returns a random alphanumeric string of the given length.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("password length must be > 0, got %d", length)
	}

	limit := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// IsExpired reports whether the VM has reached its expiry time.
func (vm *VirtualMachine) IsExpired(now time.Time) bool {
	return vm.ExpiresAt != nil && !now.Before(*vm.ExpiresAt)
}

// IsExpired reports whether the token can no longer be redeemed.
func (t *Token) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Lifetime returns the VM lifetime as a duration. Zero means no expiry.
func (t *Token) Lifetime() time.Duration {
	return time.Duration(t.VMLifetime) * time.Second
}

// Apply copies the token's policy onto a VM being created from it.
func (t *Token) Apply(vm *VirtualMachine) {
	if t.VMLifetime != 0 {
		expires := vm.CreatedAt.Add(t.Lifetime())
		vm.ExpiresAt = &expires
	}
	if t.HypervisorURL != "" {
		vm.HypervisorURL = t.HypervisorURL
	}
}
