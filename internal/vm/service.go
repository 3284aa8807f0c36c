package vm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/hypervisor"
	"github.com/jbweber/yolocloud/internal/metrics"
	"github.com/jbweber/yolocloud/internal/store"
	"github.com/jbweber/yolocloud/internal/task"
)

var (
	// ErrAdmissionDenied is returned when no valid token was presented and
	// one is required, or when the token was consumed concurrently.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrTokenExpired is returned for a token past its expiry time.
	ErrTokenExpired = errors.New("token expired")

	// ErrVMNotFound is returned when the VM record does not exist.
	ErrVMNotFound = errors.New("vm not found")

	// ErrNotReady is returned for reads of a VM that is not provisioned yet.
	ErrNotReady = errors.New("vm not ready")
)

// Options configures a Service.
type Options struct {
	// RequireToken rejects admission without a valid token.
	RequireToken bool
	// Hosts places VMs whose token carries no hypervisor override.
	// Defaults to a RandomHostSelector over the local hypervisor.
	Hosts HostSelector
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service implements admission and caller-facing lifecycle operations.
type Service struct {
	store  vmStore
	queue  taskQueue
	dialer hypervisor.Dialer

	requireToken bool
	hosts        HostSelector
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewService creates a Service. The dialer is used only by DescribeDomain.
func NewService(s vmStore, q taskQueue, d hypervisor.Dialer, opts Options) *Service {
	svc := &Service{
		store:        s,
		queue:        q,
		dialer:       d,
		requireToken: opts.RequireToken,
		hosts:        opts.Hosts,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
	}
	if svc.hosts == nil {
		svc.hosts = NewRandomHostSelector()
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// CreateVM redeems tokenValue and creates an unprovisioned VM, then enqueues
// its provision task with the requested template.
//
// A non-nil ID together with an error means the VM record was persisted but
// the provision task could not be enqueued.
func (s *Service) CreateVM(ctx context.Context, tokenValue, template string) (uuid.UUID, error) {
	vm, err := v1alpha1.NewVirtualMachine(s.now())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create vm record: %w", err)
	}
	vm.Template = template
	vm.HypervisorURL = ""

	err = s.store.Update(ctx, func(tx *store.Tx) error {
		tok, err := s.redeem(tx, tokenValue)
		if err != nil {
			return err
		}
		if tok != nil {
			tok.Apply(vm)
		}
		if vm.HypervisorURL == "" {
			vm.HypervisorURL = s.hosts.Select()
		}
		return tx.InsertVM(vm)
	})
	if errors.Is(err, store.ErrConflict) {
		// Another admission consumed the token first.
		return uuid.Nil, fmt.Errorf("%w: token already redeemed", ErrAdmissionDenied)
	}
	if err != nil {
		return uuid.Nil, err
	}

	s.metrics.VMCreated()
	s.logger.Info("vm admitted",
		zap.String("vm_id", vm.ID.String()),
		zap.String("hypervisor", vm.HypervisorURL),
		zap.String("template", template))

	args := map[string]string{}
	if template != "" {
		args[task.ArgTemplate] = template
	}
	if err := s.queue.Enqueue(ctx, task.Provision, vm.ID, args); err != nil {
		s.logger.Error("failed to enqueue provision task, vm left unprovisioned",
			zap.String("vm_id", vm.ID.String()),
			zap.Error(err))
		return vm.ID, fmt.Errorf("failed to enqueue provisioning of vm %s: %w", vm.ID, err)
	}
	return vm.ID, nil
}

// redeem looks up and validates the token, deleting it unless it
// regenerates. A nil token with a nil error means admission proceeds
// without one.
func (s *Service) redeem(tx *store.Tx, value string) (*v1alpha1.Token, error) {
	if value == "" {
		if s.requireToken {
			return nil, fmt.Errorf("%w: token required", ErrAdmissionDenied)
		}
		return nil, nil
	}

	tok, err := tx.GetToken(value)
	if errors.Is(err, store.ErrNotFound) {
		if s.requireToken {
			return nil, fmt.Errorf("%w: unknown token", ErrAdmissionDenied)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if tok.IsExpired(s.now()) {
		return nil, ErrTokenExpired
	}
	if !tok.Regenerates {
		if err := tx.DeleteToken(tok.Value); err != nil {
			return nil, fmt.Errorf("failed to consume token: %w", err)
		}
	}
	return tok, nil
}

// CreateToken stores t, generating its value when empty, and returns the
// stored token.
func (s *Service) CreateToken(ctx context.Context, t v1alpha1.Token) (*v1alpha1.Token, error) {
	if t.Value == "" {
		t.Value = v1alpha1.NewToken().Value
	}
	if t.VMLifetime < 0 {
		return nil, fmt.Errorf("vm lifetime must be >= 0, got %d", t.VMLifetime)
	}

	err := s.store.Update(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetToken(t.Value); err == nil {
			return fmt.Errorf("token: %w", store.ErrExists)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return tx.PutToken(&t)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}
	return &t, nil
}

// GetVM returns the VM record with id.
func (s *Service) GetVM(ctx context.Context, id uuid.UUID) (*v1alpha1.VirtualMachine, error) {
	vm, err := s.store.GetVM(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrVMNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return vm, nil
}

// ListVMs returns every VM record.
func (s *Service) ListVMs(ctx context.Context) ([]*v1alpha1.VirtualMachine, error) {
	return s.store.ListVMs(ctx)
}
