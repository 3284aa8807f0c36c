// Package store persists VirtualMachine and Token records in badger.
//
// Records are JSON values under two key prefixes, one per table. Update
// runs a read-write transaction so several reads and writes commit or
// fail together; admission uses it to consume a token and insert the VM it
// produced in one step.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/deadline"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when inserting a record whose key is taken.
	ErrExists = errors.New("already exists")

	// ErrConflict is returned when a concurrent transaction touched the
	// same records first. The losing transaction wrote nothing.
	ErrConflict = errors.New("transaction conflict")
)

const (
	vmPrefix    = "vm/"
	tokenPrefix = "token/"
)

// DefaultTimeout bounds store calls when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Options configures Open.
type Options struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in memory (tests, dry runs).
	InMemory bool
	// Timeout bounds every call; DefaultTimeout when zero.
	Timeout time.Duration
	// Logger receives badger's own log output. Nil discards it.
	Logger *zap.Logger
}

// Store is a badger-backed VM and token store.
type Store struct {
	db      *badger.DB
	timeout time.Duration
}

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		bopts = badger.DefaultOptions(filepath.Clean(opts.Path))
	}

	bopts.Logger = nil
	if opts.Logger != nil {
		bopts.Logger = &badgerLogger{opts.Logger.Named("badger").Sugar()}
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Store{db: db, timeout: timeout}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn in a read-write transaction. Nothing is written unless fn
// returns nil and the commit succeeds. A call that times out never commits.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := deadline.Run(ctx, s.timeout, "store update", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			if err := fn(&Tx{txn: txn}); err != nil {
				return err
			}
			// Abandoned by the caller: roll back instead of committing late.
			return ctx.Err()
		})
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	return deadline.Run(ctx, s.timeout, "store view", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			return fn(&Tx{txn: txn})
		})
	})
}

// GetVM returns the VM with id.
func (s *Store) GetVM(ctx context.Context, id uuid.UUID) (*v1alpha1.VirtualMachine, error) {
	var vm *v1alpha1.VirtualMachine
	err := s.View(ctx, func(tx *Tx) (err error) {
		vm, err = tx.GetVM(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vm, nil
}

// SaveVM inserts or replaces vm.
func (s *Store) SaveVM(ctx context.Context, vm *v1alpha1.VirtualMachine) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.PutVM(vm)
	})
}

// UpdateVM reads the VM with id, applies fn and writes the result back in
// one transaction. It fails with ErrNotFound when the VM was deleted.
func (s *Store) UpdateVM(ctx context.Context, id uuid.UUID, fn func(vm *v1alpha1.VirtualMachine) error) error {
	return s.Update(ctx, func(tx *Tx) error {
		vm, err := tx.GetVM(id)
		if err != nil {
			return err
		}
		if err := fn(vm); err != nil {
			return err
		}
		return tx.PutVM(vm)
	})
}

// DeleteVM removes the VM with id. Deleting a missing VM is not an error.
func (s *Store) DeleteVM(ctx context.Context, id uuid.UUID) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.DeleteVM(id)
	})
}

// ListVMs returns every VM ordered by key.
func (s *Store) ListVMs(ctx context.Context) ([]*v1alpha1.VirtualMachine, error) {
	var vms []*v1alpha1.VirtualMachine
	err := s.View(ctx, func(tx *Tx) error {
		return tx.scan(vmPrefix, func(v []byte) error {
			var vm v1alpha1.VirtualMachine
			if err := json.Unmarshal(v, &vm); err != nil {
				return fmt.Errorf("failed to decode VM record: %w", err)
			}
			vms = append(vms, &vm)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return vms, nil
}

// GetToken returns the token with value.
func (s *Store) GetToken(ctx context.Context, value string) (*v1alpha1.Token, error) {
	var tok *v1alpha1.Token
	err := s.View(ctx, func(tx *Tx) (err error) {
		tok, err = tx.GetToken(value)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// SaveToken inserts or replaces t.
func (s *Store) SaveToken(ctx context.Context, t *v1alpha1.Token) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.PutToken(t)
	})
}

// ListTokens returns every token ordered by value.
func (s *Store) ListTokens(ctx context.Context) ([]*v1alpha1.Token, error) {
	var toks []*v1alpha1.Token
	err := s.View(ctx, func(tx *Tx) error {
		return tx.scan(tokenPrefix, func(v []byte) error {
			var t v1alpha1.Token
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("failed to decode token record: %w", err)
			}
			toks = append(toks, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return toks, nil
}

// Tx is one transaction. It must not be used after the function it was
// passed to returns.
type Tx struct {
	txn *badger.Txn
}

// GetVM returns the VM with id.
func (tx *Tx) GetVM(id uuid.UUID) (*v1alpha1.VirtualMachine, error) {
	var vm v1alpha1.VirtualMachine
	if err := tx.get(vmKey(id), &vm); err != nil {
		return nil, fmt.Errorf("vm %s: %w", id, err)
	}
	return &vm, nil
}

// PutVM inserts or replaces vm.
func (tx *Tx) PutVM(vm *v1alpha1.VirtualMachine) error {
	return tx.put(vmKey(vm.ID), vm)
}

// InsertVM inserts vm, failing with ErrExists if its ID is taken.
func (tx *Tx) InsertVM(vm *v1alpha1.VirtualMachine) error {
	if _, err := tx.GetVM(vm.ID); err == nil {
		return fmt.Errorf("vm %s: %w", vm.ID, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return tx.PutVM(vm)
}

// DeleteVM removes the VM with id.
func (tx *Tx) DeleteVM(id uuid.UUID) error {
	return tx.txn.Delete(vmKey(id))
}

// GetToken returns the token with value.
func (tx *Tx) GetToken(value string) (*v1alpha1.Token, error) {
	var t v1alpha1.Token
	if err := tx.get(tokenKey(value), &t); err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	return &t, nil
}

// PutToken inserts or replaces t.
func (tx *Tx) PutToken(t *v1alpha1.Token) error {
	if t.Value == "" {
		return fmt.Errorf("token value is required")
	}
	return tx.put(tokenKey(t.Value), t)
}

// DeleteToken removes the token with value.
func (tx *Tx) DeleteToken(value string) error {
	return tx.txn.Delete(tokenKey(value))
}

func (tx *Tx) get(key []byte, out any) error {
	item, err := tx.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, out)
	})
}

func (tx *Tx) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return tx.txn.Set(key, data)
}

func (tx *Tx) scan(prefix string, fn func(v []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func vmKey(id uuid.UUID) []byte {
	return []byte(vmPrefix + id.String())
}

func tokenKey(value string) []byte {
	return []byte(tokenPrefix + value)
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}
