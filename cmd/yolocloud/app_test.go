package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/config"
	"github.com/jbweber/yolocloud/internal/provision"
	"github.com/jbweber/yolocloud/internal/vm"
)

func TestNewTemplates(t *testing.T) {
	c := config.Default()

	registry, err := newTemplates(c)
	if err != nil {
		t.Fatalf("newTemplates() error = %v", err)
	}
	if _, err := registry.Lookup(provision.DefaultTemplate); err != nil {
		t.Errorf("Lookup(%q) error = %v", provision.DefaultTemplate, err)
	}
}

func TestNewTemplates_MissingDir(t *testing.T) {
	c := config.Default()
	c.Templates.Dir = filepath.Join(t.TempDir(), "missing")

	if _, err := newTemplates(c); err == nil {
		t.Fatal("expected error for missing template directory, got nil")
	}
}

func TestNewHostSelector(t *testing.T) {
	c := config.Default()
	c.Hosts = []string{"qemu+tcp://hv1/system", "qemu+tcp://hv2/system"}

	c.HostSelection = config.HostSelectionRandom
	if _, ok := newHostSelector(c).(*vm.RandomHostSelector); !ok {
		t.Errorf("random selection: got %T", newHostSelector(c))
	}

	c.HostSelection = config.HostSelectionRoundRobin
	sel := newHostSelector(c)
	if _, ok := sel.(*vm.RoundRobinHostSelector); !ok {
		t.Fatalf("round-robin selection: got %T", sel)
	}
	first, second := sel.Select(), sel.Select()
	if first == second {
		t.Errorf("round-robin returned %s twice", first)
	}
}

func TestNewApp_Local(t *testing.T) {
	c := config.Default()
	c.Database = filepath.Join(t.TempDir(), "db")

	ctx := context.Background()
	a, err := newApp(c, false)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	if a.runner == nil {
		t.Error("local broker should run tasks in-process")
	}
	if a.nc != nil {
		t.Error("local broker should not connect to NATS")
	}

	tok, err := a.service.CreateToken(ctx, v1alpha1.Token{VMLifetime: 60})
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(c.Database); err != nil {
		t.Fatalf("database directory not created: %v", err)
	}

	// The token survives a reopen.
	a, err = newApp(c, false)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	stored, err := a.store.GetToken(ctx, tok.Value)
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if stored.VMLifetime != 60 {
		t.Errorf("VMLifetime = %d, want 60", stored.VMLifetime)
	}
}

func TestNewApp_UnreachableBroker(t *testing.T) {
	c := config.Default()
	c.Database = filepath.Join(t.TempDir(), "db")
	c.Broker = "nats://127.0.0.1:1"

	if _, err := newApp(c, false); err == nil {
		t.Fatal("expected error for unreachable broker, got nil")
	}

	// The store was released on failure.
	c.Broker = config.BrokerLocal
	a, err := newApp(c, false)
	if err != nil {
		t.Fatalf("newApp() after failure error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
