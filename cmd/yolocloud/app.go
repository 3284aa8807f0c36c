package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/jbweber/yolocloud/internal/config"
	"github.com/jbweber/yolocloud/internal/libvirt"
	"github.com/jbweber/yolocloud/internal/logging"
	"github.com/jbweber/yolocloud/internal/metrics"
	"github.com/jbweber/yolocloud/internal/provision"
	"github.com/jbweber/yolocloud/internal/store"
	"github.com/jbweber/yolocloud/internal/task"
	"github.com/jbweber/yolocloud/internal/vm"
)

// app holds the components one command invocation wires together.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	runner   *task.Runner
	nc       *nats.Conn
	js       nats.JetStreamContext
	service  *vm.Service
}

// newApp opens the store and builds the task pipeline for c.Broker. With
// the local broker, tasks run on an in-process Runner that Close waits for.
// When consume is set a Runner is created regardless of the broker. The
// Runner's context is never canceled: shutdown stops intake first and then
// waits for the tasks already accepted.
func newApp(c *config.Config, consume bool) (a *app, err error) {
	a = &app{cfg: c, logger: logging.Logger()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.store, err = store.Open(store.Options{Path: c.Database, Timeout: c.Timeouts.Store, Logger: a.logger})
	if err != nil {
		return nil, err
	}

	templates, err := newTemplates(c)
	if err != nil {
		return nil, err
	}
	dialer := libvirt.NewDialer(c.Timeouts.Connect, c.Timeouts.Operation)

	local := c.Broker == config.BrokerLocal
	if local || consume {
		dispatcher := task.NewDispatcher(a.store, dialer, templates, a.logger.Named("dispatcher"))
		a.runner = task.NewRunner(dispatcher, c.Workers,
			task.WithLogger(a.logger.Named("runner")),
			task.WithMetrics(a.metrics),
			task.WithTaskTimeout(c.Timeouts.Task))
	}

	opts := vm.Options{
		RequireToken: c.RequireToken,
		Hosts:        newHostSelector(c),
		Logger:       a.logger.Named("vm"),
		Metrics:      a.metrics,
	}
	if local {
		a.service = vm.NewService(a.store, task.NewLocalQueue(a.runner), dialer, opts)
		return a, nil
	}

	a.nc, err = task.Connect(c.Broker, a.logger.Named("nats"))
	if err != nil {
		return nil, err
	}
	a.js, err = a.nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get jetstream context: %w", err)
	}
	if err := task.EnsureStream(a.js, task.DefaultStream, task.DefaultSubjectPrefix); err != nil {
		return nil, err
	}
	a.service = vm.NewService(a.store, task.NewNATSQueue(a.js, task.DefaultSubjectPrefix, c.Timeouts.Operation), dialer, opts)
	return a, nil
}

// Close waits for in-process tasks, then releases the broker and store.
func (a *app) Close() error {
	if a.runner != nil {
		a.runner.Stop()
	}
	var errs []error
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("failed to drain nats connection: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newTemplates(c *config.Config) (*provision.Registry, error) {
	var (
		renderer *provision.TextRenderer
		err      error
	)
	if c.Templates.Dir != "" {
		renderer, err = provision.NewTextRendererFS(os.DirFS(c.Templates.Dir))
	} else {
		renderer, err = provision.NewTextRenderer()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	registry := provision.NewRegistry()
	registry.Register(provision.DefaultTemplate, provision.NewBaseTemplate(renderer, c.Templates.Base))
	return registry, nil
}

func newHostSelector(c *config.Config) vm.HostSelector {
	if c.HostSelection == config.HostSelectionRoundRobin {
		return vm.NewRoundRobinHostSelector(c.Hosts...)
	}
	return vm.NewRandomHostSelector(c.Hosts...)
}

// withApp runs fn with an app built from the loaded configuration.
func withApp(fn func(a *app) error) (err error) {
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(a)
}
