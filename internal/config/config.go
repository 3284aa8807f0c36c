// Package config loads the yolocloud daemon and CLI configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/yolocloud/internal/provision"
)

// BrokerLocal runs tasks in-process instead of through NATS.
const BrokerLocal = "local"

// Host selection policies.
const (
	HostSelectionRandom     = "random"
	HostSelectionRoundRobin = "round-robin"
)

// EnvPrefix prefixes environment overrides, e.g. YOLOCLOUD_WORKERS.
const EnvPrefix = "YOLOCLOUD"

// Config is the complete yolocloud configuration.
type Config struct {
	// Database is the badger directory.
	Database string `mapstructure:"database" yaml:"database"`
	// Broker is BrokerLocal or a NATS URL.
	Broker string `mapstructure:"broker" yaml:"broker"`
	// Hosts are the hypervisor URLs new VMs are placed on.
	Hosts         []string `mapstructure:"hosts" yaml:"hosts"`
	HostSelection string   `mapstructure:"host_selection" yaml:"host_selection"`
	RequireToken  bool     `mapstructure:"require_token" yaml:"require_token"`
	Workers       int      `mapstructure:"workers" yaml:"workers"`
	Timeouts      Timeouts `mapstructure:"timeouts" yaml:"timeouts"`
	LogLevel      string   `mapstructure:"log_level" yaml:"log_level"`
	// MetricsAddr is the listen address of the worker's /metrics endpoint.
	// Empty disables it.
	MetricsAddr string    `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	Templates   Templates `mapstructure:"templates" yaml:"templates"`
}

// Timeouts bound every blocking call.
type Timeouts struct {
	Connect   time.Duration `mapstructure:"connect" yaml:"connect"`
	Operation time.Duration `mapstructure:"operation" yaml:"operation"`
	Store     time.Duration `mapstructure:"store" yaml:"store"`
	// Task bounds a whole task run; zero leaves only the per-call bounds.
	Task time.Duration `mapstructure:"task" yaml:"task"`
}

// Templates configures the provisioning templates.
type Templates struct {
	// Dir, when set, replaces the built-in descriptor templates.
	Dir  string               `mapstructure:"dir" yaml:"dir"`
	Base provision.BaseParams `mapstructure:"base" yaml:"base"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Database:      "/var/lib/yolocloud/db",
		Broker:        BrokerLocal,
		HostSelection: HostSelectionRandom,
		Workers:       4,
		Timeouts: Timeouts{
			Connect:   10 * time.Second,
			Operation: 30 * time.Second,
			Store:     5 * time.Second,
		},
		LogLevel:  "info",
		Templates: Templates{Base: provision.DefaultBaseParams()},
	}
}

// Normalize trims user input and fills unset fields from Default.
func (c *Config) Normalize() {
	def := Default()

	c.Broker = strings.TrimSpace(c.Broker)
	if c.Broker == "" {
		c.Broker = def.Broker
	}
	c.HostSelection = strings.ToLower(strings.TrimSpace(c.HostSelection))
	if c.HostSelection == "" {
		c.HostSelection = def.HostSelection
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	hosts := c.Hosts[:0]
	for _, h := range c.Hosts {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	c.Hosts = hosts

	if c.Database == "" {
		c.Database = def.Database
	}
	if c.Workers == 0 {
		c.Workers = def.Workers
	}
	if c.Timeouts.Connect == 0 {
		c.Timeouts.Connect = def.Timeouts.Connect
	}
	if c.Timeouts.Operation == 0 {
		c.Timeouts.Operation = def.Timeouts.Operation
	}
	if c.Timeouts.Store == 0 {
		c.Timeouts.Store = def.Timeouts.Store
	}
}

// Validate checks the configuration for errors. It reports the first one.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Broker != BrokerLocal {
		u, err := url.Parse(c.Broker)
		if err != nil || u.Host == "" || (u.Scheme != "nats" && u.Scheme != "tls") {
			return fmt.Errorf("broker must be %q or a nats:// URL, got %q", BrokerLocal, c.Broker)
		}
	}
	switch c.HostSelection {
	case HostSelectionRandom, HostSelectionRoundRobin:
	default:
		return fmt.Errorf("host_selection must be %q or %q, got %q", HostSelectionRandom, HostSelectionRoundRobin, c.HostSelection)
	}
	for i, h := range c.Hosts {
		if u, err := url.Parse(h); err != nil || u.Scheme == "" {
			return fmt.Errorf("hosts[%d]: invalid hypervisor URL %q", i, h)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be > 0, got %d", c.Workers)
	}
	if c.Timeouts.Connect < 0 || c.Timeouts.Operation < 0 || c.Timeouts.Store < 0 || c.Timeouts.Task < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if err := c.Templates.Base.Validate(); err != nil {
		return fmt.Errorf("templates.base: %w", err)
	}
	return nil
}

// LoadFromFile loads a configuration from a YAML file, without environment
// overrides.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return finish(cfg)
}

// Load reads the configuration through v: defaults, then the config file
// (path, or config.yaml in the usual directories when empty), then
// YOLOCLOUD_* environment variables, then whatever flags were bound to v.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/yolocloud/")
		v.AddConfigPath("$HOME/.config/yolocloud/")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return finish(cfg)
}

// SetDefaults registers every key with its default so environment
// variables can override keys absent from the file.
func SetDefaults(v *viper.Viper) {
	def := Default()
	base := def.Templates.Base

	v.SetDefault("database", def.Database)
	v.SetDefault("broker", def.Broker)
	v.SetDefault("hosts", []string{})
	v.SetDefault("host_selection", def.HostSelection)
	v.SetDefault("require_token", def.RequireToken)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("timeouts.connect", def.Timeouts.Connect)
	v.SetDefault("timeouts.operation", def.Timeouts.Operation)
	v.SetDefault("timeouts.store", def.Timeouts.Store)
	v.SetDefault("timeouts.task", def.Timeouts.Task)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("templates.dir", def.Templates.Dir)
	v.SetDefault("templates.base.memory_mib", base.MemoryMiB)
	v.SetDefault("templates.base.vcpus", base.VCPUs)
	v.SetDefault("templates.base.disk_gib", base.DiskGiB)
	v.SetDefault("templates.base.bridge", base.Bridge)
	v.SetDefault("templates.base.network_model", base.NetworkModel)
	v.SetDefault("templates.base.with_media", base.WithMedia)
	v.SetDefault("templates.base.with_network", base.WithNetwork)
	v.SetDefault("templates.base.storage_pool", base.StoragePool)
	v.SetDefault("templates.base.media_pool", base.MediaPool)
	v.SetDefault("templates.base.graphics_listen", base.GraphicsListen)
}

func finish(cfg *Config) (*Config, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
