package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/engine/argo"
	"github.com/cuemby/sdpcontroller/pkg/manager"
	"github.com/cuemby/sdpcontroller/pkg/pipeline"
	"github.com/cuemby/sdpcontroller/pkg/registry"
	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/cuemby/sdpcontroller/pkg/workflow"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation"
)

// Defaults applied by Load
const (
	DefaultAPIAddr        = "127.0.0.1:8080"
	DefaultSocketPath     = "/var/run/sdpcontroller.sock"
	DefaultHealthAddr     = "127.0.0.1:9090"
	DefaultDataDir        = "/var/lib/sdpcontroller"
	DefaultLogLevel       = "info"
	DefaultSweepInterval  = 10 * time.Second
	DefaultServiceAccount = "workflow"
	DefaultTTLAfterDone   = 600 * time.Second
)

// Config is the controller configuration document
type Config struct {
	Server    ServerConfig                     `yaml:"server"`
	Log       LogConfig                        `yaml:"log"`
	Lifecycle LifecycleConfig                  `yaml:"lifecycle"`
	Argo      ArgoConfig                       `yaml:"argo"`
	TTL       int                              `yaml:"ttl"`
	Receptors []string                         `yaml:"receptors"`
	Resources map[string]int64                 `yaml:"resources"`
	Subarrays []registry.SubarraySpec          `yaml:"subarrays"`
	Templates map[string]pipeline.TemplateSpec `yaml:"templates"`
}

// ServerConfig holds listener addresses and the data directory
type ServerConfig struct {
	APIAddr    string `yaml:"apiAddr"`
	SocketPath string `yaml:"socketPath"`
	HealthAddr string `yaml:"healthAddr"`
	DataDir    string `yaml:"dataDir"`
}

// LogConfig selects log level and format
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LifecycleConfig tunes the lifecycle manager and its sweep
type LifecycleConfig struct {
	SweepInterval      time.Duration `yaml:"sweepInterval"`
	StatusTimeout      time.Duration `yaml:"statusTimeout"`
	SubmitAttempts     int           `yaml:"submitAttempts"`
	TeardownAttempts   int           `yaml:"teardownAttempts"`
	TeardownEscalation int           `yaml:"teardownEscalation"`
	RetryBackoff       time.Duration `yaml:"retryBackoff"`
	MaxBackoff         time.Duration `yaml:"maxBackoff"`
	DispatchTimeout    time.Duration `yaml:"dispatchTimeout"`
	HistoryLimit       int           `yaml:"historyLimit"`
}

// ArgoConfig holds the workflow engine connection and manifest options
type ArgoConfig struct {
	Kubeconfig         string            `yaml:"kubeconfig"`
	ServiceAccount     string            `yaml:"serviceAccount"`
	TTLAfterCompletion time.Duration     `yaml:"ttlAfterCompletion"`
	DryRun             bool              `yaml:"dryRun"`
	NamespaceLabels    map[string]string `yaml:"namespaceLabels"`
}

// Load reads and parses a configuration file and applies defaults.
// It does not validate; call Build for that.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document and applies defaults. Unknown
// fields are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.APIAddr == "" {
		c.Server.APIAddr = DefaultAPIAddr
	}
	if c.Server.SocketPath == "" {
		c.Server.SocketPath = DefaultSocketPath
	}
	if c.Server.HealthAddr == "" {
		c.Server.HealthAddr = DefaultHealthAddr
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = DefaultDataDir
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}

	d := manager.DefaultConfig()
	l := &c.Lifecycle
	if l.SweepInterval == 0 {
		l.SweepInterval = DefaultSweepInterval
	}
	if l.StatusTimeout == 0 {
		l.StatusTimeout = d.StatusTimeout
	}
	if l.SubmitAttempts == 0 {
		l.SubmitAttempts = d.SubmitAttempts
	}
	if l.TeardownAttempts == 0 {
		l.TeardownAttempts = d.TeardownAttempts
	}
	if l.RetryBackoff == 0 {
		l.RetryBackoff = d.RetryBackoff
	}
	if l.MaxBackoff == 0 {
		l.MaxBackoff = d.MaxBackoff
	}
	if l.DispatchTimeout == 0 {
		l.DispatchTimeout = d.DispatchTimeout
	}
	if l.HistoryLimit == 0 {
		l.HistoryLimit = d.HistoryLimit
	}

	if c.Argo.ServiceAccount == "" {
		c.Argo.ServiceAccount = DefaultServiceAccount
	}
	if c.Argo.TTLAfterCompletion == 0 {
		c.Argo.TTLAfterCompletion = DefaultTTLAfterDone
	}
}

// Built is a validated configuration turned into the objects the
// controller is assembled from
type Built struct {
	Registry   *registry.Registry
	Templates  map[string]*types.PipelineTemplate
	Capacity   map[string]int64
	Manager    manager.Config
	Translator workflow.Options
	Argo       argo.Config
}

// Build validates the whole document and returns the assembled parts.
// Any error means the controller must not start.
func (c *Config) Build() (*Built, error) {
	if err := c.validateLifecycle(); err != nil {
		return nil, err
	}
	if c.TTL < 0 {
		return nil, types.Invalid("config", "", "ttl", "must not be negative, got %d", c.TTL)
	}
	if len(c.Receptors) == 0 {
		return nil, types.Invalid("receptor", "", "receptors", "pool is empty")
	}

	capacity, err := c.capacity()
	if err != nil {
		return nil, err
	}

	defaultTTL := time.Duration(c.TTL) * time.Second
	templates := make(map[string]*types.PipelineTemplate, len(c.Templates))
	for _, name := range c.TemplateNames() {
		tmpl, err := pipeline.Load(name, c.Templates[name], defaultTTL)
		if err != nil {
			return nil, err
		}
		templates[name] = tmpl
	}

	reg, err := registry.Load(c.Receptors, c.Subarrays)
	if err != nil {
		return nil, err
	}
	for _, sa := range reg.Subarrays() {
		if _, ok := templates[sa.Template]; !ok {
			return nil, types.Invalid("subarray", sa.Name, "template", "template %q is not defined", sa.Template)
		}
	}

	return &Built{
		Registry:  reg,
		Templates: templates,
		Capacity:  capacity,
		Manager: manager.Config{
			SubmitAttempts:     c.Lifecycle.SubmitAttempts,
			TeardownAttempts:   c.Lifecycle.TeardownAttempts,
			TeardownEscalation: c.Lifecycle.TeardownEscalation,
			RetryBackoff:       c.Lifecycle.RetryBackoff,
			MaxBackoff:         c.Lifecycle.MaxBackoff,
			DispatchTimeout:    c.Lifecycle.DispatchTimeout,
			StatusTimeout:      c.Lifecycle.StatusTimeout,
			HistoryLimit:       c.Lifecycle.HistoryLimit,
			Now:                time.Now,
		},
		Translator: workflow.Options{
			ServiceAccount:     c.Argo.ServiceAccount,
			TTLAfterCompletion: c.Argo.TTLAfterCompletion,
		},
		Argo: argo.Config{
			DryRun:          c.Argo.DryRun,
			NamespaceLabels: c.Argo.NamespaceLabels,
		},
	}, nil
}

// TemplateNames returns the configured template names in sorted order
func (c *Config) TemplateNames() []string {
	names := make([]string, 0, len(c.Templates))
	for name := range c.Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) capacity() (map[string]int64, error) {
	out := make(map[string]int64, len(c.Resources))
	for name, qty := range c.Resources {
		if errs := validation.IsQualifiedName(name); len(errs) > 0 {
			return nil, types.Invalid("resource", name, "name", "%s", errs[0])
		}
		if qty <= 0 {
			return nil, types.Invalid("resource", name, "capacity", "must be positive, got %d", qty)
		}
		out[name] = qty
	}
	return out, nil
}

func (c *Config) validateLifecycle() error {
	l := c.Lifecycle
	checks := []struct {
		field string
		bad   bool
	}{
		{"sweepInterval", l.SweepInterval < 0},
		{"statusTimeout", l.StatusTimeout < 0},
		{"submitAttempts", l.SubmitAttempts < 0},
		{"teardownAttempts", l.TeardownAttempts < 0},
		{"teardownEscalation", l.TeardownEscalation < 0},
		{"retryBackoff", l.RetryBackoff < 0},
		{"maxBackoff", l.MaxBackoff < 0},
		{"dispatchTimeout", l.DispatchTimeout < 0},
		{"historyLimit", l.HistoryLimit < 0},
	}
	for _, check := range checks {
		if check.bad {
			return types.Invalid("config", "lifecycle", check.field, "must not be negative")
		}
	}
	if l.TeardownEscalation > 0 && l.TeardownEscalation < l.TeardownAttempts {
		return types.Invalid("config", "lifecycle", "teardownEscalation",
			"must be at least teardownAttempts (%d), got %d", l.TeardownAttempts, l.TeardownEscalation)
	}
	return nil
}
