package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-node agent configuration.
type Config struct {
	Pointer struct {
		Name     string `yaml:"name"`
		Endpoint string `yaml:"endpoint"`
		Token    string `yaml:"token"`
	} `yaml:"pointer"`
	Artifact struct {
		Backend  string `yaml:"backend"` // http or sftp
		Endpoint string `yaml:"endpoint"`
		Token    string `yaml:"token"`
		SFTP     struct {
			Addr       string `yaml:"addr"`
			User       string `yaml:"user"`
			KeyPath    string `yaml:"key_path"`
			KnownHosts string `yaml:"known_hosts"`
			BaseDir    string `yaml:"base_dir"`
		} `yaml:"sftp"`
	} `yaml:"artifact"`
	Workload struct {
		Root                   string   `yaml:"root"`
		Marker                 string   `yaml:"marker"`
		Manifests              []string `yaml:"manifests"`
		Up                     []string `yaml:"up"`
		Down                   []string `yaml:"down"`
		ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
	} `yaml:"workload"`
	Preemption struct {
		SignalURL           string `yaml:"signal_url"`
		PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
		QuiesceIdleSeconds  int    `yaml:"quiesce_idle_seconds"`
	} `yaml:"preemption"`
	Bootstrap struct {
		MaxRetries     int `yaml:"max_retries"`
		InitialDelayMS int `yaml:"initial_delay_ms"`
		MaxDelayMS     int `yaml:"max_delay_ms"`
	} `yaml:"bootstrap"`
	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`
	Status struct {
		Addr string `yaml:"addr"`
	} `yaml:"status"`
	Telemetry struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"telemetry"`
}

// Load reads YAML configuration from a path. If path is empty, it resolves
// $XDG_CONFIG_HOME/nodeagent/config.yaml or ~/.config/nodeagent/config.yaml.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
		path = filepath.Join(base, "nodeagent", "config.yaml")
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if tok := os.Getenv("NODEAGENT_POINTER_TOKEN"); tok != "" {
		cfg.Pointer.Token = tok
	}
	if tok := os.Getenv("NODEAGENT_ARTIFACT_TOKEN"); tok != "" {
		cfg.Artifact.Token = tok
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Pointer.Name == "" {
		c.Pointer.Name = "current"
	}
	if c.Artifact.Backend == "" {
		c.Artifact.Backend = "http"
	}
	if c.Workload.Root == "" {
		c.Workload.Root = "/var/lib/nodeagent/workload"
	}
	if c.Workload.Marker == "" {
		c.Workload.Marker = ".materialized"
	}
	if len(c.Workload.Manifests) == 0 {
		c.Workload.Manifests = []string{"workload.yaml", "workload.yml", "manifest.yaml"}
	}
	if c.Workload.ShutdownTimeoutSeconds <= 0 {
		c.Workload.ShutdownTimeoutSeconds = 90
	}
	if c.Preemption.SignalURL == "" {
		c.Preemption.SignalURL = "http://169.254.169.254/latest/meta-data/spot/instance-action"
	}
	if c.Preemption.PollIntervalSeconds <= 0 {
		c.Preemption.PollIntervalSeconds = 5
	}
	if c.Preemption.QuiesceIdleSeconds <= 0 {
		c.Preemption.QuiesceIdleSeconds = 600
	}
	if c.Bootstrap.MaxRetries <= 0 {
		c.Bootstrap.MaxRetries = 5
	}
	if c.Bootstrap.InitialDelayMS <= 0 {
		c.Bootstrap.InitialDelayMS = 1000
	}
	if c.Bootstrap.MaxDelayMS <= 0 {
		c.Bootstrap.MaxDelayMS = 30000
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "/var/lib/nodeagent/journal.db"
	}
	if c.Status.Addr == "" {
		c.Status.Addr = ":8088"
	}
}

// PollInterval returns the preemption poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Preemption.PollIntervalSeconds) * time.Second
}

// ShutdownTimeout returns the workload shutdown budget as a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Workload.ShutdownTimeoutSeconds) * time.Second
}

// QuiesceIdle returns the post-drain idle duration.
func (c Config) QuiesceIdle() time.Duration {
	return time.Duration(c.Preemption.QuiesceIdleSeconds) * time.Second
}
