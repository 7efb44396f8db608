package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

// Defaults applied where the registry or config file is silent.
const (
	DefaultProcessName = "app"
	DefaultServicePort = 4200
	DefaultConcurrency = 2
	DefaultRemoteDir   = "~/app"
)

type TimeoutConfig struct {
	Copy   time.Duration `yaml:"copy"`
	Exec   time.Duration `yaml:"exec"`
	Health time.Duration `yaml:"health"`
	Settle time.Duration `yaml:"settle"`
	Run    time.Duration `yaml:"run"`
}

type ServerConfig struct {
	Port        int `yaml:"port"`
	MetricsPort int `yaml:"metrics_port"`
}

type TriggerConfig struct {
	Type      string        `yaml:"type"`
	RepoOwner string        `yaml:"repo_owner"`
	RepoName  string        `yaml:"repo_name"`
	Branch    string        `yaml:"branch"`
	TokenEnv  string        `yaml:"token_env"`
	Interval  time.Duration `yaml:"interval"`
}

type GitWatchConfig struct {
	RepoURL   string        `yaml:"repo_url"`
	Branch    string        `yaml:"branch"`
	LocalPath string        `yaml:"local_path"`
	Interval  time.Duration `yaml:"interval"`
}

type ArtifactConfig struct {
	OCI struct {
		Image    string `yaml:"image"`
		Tag      string `yaml:"tag"`
		Username string `yaml:"username"`
		TokenEnv string `yaml:"token_env"`
		CacheDir string `yaml:"cache_dir"`
	} `yaml:"oci"`
}

type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type SecretsConfig struct {
	// Backend selects the credential resolver: "env" or "keyring".
	Backend string `yaml:"backend"`
	EnvFile string `yaml:"env_file"`
}

type Config struct {
	Env         string         `yaml:"env"`
	Concurrency int            `yaml:"concurrency"`
	Targets     []model.Target `yaml:"targets"`
	Timeouts    TimeoutConfig  `yaml:"timeouts"`
	JournalPath string         `yaml:"journal_path"`
	Server      ServerConfig   `yaml:"server"`
	Trigger     TriggerConfig  `yaml:"trigger"`
	GitWatch    GitWatchConfig `yaml:"gitwatch"`
	Artifact    ArtifactConfig `yaml:"artifact"`
	Events      EventsConfig   `yaml:"events"`
	Secrets     SecretsConfig  `yaml:"secrets"`
}

// Load reads and validates a config file. A bad registry is a fatal
// pre-run error, never a per-target failure.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "production"
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Timeouts.Copy == 0 {
		c.Timeouts.Copy = 2 * time.Minute
	}
	if c.Timeouts.Exec == 0 {
		c.Timeouts.Exec = 10 * time.Minute
	}
	if c.Timeouts.Health == 0 {
		c.Timeouts.Health = 30 * time.Second
	}
	if c.Timeouts.Settle == 0 {
		c.Timeouts.Settle = 10 * time.Second
	}
	if c.JournalPath == "" {
		c.JournalPath = "fleetdeploy.db"
	}
	if c.Secrets.Backend == "" {
		c.Secrets.Backend = "env"
	}
	if c.Trigger.Interval == 0 {
		c.Trigger.Interval = 30 * time.Second
	}
	if c.GitWatch.Interval == 0 {
		c.GitWatch.Interval = time.Minute
	}
	for i := range c.Targets {
		t := &c.Targets[i]
		if t.ProcessName == "" {
			t.ProcessName = DefaultProcessName
		}
		if t.ServicePort == 0 {
			t.ServicePort = DefaultServicePort
		}
		if t.RemoteDir == "" {
			t.RemoteDir = DefaultRemoteDir
		}
		if t.CredentialRef == "" {
			t.CredentialRef = t.Label
		}
	}
}

// Validate rejects malformed registries before any remote work starts.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	seen := make(map[string]struct{}, len(c.Targets))
	for i, t := range c.Targets {
		if t.Label == "" {
			return fmt.Errorf("target %d: label is required", i)
		}
		if t.Host == "" {
			return fmt.Errorf("target %q: host is required", t.Label)
		}
		if _, dup := seen[t.Label]; dup {
			return fmt.Errorf("duplicate target label %q", t.Label)
		}
		seen[t.Label] = struct{}{}
	}
	return nil
}
