// Package config loads the digestflow configuration file and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "digestflow.yaml"
	homeConfigName    = "config.yaml"

	envPrefix = "DIGESTFLOW_"
)

// Duration wraps time.Duration with YAML string decoding ("30s", "2m").
type Duration time.Duration

// UnmarshalYAML decodes a duration from its string form.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ProviderConfig selects and authenticates the LLM backend.
type ProviderConfig struct {
	// Name is the iris provider registry key (anthropic, openai, ollama).
	Name string `yaml:"name"`

	// APIKey may reference an environment variable, e.g. ${ANTHROPIC_API_KEY}.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier passed on every call.
	Model string `yaml:"model"`
}

// MailboxConfig locates the mailbox the fetch step reads.
type MailboxConfig struct {
	// Path is a JSON file holding an array of {subject, from, content}.
	Path string `yaml:"path"`
}

// PipelineConfig tunes a digest run.
type PipelineConfig struct {
	EmailCount     int      `yaml:"email_count"`
	MaxIterations  int      `yaml:"max_iterations"`
	PlannerTimeout Duration `yaml:"planner_timeout"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`

	// StorePath is the sqlite database recording run history. Empty keeps
	// history in memory only.
	StorePath string `yaml:"store_path"`

	// Schedule is an optional cron expression (UTC) for unattended digest
	// runs, e.g. "0 7 * * *".
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig controls the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Config is the root configuration shape of digestflow.yaml.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration used when no file or override supplies
// a value.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Name:  "anthropic",
			Model: "claude-sonnet-4-20250514",
		},
		Mailbox: MailboxConfig{
			Path: "mailbox.json",
		},
		Pipeline: PipelineConfig{
			EmailCount:     10,
			PlannerTimeout: Duration(60 * time.Second),
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Discover resolves the config file location with first-match semantics: the
// explicit path if given, then ./digestflow.yaml, then
// ~/.digestflow/config.yaml.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is a testable variant of Discover.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".digestflow", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// If explicit path is set, not found is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads the config file at path over the defaults, expands environment
// references, and applies DIGESTFLOW_* overrides. An empty path loads
// defaults plus overrides only.
func Load(path string) (Config, error) {
	cfg := Default()

	if clean := strings.TrimSpace(path); clean != "" {
		// #nosec G304 -- path resolved from explicit local config discovery.
		data, err := os.ReadFile(clean)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %q: %w", clean, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", clean, err)
		}
	}

	cfg.expandEnv()
	cfg.applyEnvOverrides(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for shapes Load cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Provider.Name) == "" {
		return errors.New("config: provider.name is required")
	}
	if strings.TrimSpace(c.Provider.Model) == "" {
		return errors.New("config: provider.model is required")
	}
	if c.Pipeline.EmailCount < 0 {
		return fmt.Errorf("config: pipeline.email_count must not be negative, got %d", c.Pipeline.EmailCount)
	}
	if c.Pipeline.MaxIterations < 0 {
		return fmt.Errorf("config: pipeline.max_iterations must not be negative, got %d", c.Pipeline.MaxIterations)
	}
	return nil
}

func (c *Config) expandEnv() {
	c.Provider.APIKey = os.ExpandEnv(c.Provider.APIKey)
	c.Mailbox.Path = os.ExpandEnv(c.Mailbox.Path)
	c.Server.StorePath = os.ExpandEnv(c.Server.StorePath)
	c.Telemetry.Endpoint = os.ExpandEnv(c.Telemetry.Endpoint)
}

// applyEnvOverrides lets DIGESTFLOW_* variables win over file values. Flags
// applied by the CLI layer win over both.
func (c *Config) applyEnvOverrides(getenv func(string) string) {
	if v := getenv(envPrefix + "PROVIDER"); v != "" {
		c.Provider.Name = v
	}
	if v := getenv(envPrefix + "API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := getenv(envPrefix + "MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := getenv(envPrefix + "MAILBOX"); v != "" {
		c.Mailbox.Path = v
	}
	if v := getenv(envPrefix + "ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv(envPrefix + "STORE_PATH"); v != "" {
		c.Server.StorePath = v
	}
	if v := getenv(envPrefix + "SCHEDULE"); v != "" {
		c.Server.Schedule = v
	}
	if v := getenv(envPrefix + "OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := getenv(envPrefix + "EMAIL_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.EmailCount = n
		}
	}
}
