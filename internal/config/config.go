// Package config loads the harness configuration: which agent to run, where
// to run it, and which model judges it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/signalnine/gauntlet/internal/scenario"
)

// DefaultFile is read when --config is not given.
const DefaultFile = "gauntlet.yaml"

// EnvPrefix prefixes environment overrides, e.g. GAUNTLET_JUDGE_MODEL.
const EnvPrefix = "GAUNTLET"

// Sandbox kinds.
const (
	SandboxLocal  = "local"
	SandboxDocker = "docker"
)

type Config struct {
	Subject        scenario.Subject `mapstructure:"subject"`
	Sandbox        Sandbox          `mapstructure:"sandbox"`
	Judge          Judge            `mapstructure:"judge"`
	Secrets        Secrets          `mapstructure:"secrets"`
	Results        Results          `mapstructure:"results"`
	Parallel       int              `mapstructure:"parallel"`
	Trials         int              `mapstructure:"trials"`
	DefaultTimebox time.Duration    `mapstructure:"default_timebox"`
	Grace          time.Duration    `mapstructure:"grace"`
	CommandTimeout time.Duration    `mapstructure:"command_timeout"`
	GradeTimeout   time.Duration    `mapstructure:"grade_timeout"`
	TempRoot       string           `mapstructure:"temp_root"`
}

type Sandbox struct {
	Kind        string  `mapstructure:"kind"`
	Image       string  `mapstructure:"image"`
	CPULimit    float64 `mapstructure:"cpu_limit"`
	MemoryLimit string  `mapstructure:"memory_limit"`
	User        string  `mapstructure:"user"`
}

type Judge struct {
	Provider      string        `mapstructure:"provider"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	APIKeyEnv     string        `mapstructure:"api_key_env"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`
	Backoff       time.Duration `mapstructure:"backoff"`
	MaxTranscript int           `mapstructure:"max_transcript"`
	PricingFile   string        `mapstructure:"pricing_file"`
	Gateway       Gateway       `mapstructure:"gateway"`
}

// Gateway routes judge calls through a local LiteLLM proxy.
type Gateway struct {
	Enabled bool   `mapstructure:"enabled"`
	Config  string `mapstructure:"config"`
	LogDir  string `mapstructure:"log_dir"`
}

type Secrets struct {
	EnvFile string `mapstructure:"env_file"`
}

type Results struct {
	Dir string `mapstructure:"dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("subject.command", "")
	v.SetDefault("subject.stdin", false)
	v.SetDefault("sandbox.kind", SandboxLocal)
	v.SetDefault("sandbox.image", "")
	v.SetDefault("sandbox.cpu_limit", 0.0)
	v.SetDefault("sandbox.memory_limit", "")
	v.SetDefault("sandbox.user", "")
	v.SetDefault("judge.provider", "gemini")
	v.SetDefault("judge.base_url", "")
	v.SetDefault("judge.model", "gemini-2.0-flash")
	v.SetDefault("judge.api_key_env", "")
	v.SetDefault("judge.max_tokens", 1024)
	v.SetDefault("judge.timeout", 60*time.Second)
	v.SetDefault("judge.retries", 3)
	v.SetDefault("judge.backoff", 2*time.Second)
	v.SetDefault("judge.max_transcript", 60000)
	v.SetDefault("judge.pricing_file", "")
	v.SetDefault("judge.gateway.enabled", false)
	v.SetDefault("judge.gateway.config", "")
	v.SetDefault("judge.gateway.log_dir", "results/gateway")
	v.SetDefault("secrets.env_file", "")
	v.SetDefault("results.dir", "results")
	v.SetDefault("parallel", 1)
	v.SetDefault("trials", 1)
	v.SetDefault("default_timebox", 10*time.Minute)
	v.SetDefault("grace", 5*time.Second)
	v.SetDefault("command_timeout", 2*time.Minute)
	v.SetDefault("grade_timeout", 10*time.Minute)
	v.SetDefault("temp_root", "")
}

// Load reads path and applies GAUNTLET_* overrides. When explicit is false a
// missing file is not an error and defaults are used.
func Load(path string, explicit bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	if v.ConfigFileUsed() != "" {
		env, err := subjectEnv(v.ConfigFileUsed())
		if err != nil {
			return nil, fmt.Errorf("decoding config %s: %w", path, err)
		}
		if len(env) > 0 {
			cfg.Subject.Env = env
		}
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// subjectEnv decodes subject.env from the file itself. Viper lowercases map
// keys, and environment variable names are case-sensitive.
func subjectEnv(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Subject struct {
			Env map[string]string `yaml:"env"`
		} `yaml:"subject"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw.Subject.Env, nil
}

// APIKey returns the judge key from the configured environment variable, or
// the provider's conventional one.
func (j Judge) APIKey() string {
	name := j.APIKeyEnv
	if name == "" {
		name = strings.ToUpper(j.Provider) + "_API_KEY"
	}
	return os.Getenv(name)
}

func validate(cfg *Config) error {
	switch cfg.Sandbox.Kind {
	case SandboxLocal:
	case SandboxDocker:
		if cfg.Sandbox.Image == "" {
			return fmt.Errorf("sandbox: image is required for docker")
		}
	default:
		return fmt.Errorf("sandbox: unknown kind %q (want local or docker)", cfg.Sandbox.Kind)
	}
	if cfg.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1")
	}
	if cfg.Trials < 1 {
		return fmt.Errorf("trials must be at least 1")
	}
	if cfg.DefaultTimebox <= 0 {
		return fmt.Errorf("default_timebox must be positive")
	}
	if cfg.Grace < 0 {
		return fmt.Errorf("grace must not be negative")
	}
	if cfg.Judge.Retries < 0 {
		return fmt.Errorf("judge: retries must not be negative")
	}
	if cfg.Judge.Model == "" {
		return fmt.Errorf("judge: model is required")
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	return nil
}
