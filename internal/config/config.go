package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nchapman/modelfetch/internal/fileutil"
	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the public Hugging Face hub.
const DefaultEndpoint = "https://huggingface.co"

type Config struct {
	Registry     Registry `yaml:"registry"`
	ModelsDir    string   `yaml:"models_dir"`
	DefaultQuant string   `yaml:"default_quant"`
	Download     Download `yaml:"download"`
	Logging      Logging  `yaml:"logging"`
}

type Registry struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

type Download struct {
	ParallelParts   int `yaml:"parallel_parts"`
	Retries         int `yaml:"retries"`
	RetryDelayMs    int `yaml:"retry_delay_ms"`
	LockTimeoutSecs int `yaml:"lock_timeout_secs"`
	StaleLockSecs   int `yaml:"stale_lock_secs"`
}

type Logging struct {
	File string `yaml:"file"`
}

const (
	configDir  = ".modelfetch"
	configFile = "config.yaml"
	modelsDir  = "models"
	logsDir    = "logs"
)

func GetHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func ConfigPath() string {
	return filepath.Join(GetHomeDir(), configDir, configFile)
}

func ModelsPath() string {
	return filepath.Join(GetHomeDir(), configDir, modelsDir)
}

func LogsPath() string {
	return filepath.Join(GetHomeDir(), configDir, logsDir)
}

func DefaultConfig() *Config {
	return &Config{
		Registry: Registry{
			Endpoint: DefaultEndpoint,
		},
		ModelsDir:    "",
		DefaultQuant: "Q4_K_M",
		Download: Download{
			ParallelParts:   4,
			Retries:         5,
			RetryDelayMs:    500,
			LockTimeoutSecs: 600,
			StaleLockSecs:   30,
		},
	}
}

// Load reads the config file, falling back to defaults when it is missing,
// and then applies environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if endpoint := os.Getenv("HF_ENDPOINT"); endpoint != "" {
		c.Registry.Endpoint = endpoint
	}
	if token := os.Getenv("HF_TOKEN"); token != "" {
		c.Registry.Token = token
	}
	if dir := os.Getenv("MODELFETCH_MODELS_DIR"); dir != "" {
		c.ModelsDir = dir
	}
}

func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := fileutil.AtomicWriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(ConfigPath()),
		ModelsPath(),
		LogsPath(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Endpoint returns the registry base URL without a trailing slash.
func (c *Config) Endpoint() string {
	endpoint := c.Registry.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return strings.TrimRight(endpoint, "/")
}

// ModelsDirectory returns the configured models directory or the default one.
func (c *Config) ModelsDirectory() string {
	if c.ModelsDir != "" {
		return c.ModelsDir
	}
	return ModelsPath()
}

// Token returns the registry token from config, env or the huggingface cli cache.
func (c *Config) Token() string {
	if c.Registry.Token != "" {
		return c.Registry.Token
	}

	tokenPath := filepath.Join(GetHomeDir(), ".cache", "huggingface", "token")
	if data, err := os.ReadFile(tokenPath); err == nil {
		return strings.TrimSpace(string(data))
	}

	return ""
}

func (d Download) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMs) * time.Millisecond
}

func (d Download) LockTimeout() time.Duration {
	return time.Duration(d.LockTimeoutSecs) * time.Second
}

func (d Download) StaleLockAfter() time.Duration {
	return time.Duration(d.StaleLockSecs) * time.Second
}
