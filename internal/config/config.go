package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the console daemon needs to run. Values merge in
// order: defaults, then the YAML file, then environment overrides.
type Config struct {
	BackendURL       string
	ListenAddr       string
	DataDir          string
	PollInterval     time.Duration
	GraceDelay       time.Duration
	RelayDialTimeout time.Duration
	LogLevel         string
}

type FileConfig struct {
	Console ConsoleSection `yaml:"console"`
}

type ConsoleSection struct {
	BackendURL       string        `yaml:"backendUrl"`
	ListenAddr       string        `yaml:"listenAddr"`
	DataDir          string        `yaml:"dataDir"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	GraceDelay       time.Duration `yaml:"graceDelay"`
	RelayDialTimeout time.Duration `yaml:"relayDialTimeout"`
	LogLevel         string        `yaml:"logLevel"`
}

func DefaultConfig() Config {
	return Config{
		BackendURL:       "http://127.0.0.1:8080",
		ListenAddr:       "127.0.0.1:8989",
		DataDir:          defaultDataDir(),
		PollInterval:     2 * time.Second,
		GraceDelay:       5 * time.Second,
		RelayDialTimeout: 15 * time.Second,
		LogLevel:         "info",
	}
}

// LoadFromPath reads the config file when present; a missing or unreadable
// file falls back to defaults rather than failing startup.
func LoadFromPath(configPath string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/consoled.yaml",
			"consoled.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}

		merged := cfg
		Merge(&merged, parsed.Console)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src ConsoleSection) {
	if src.BackendURL != "" {
		dst.BackendURL = src.BackendURL
	}
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.PollInterval != 0 {
		dst.PollInterval = src.PollInterval
	}
	if src.GraceDelay != 0 {
		dst.GraceDelay = src.GraceDelay
	}
	if src.RelayDialTimeout != 0 {
		dst.RelayDialTimeout = src.RelayDialTimeout
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ECASH_BACKEND_URL")); v != "" {
		cfg.BackendURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ECASH_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ECASH_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("ECASH_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("ECASH_POLL_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ecash-console"
	}
	return home + string(os.PathSeparator) + ".ecash-console"
}
