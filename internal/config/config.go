// Package config loads pidm settings from the user's config file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// AppDir is the directory name under XDG_CONFIG_HOME and XDG_DATA_HOME.
	AppDir = "pidm"
	// ConfigFile is the config file name.
	ConfigFile = "config.yml"
	// DBFile is the default registry file name.
	DBFile = "pid_manager.db"
)

// Environment variables that override the config file.
const (
	EnvDB         = "PIDM_DB"
	EnvAOPURL     = "PIDM_AOP_URL"
	EnvAOPIndex   = "PIDM_AOP_INDEX"
	EnvAOPSSHHost = "PIDM_AOP_SSH_HOST"
	EnvAOPRate    = "PIDM_AOP_RATE_LIMIT"
)

// Config holds everything a run needs to reach its collaborators.
type Config struct {
	// DB is the SQLite registry file.
	DB string `yaml:"db" json:"db"`

	// BusyTimeout is how long a registry transaction waits on a locked
	// database.
	BusyTimeout time.Duration `yaml:"busy_timeout,omitempty" json:"busy_timeout,omitempty"`

	// LogDir receives one logbook file per batch run. Empty disables them.
	LogDir string `yaml:"log_dir,omitempty" json:"log_dir,omitempty"`

	// PDFFallback reads DOIs from PDF renditions when the XML lacks one.
	PDFFallback bool `yaml:"pdf_fallback,omitempty" json:"pdf_fallback,omitempty"`

	AOP AOPConfig `yaml:"aop,omitempty" json:"aop"`
}

// AOPConfig configures the ahead-of-print lookups, tried in the order index,
// SSH, HTTP.
type AOPConfig struct {
	Index      string  `yaml:"index,omitempty" json:"index,omitempty"`
	SSHHost    string  `yaml:"ssh_host,omitempty" json:"ssh_host,omitempty"`
	SSHCommand string  `yaml:"ssh_command,omitempty" json:"ssh_command,omitempty"`
	URL        string  `yaml:"url,omitempty" json:"url,omitempty"`
	RateLimit  float64 `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
}

// DefaultSSHCommand prints the ahead-of-print index on the SSH host.
const DefaultSSHCommand = "cat aop_index.jsonl"

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DB:          filepath.Join(dataHome(), AppDir, DBFile),
		BusyTimeout: 5 * time.Second,
		AOP:         AOPConfig{SSHCommand: DefaultSSHCommand},
	}
}

// Path returns the config file location.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/pidm/config.yml.
func Path() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, AppDir, ConfigFile)
}

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// Load reads the config file at path over the defaults, then applies
// environment overrides. A missing file is not an error. An empty path means
// Path().
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.DB = ExpandPath(cfg.DB)
	cfg.LogDir = ExpandPath(cfg.LogDir)
	cfg.AOP.Index = ExpandPath(cfg.AOP.Index)
	if cfg.AOP.SSHCommand == "" {
		cfg.AOP.SSHCommand = DefaultSSHCommand
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDB); v != "" {
		c.DB = v
	}
	if v := os.Getenv(EnvAOPURL); v != "" {
		c.AOP.URL = v
	}
	if v := os.Getenv(EnvAOPIndex); v != "" {
		c.AOP.Index = v
	}
	if v := os.Getenv(EnvAOPSSHHost); v != "" {
		c.AOP.SSHHost = v
	}
	if v := os.Getenv(EnvAOPRate); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, EnvAOPRate, v)
		}
		c.AOP.RateLimit = rate
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.DB == "" {
		return fmt.Errorf("%w: db path is empty", ErrInvalid)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("%w: busy_timeout must not be negative", ErrInvalid)
	}
	if c.AOP.RateLimit < 0 {
		return fmt.Errorf("%w: aop.rate_limit must not be negative", ErrInvalid)
	}
	if c.AOP.URL != "" {
		u, err := url.Parse(c.AOP.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: aop.url %q is not an http(s) URL", ErrInvalid, c.AOP.URL)
		}
	}
	if c.AOP.Index != "" {
		info, err := os.Stat(c.AOP.Index)
		if err != nil {
			return fmt.Errorf("%w: aop.index %s does not exist", ErrInvalid, c.AOP.Index)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: aop.index %s is a directory", ErrInvalid, c.AOP.Index)
		}
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
