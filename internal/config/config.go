package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/readmesync/internal/utils"
	"gopkg.in/yaml.v3"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".readmesync", "config.yaml")
	DefaultStateDir   = filepath.Join(home, ".readmesync")
	DefaultLogFile    = filepath.Join(DefaultStateDir, "logs", "readmesync.log")
)

const (
	DefaultAttribute    = "readme"
	DefaultPattern      = "*.txt"
	DefaultHTTPAddr     = "localhost:7939"
	DefaultWatchBackend = "fsnotify"
	DefaultRateLimit    = 10
	stateFileName       = "state.db"
)

var (
	ErrNoInstallRoot  = errors.New("install root is not set")
	ErrBadPattern     = errors.New("invalid file pattern")
	ErrBadRetryPolicy = errors.New("invalid retry policy")
	ErrBadBackend     = errors.New("unknown watch backend")
)

type Retry struct {
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Backoff      time.Duration `yaml:"backoff" mapstructure:"backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	WatchTimeout time.Duration `yaml:"watch_timeout" mapstructure:"watch_timeout"`
}

type HTTP struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Token     string `yaml:"token,omitempty" mapstructure:"token"`
	RateLimit int64  `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second, 0 = unlimited
}

type Log struct {
	File  string `yaml:"file" mapstructure:"file"`
	Level string `yaml:"level" mapstructure:"level"`
}

type Config struct {
	InstallRoot  string `yaml:"install_root" mapstructure:"install_root"`
	StateDir     string `yaml:"state_dir" mapstructure:"state_dir"`
	Attribute    string `yaml:"attribute" mapstructure:"attribute"`
	Pattern      string `yaml:"pattern" mapstructure:"pattern"`
	ScanExisting bool   `yaml:"scan_existing" mapstructure:"scan_existing"`
	WatchBackend string `yaml:"watch_backend" mapstructure:"watch_backend"`
	WatchRoot    bool   `yaml:"watch_root" mapstructure:"watch_root"`
	Retry        Retry  `yaml:"retry" mapstructure:"retry"`
	HTTP         HTTP   `yaml:"http" mapstructure:"http"`
	Log          Log    `yaml:"log" mapstructure:"log"`

	Path string `yaml:"-" mapstructure:"-"`
}

// Default retries without limit and without a watch timeout, backing off up to 30s between attempts.
func Default() *Config {
	return &Config{
		StateDir:     DefaultStateDir,
		Attribute:    DefaultAttribute,
		Pattern:      DefaultPattern,
		WatchBackend: DefaultWatchBackend,
		WatchRoot:    true,
		Retry:        Retry{Backoff: 250 * time.Millisecond, MaxBackoff: 30 * time.Second},
		HTTP:         HTTP{Addr: DefaultHTTPAddr, RateLimit: DefaultRateLimit},
		Log:          Log{File: DefaultLogFile, Level: "info"},
		Path:         DefaultConfigPath,
	}
}

// StatePath is the sqlite database holding the recorded attributes.
func (c *Config) StatePath() string {
	return filepath.Join(c.StateDir, stateFileName)
}

// Validate normalizes paths and fills empty fields with defaults.
func (c *Config) Validate() error {
	if c.InstallRoot == "" {
		return ErrNoInstallRoot
	}

	var err error
	if c.InstallRoot, err = utils.ResolvePath(c.InstallRoot); err != nil {
		return fmt.Errorf("install root: %w", err)
	}

	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.StateDir, err = utils.ResolvePath(c.StateDir); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	if c.Attribute = strings.TrimSpace(c.Attribute); c.Attribute == "" {
		c.Attribute = DefaultAttribute
	}

	if c.Pattern == "" {
		c.Pattern = DefaultPattern
	}
	if strings.ContainsAny(c.Pattern, `/\`) || !doublestar.ValidatePattern(c.Pattern) {
		return fmt.Errorf("%w: %q", ErrBadPattern, c.Pattern)
	}

	switch c.WatchBackend {
	case "":
		c.WatchBackend = DefaultWatchBackend
	case "fsnotify", "notify":
	default:
		return fmt.Errorf("%w: %q", ErrBadBackend, c.WatchBackend)
	}

	if c.Retry.MaxAttempts < 0 || c.Retry.Backoff < 0 || c.Retry.MaxBackoff < 0 || c.Retry.WatchTimeout < 0 {
		return fmt.Errorf("%w: negative values are not allowed", ErrBadRetryPolicy)
	}
	if c.Retry.MaxBackoff > 0 && c.Retry.MaxBackoff < c.Retry.Backoff {
		return fmt.Errorf("%w: max_backoff is smaller than backoff", ErrBadRetryPolicy)
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http rate_limit must not be negative")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return nil
}

// InstallRootFunc returns the install root for every new lifecycle. Unless
// pinned, it re-reads install_root from the config file so an edit applies to
// the next restart; an unreadable file falls back to the loaded value.
func (c *Config) InstallRootFunc(pinned bool) func() (string, error) {
	return func() (string, error) {
		root := c.InstallRoot
		if !pinned && c.Path != "" && utils.FileExists(c.Path) {
			if fresh, err := LoadFromFile(c.Path); err == nil {
				root = fresh.InstallRoot
			}
		}
		if strings.TrimSpace(root) == "" {
			return "", ErrNoInstallRoot
		}
		return root, nil
	}
}

func (c *Config) Save() error {
	if c.Path == "" {
		return errors.New("config path is not set")
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(c.Path, data, 0o600)
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}
