// Package config loads pmgr settings from defaults, an optional config file,
// PMGR_* environment variables and explicit overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/loykin/pmgr/internal/logger"
	"github.com/loykin/pmgr/internal/registry"
)

// EnvPrefix prefixes environment overrides: PMGR_HOME, PMGR_STORE_TYPE, ...
const EnvPrefix = "PMGR"

// DefaultHome is the state directory used when nothing else is configured.
const DefaultHome = "~/.pm-manager"

type StopConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
	KillWait    time.Duration `mapstructure:"kill_wait"`
}

type RestartConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

type LogsConfig struct {
	Dir            string `mapstructure:"dir"`
	DefaultLines   int    `mapstructure:"default_lines"`
	RemoveOnDelete bool   `mapstructure:"remove_on_delete"`
}

// HistoryConfig enables lifecycle event export. DSN selects the sink by
// scheme; a bare path is a sqlite database.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Config is the resolved configuration of one pmgr invocation.
type Config struct {
	Home     string          `mapstructure:"home"`
	Store    registry.Config `mapstructure:"store"`
	Stop     StopConfig      `mapstructure:"stop"`
	Restart  RestartConfig   `mapstructure:"restart"`
	Logs     LogsConfig      `mapstructure:"logs"`
	Log      logger.Config   `mapstructure:"log"`
	History  HistoryConfig   `mapstructure:"history"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Env      []string        `mapstructure:"env"`       // KEY=VALUE for every child
	EnvFiles []string        `mapstructure:"env_files"` // dotenv files, applied before Env
}

// Options are the explicit overrides a caller (the CLI) passes in. They win
// over every other source.
type Options struct {
	ConfigFile string
	Home       string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", DefaultHome)
	v.SetDefault("store.type", "file")
	v.SetDefault("store.path", "")
	v.SetDefault("stop.grace_period", "5s")
	v.SetDefault("stop.kill_wait", "2s")
	v.SetDefault("restart.delay", "2s")
	v.SetDefault("logs.dir", "")
	v.SetDefault("logs.default_lines", 50)
	v.SetDefault("logs.remove_on_delete", false)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
}

// Default returns the configuration used when no file or variable is set.
func Default() (*Config, error) {
	return load(viper.New(), Options{})
}

// Load resolves the configuration. Without an explicit ConfigFile,
// <home>/config.toml is read when it exists.
func Load(opts Options) (*Config, error) {
	return load(viper.New(), opts)
}

func load(v *viper.Viper, opts Options) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if opts.Home != "" {
		v.Set("home", opts.Home)
	}

	file := opts.ConfigFile
	if file == "" {
		home, err := homedir.Expand(v.GetString("home"))
		if err != nil {
			return nil, fmt.Errorf("expand home: %w", err)
		}
		candidate := filepath.Join(home, "config.toml")
		if _, err := os.Stat(candidate); err == nil {
			file = candidate
		}
	}
	if file != "" {
		path, err := homedir.Expand(file)
		if err != nil {
			return nil, fmt.Errorf("expand config path: %w", err)
		}
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.resolvePaths(); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolvePaths expands ~ and derives unset paths from Home.
func (c *Config) resolvePaths() error {
	var err error
	if c.Home, err = homedir.Expand(c.Home); err != nil {
		return fmt.Errorf("expand home: %w", err)
	}
	if c.Home, err = filepath.Abs(c.Home); err != nil {
		return fmt.Errorf("resolve home: %w", err)
	}
	if c.Store.Path == "" {
		name := "processes.json"
		if c.Store.Type == "sqlite" {
			name = "processes.db"
		}
		c.Store.Path = filepath.Join(c.Home, name)
	}
	if c.Logs.Dir == "" {
		c.Logs.Dir = filepath.Join(c.Home, "logs")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(c.Home, "pmgr.log")
	}
	if c.History.DSN == "" {
		c.History.DSN = filepath.Join(c.Home, "history.db")
	}
	for _, p := range []*string{&c.Store.Path, &c.Logs.Dir, &c.Log.File, &c.Metrics.Textfile} {
		if *p == "" {
			continue
		}
		if *p, err = homedir.Expand(*p); err != nil {
			return fmt.Errorf("expand %s: %w", *p, err)
		}
	}
	for i, p := range c.EnvFiles {
		if c.EnvFiles[i], err = homedir.Expand(p); err != nil {
			return fmt.Errorf("expand %s: %w", p, err)
		}
	}
	return nil
}

// Validate reports settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Home) == "" {
		errs = append(errs, errors.New("home must not be empty"))
	}
	if !supportedStore(c.Store.Type) {
		errs = append(errs, fmt.Errorf("unsupported store type: %s (supported: %v)", c.Store.Type, registry.SupportedTypes()))
	}
	if c.Stop.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("stop.grace_period must be positive, got %s", c.Stop.GracePeriod))
	}
	if c.Stop.KillWait <= 0 {
		errs = append(errs, fmt.Errorf("stop.kill_wait must be positive, got %s", c.Stop.KillWait))
	}
	if c.Restart.Delay < 0 {
		errs = append(errs, fmt.Errorf("restart.delay must not be negative, got %s", c.Restart.Delay))
	}
	if c.Logs.DefaultLines <= 0 {
		errs = append(errs, fmt.Errorf("logs.default_lines must be positive, got %d", c.Logs.DefaultLines))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i <= 0 {
			errs = append(errs, fmt.Errorf("env entry %q is not KEY=VALUE", kv))
		}
	}
	return errors.Join(errs...)
}

func supportedStore(t string) bool {
	for _, s := range registry.SupportedTypes() {
		if s == t {
			return true
		}
	}
	return false
}

// GlobalEnv returns the variables every child receives on top of the
// supervisor environment: env_files in order, then env entries.
func (c *Config) GlobalEnv() (map[string]string, error) {
	m := make(map[string]string)
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m, nil
}

// loadEnvFile reads KEY=VALUE lines; blank lines and # comments are skipped.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return parseEnvFile(string(b)), nil
}

func parseEnvFile(s string) map[string]string {
	m := make(map[string]string)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := strings.TrimSpace(line[i+1:])
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
			v = v[1 : len(v)-1]
		}
		if k != "" {
			m[k] = v
		}
	}
	return m
}
