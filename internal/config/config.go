package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loykin/mineguard/internal/logger"
	"github.com/loykin/mineguard/internal/schedule"
	"github.com/spf13/viper"
)

const (
	DefaultInstancesDir    = "instances"
	DefaultJava            = "java"
	DefaultSettleDelay     = time.Second
	DefaultChannelCapacity = 2048
	DefaultMetricsListen   = ":9464"
	DefaultSampleInterval  = 5 * time.Second
	DefaultAPIListen       = "127.0.0.1:8080"
	DefaultAPIBasePath     = "/api"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the daemon configuration read from TOML.
type Config struct {
	InstancesDir    string           `toml:"instances_dir" mapstructure:"instances_dir"`
	Java            string           `toml:"java" mapstructure:"java"`
	JVMArgs         []string         `toml:"jvm_args" mapstructure:"jvm_args"`
	SettleDelay     time.Duration    `toml:"settle_delay" mapstructure:"settle_delay"`
	ChannelCapacity int              `toml:"channel_capacity" mapstructure:"channel_capacity"`
	Env             []string         `toml:"env" mapstructure:"env"`
	EnvFiles        []string         `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv        bool             `toml:"use_os_env" mapstructure:"use_os_env"`
	Log             logger.Config    `toml:"log" mapstructure:"log"`
	API             APIConfig        `toml:"api" mapstructure:"api"`
	Metrics         MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	History         HistoryConfig    `toml:"history" mapstructure:"history"`
	Schedules       []ScheduleConfig `toml:"schedules" mapstructure:"schedules"`
}

// APIConfig controls the HTTP control API served by "mineguard serve".
type APIConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`

	// TLS switches the API listener to HTTPS when set and enabled.
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
	// TLSMinVersion and TLSMaxVersion accept "1.2" or "1.3"; default is 1.3 only.
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
}

// TLSConfig selects the API certificate. CertFile/KeyFile win over Dir;
// with AutoGenerate a self-signed pair is written into Dir when missing.
type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// MetricsConfig controls Prometheus export. An empty Listen mounts /metrics
// on the API listener instead.
type MetricsConfig struct {
	Enabled        bool          `toml:"enabled" mapstructure:"enabled"`
	Listen         string        `toml:"listen" mapstructure:"listen"`
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
	MaxHistory     int           `toml:"max_history" mapstructure:"max_history"`
}

// HistoryConfig selects the lifecycle history sink. An empty DSN disables it.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// ScheduleConfig sends Command to the named instance on each Cron tick.
type ScheduleConfig struct {
	Instance string `toml:"instance" mapstructure:"instance"`
	Cron     string `toml:"cron" mapstructure:"cron"`
	Command  string `toml:"command" mapstructure:"command"`
}

func (s ScheduleConfig) Entry() schedule.Entry {
	return schedule.Entry{Instance: s.Instance, Cron: s.Cron, Command: s.Command}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instances_dir", DefaultInstancesDir)
	v.SetDefault("java", DefaultJava)
	v.SetDefault("settle_delay", DefaultSettleDelay)
	v.SetDefault("channel_capacity", DefaultChannelCapacity)
	v.SetDefault("log.slog.level", string(logger.LevelInfo))
	v.SetDefault("log.slog.format", string(logger.FormatText))
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", DefaultAPIListen)
	v.SetDefault("api.base_path", DefaultAPIBasePath)
	v.SetDefault("metrics.listen", DefaultMetricsListen)
	v.SetDefault("metrics.sample_interval", DefaultSampleInterval)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	// defaults alone always decode
	_ = v.Unmarshal(&c)
	return &c
}

// Load parses a TOML config file. Keys may be overridden from the
// environment with the MINEGUARD_ prefix, e.g. MINEGUARD_JAVA.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("mineguard")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if !filepath.IsAbs(c.InstancesDir) {
		c.InstancesDir = filepath.Join(filepath.Dir(path), c.InstancesDir)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges and cron expressions.
func (c *Config) Validate() error {
	if c.ChannelCapacity <= 0 {
		return fmt.Errorf("%w: channel_capacity must be positive, got %d", ErrInvalidConfig, c.ChannelCapacity)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("%w: settle_delay must not be negative", ErrInvalidConfig)
	}
	if c.Java == "" {
		return fmt.Errorf("%w: java must not be empty", ErrInvalidConfig)
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("%w: api.listen must be set when the api is enabled", ErrInvalidConfig)
	}
	if t := c.API.TLS; t != nil && t.Enabled && (t.CertFile == "") != (t.KeyFile == "") {
		return fmt.Errorf("%w: api.tls needs both cert_file and key_file", ErrInvalidConfig)
	}
	for i, s := range c.Schedules {
		if s.Instance == "" || s.Command == "" {
			return fmt.Errorf("%w: schedules[%d] requires instance and command", ErrInvalidConfig, i)
		}
		if err := schedule.Validate(s.Cron); err != nil {
			return fmt.Errorf("%w: schedules[%d]: %v", ErrInvalidConfig, i, err)
		}
	}
	return nil
}

// ChildEnv merges the environment handed to server children.
// Precedence: OS env (when enabled) provides base; then env_files in order;
// then the top-level env list overrides last. A nil result means inherit.
func (c *Config) ChildEnv() ([]string, error) {
	if !c.UseOSEnv && len(c.EnvFiles) == 0 && len(c.Env) == 0 {
		return nil, nil
	}
	m := make(map[string]string)
	if c.UseOSEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				m[k] = v
			}
		}
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return m, nil
}
