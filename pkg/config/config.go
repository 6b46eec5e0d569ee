// Package config loads logpulse settings from defaults, an optional config
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/predatorx7/logpulse/pkg/auth"
	"github.com/predatorx7/logpulse/pkg/source"
	"github.com/predatorx7/logpulse/pkg/tail"
)

// EnvPrefix namespaces environment overrides, e.g. LOGPULSE_TAIL_POLL_INTERVAL.
const EnvPrefix = "LOGPULSE"

type Config struct {
	Server  ServerConfig      `mapstructure:"server"`
	BaseDir string            `mapstructure:"base_dir"`
	Tail    TailConfig        `mapstructure:"tail"`
	Log     LogConfig         `mapstructure:"log"`
	Auth    AuthConfig        `mapstructure:"auth"`
	Sources map[string]string `mapstructure:"-"`
	Groups  []source.Group    `mapstructure:"-"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TailConfig struct {
	// BacklogLines of 0 disables the initial window.
	BacklogLines int           `mapstructure:"backlog_lines"`
	BlockSize    int           `mapstructure:"block_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Notify       bool          `mapstructure:"notify"`
	Suffix       string        `mapstructure:"suffix"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

type AuthConfig struct {
	Mode   string `mapstructure:"mode"`
	Secret string `mapstructure:"secret"`
}

var defaultSources = map[string]string{
	"frontend": "/home/dev/logs/frontend",
	"backend":  "/home/dev/logs/backend",
	"admin":    "/home/dev/logs/admin",
	"nginx":    "/home/dev/logs/nginx",
	"pm2":      "/home/dev/.pm2/logs",
}

// legacyEnv maps keys to the unprefixed variable names older deployments set.
var legacyEnv = map[string]string{
	"server.port":      "PORT",
	"base_dir":         "BASE_DIR",
	"auth.secret":      "AUTH_SECRET",
	"sources.frontend": "FRONTEND",
	"sources.backend":  "BACKEND",
	"sources.admin":    "ADMIN",
	"sources.nginx":    "NGINX",
	"sources.pm2":      "PM2",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("base_dir", "")

	for tag, root := range defaultSources {
		v.SetDefault("sources."+tag, root)
	}
	v.SetDefault("groups", []map[string]any{
		{"name": "Applications", "sources": []string{"frontend", "backend", "admin"}},
		{"name": "System", "sources": []string{"nginx", "pm2"}},
	})

	v.SetDefault("tail.backlog_lines", tail.DefaultBacklogLines)
	v.SetDefault("tail.block_size", tail.DefaultBlockSize)
	v.SetDefault("tail.poll_interval", tail.DefaultPollInterval)
	v.SetDefault("tail.notify", true)
	v.SetDefault("tail.suffix", ".log")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "logs/app.log")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 0)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.console", true)

	v.SetDefault("auth.mode", string(auth.ModeNone))
	v.SetDefault("auth.secret", "")
}

// LoadDotEnv loads variables from path into the process environment without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration. file may be empty.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Tags come from the sources map; each root is read through its own key
	// so environment overrides apply.
	cfg.Sources = make(map[string]string)
	for tag := range v.GetStringMap("sources") {
		root := v.GetString("sources." + tag)
		if cfg.BaseDir != "" {
			root = filepath.Join(cfg.BaseDir, root)
		}
		cfg.Sources[tag] = root
	}

	if err := v.UnmarshalKey("groups", &cfg.Groups); err != nil {
		return nil, fmt.Errorf("unable to decode groups: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values Load cannot coerce.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if len(c.Sources) == 0 {
		return errors.New("no log sources configured")
	}
	for tag, root := range c.Sources {
		if root == "" {
			return fmt.Errorf("sources.%s has an empty path", tag)
		}
	}
	for _, g := range c.Groups {
		if g.Name == "" {
			return errors.New("group with empty name")
		}
		for _, tag := range g.Sources {
			if _, ok := c.Sources[tag]; !ok {
				return fmt.Errorf("group %q references unknown source %q", g.Name, tag)
			}
		}
	}
	if c.Tail.BacklogLines < 0 {
		return fmt.Errorf("tail.backlog_lines must not be negative")
	}
	if c.Tail.BlockSize <= 0 {
		return fmt.Errorf("tail.block_size must be positive")
	}
	if c.Tail.PollInterval <= 0 {
		return fmt.Errorf("tail.poll_interval must be positive")
	}
	if !strings.HasPrefix(c.Tail.Suffix, ".") {
		return fmt.Errorf("tail.suffix must start with a dot, got %q", c.Tail.Suffix)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	mode, err := auth.ParseMode(c.Auth.Mode)
	if err != nil {
		return fmt.Errorf("auth.mode: %w", err)
	}
	if mode == auth.ModeAPIKey && c.Auth.Secret == "" {
		return errors.New("auth.mode apikey requires auth.secret (AUTH_SECRET)")
	}
	return nil
}

// Tags returns the configured source tags in sorted order.
func (c *Config) Tags() []string {
	tags := make([]string, 0, len(c.Sources))
	for tag := range c.Sources {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// TailOptions converts the tail section for the tail package.
func (c *Config) TailOptions(log zerolog.Logger) tail.Options {
	lines := c.Tail.BacklogLines
	if lines == 0 {
		lines = -1
	}
	return tail.Options{
		BacklogLines: lines,
		BlockSize:    c.Tail.BlockSize,
		PollInterval: c.Tail.PollInterval,
		Logger:       log,
	}
}
