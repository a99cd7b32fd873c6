package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "PLATFORM"
	configName     = "platform"
	defaultLogName = "info"
)

// Config holds application configuration.
type Config struct {
	ListenAddr   string     `mapstructure:"listen_addr"`
	DBPath       string     `mapstructure:"db_path"`
	LogLevelName string     `mapstructure:"log_level"`
	LogLevel     slog.Level `mapstructure:"-"`
	PlatformID   string     `mapstructure:"platform_id"`

	Docker   DockerConfig   `mapstructure:"docker"`
	K6       K6Config       `mapstructure:"k6"`
	Pumba    PumbaConfig    `mapstructure:"pumba"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
}

// DockerConfig locates the container engine.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	SocketPath string `mapstructure:"socket_path"`
	Network    string `mapstructure:"network"`
}

// K6Config configures traffic jobs.
type K6Config struct {
	Image           string `mapstructure:"image"`
	ScriptsPath     string `mapstructure:"scripts_path"`
	PrometheusRWURL string `mapstructure:"prometheus_rw_url"`
	DefaultMaxVUs   int    `mapstructure:"default_max_vus"`
}

// PumbaConfig configures network-delay injections.
type PumbaConfig struct {
	Image   string `mapstructure:"image"`
	TCImage string `mapstructure:"tc_image"`
}

// NATSConfig configures lifecycle event publication. An empty URL disables it.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// New returns a viper instance with defaults and environment bindings
// installed. Keys map to PLATFORM_<KEY> with dots replaced by underscores,
// e.g. PLATFORM_DOCKER_NETWORK.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("db_path", ":memory:")
	v.SetDefault("log_level", defaultLogName)
	v.SetDefault("platform_id", "distributed-system-platform")

	v.SetDefault("docker.host", "unix:///var/run/docker.sock")
	v.SetDefault("docker.socket_path", "/var/run/docker.sock")
	v.SetDefault("docker.network", "distributed-system-platform_default")

	v.SetDefault("k6.image", "grafana/k6:0.54.0")
	v.SetDefault("k6.scripts_path", "/app/k6/scripts")
	v.SetDefault("k6.prometheus_rw_url", "http://prometheus:9090/api/v1/write")
	v.SetDefault("k6.default_max_vus", 100)

	v.SetDefault("pumba.image", "gaiaadm/pumba:0.10.0")
	v.SetDefault("pumba.tc_image", "gaiadocker/iproute2")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "platform.experiments")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")

	v.SetDefault("shutdown.drain_timeout", "10s")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The k6 scripts mount has always honored its own variable as well.
	_ = v.BindEnv("k6.scripts_path", envPrefix+"_K6_SCRIPTS_PATH", "K6_SCRIPTS_PATH")

	return v
}

// Load reads configuration from the environment and an optional
// platform.yaml in the working directory.
func Load() (Config, error) {
	return LoadFrom(New(), "")
}

// LoadFrom reads configuration through v. If configFile is empty,
// platform.yaml is looked up in the working directory and /etc/platformd and
// skipped when absent; an explicit configFile must exist.
func LoadFrom(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/platformd")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)

	if cfg.Shutdown.DrainTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown.drain_timeout must be positive, got %s", cfg.Shutdown.DrainTimeout)
	}
	if cfg.PlatformID == "" {
		return Config{}, errors.New("platform_id must not be empty")
	}

	return cfg, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
