// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Runner names accepted in task_kinds.<kind>.runner.
const (
	RunnerBuiltin = "builtin"
	RunnerHTTP    = "http"
	RunnerShell   = "shell"
)

// Config holds all configuration for the service.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	ServiceName    string `mapstructure:"service_name" validate:"required"`
	HttpListenAddr string `mapstructure:"http_listen_addr" validate:"required"`
	GrpcListenAddr string `mapstructure:"grpc_listen_addr"`
	// RunnerListenAddr is where cmd/runner serves the remote runner contract.
	RunnerListenAddr string `mapstructure:"runner_listen_addr" validate:"required"`
	Timezone       string `mapstructure:"timezone" validate:"required,timezone"`
	// TraceOutput selects where finished spans are written.
	TraceOutput string `mapstructure:"trace_output" validate:"oneof=none stdout stderr"`

	// RunnerURL, when set, sends task kinds without an explicit entry to a
	// remote runner service instead of the built-in simulator.
	RunnerURL string `mapstructure:"runner_url" validate:"omitempty,url"`

	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Engine    EngineConfig    `mapstructure:"engine"`
	History   HistoryConfig   `mapstructure:"history"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`

	TaskKinds map[string]TaskKindConfig `mapstructure:"task_kinds" validate:"dive"`
}

type EvaluatorConfig struct {
	Tick          time.Duration `mapstructure:"tick" validate:"gt=0"`
	CalendarGrace time.Duration `mapstructure:"calendar_grace" validate:"gt=0"`
}

type EngineConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
	// MaxConcurrent caps running jobs. 0 leaves execution unbounded.
	MaxConcurrent int64 `mapstructure:"max_concurrent" validate:"gte=0"`
}

type HistoryConfig struct {
	Retention int `mapstructure:"retention" validate:"gt=0"`
}

type EtcdConfig struct {
	Endpoints []string      `mapstructure:"endpoints"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// TaskKindConfig binds a task kind to a runner.
type TaskKindConfig struct {
	Runner  string        `mapstructure:"runner" validate:"omitempty,oneof=builtin http shell"`
	URL     string        `mapstructure:"url" validate:"required_if=Runner http,omitempty,url"`
	Method  string        `mapstructure:"method" validate:"omitempty,oneof=GET POST PUT"`
	Command string        `mapstructure:"command" validate:"required_if=Runner shell"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Delay   time.Duration `mapstructure:"delay" validate:"gte=0"`
}

// PersistenceEnabled reports whether etcd endpoints are configured.
func (c *Config) PersistenceEnabled() bool { return len(c.Etcd.Endpoints) > 0 }

// Timeouts returns the per-task-kind run timeouts that are set.
func (c *Config) Timeouts() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.TaskKinds))
	for kind, tk := range c.TaskKinds {
		if tk.Timeout > 0 {
			out[kind] = tk.Timeout
		}
	}
	return out
}

// Location resolves Timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var validate = validator.New()

// Validate checks the decoded configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Loader reads configuration from a config file and the environment.
type Loader struct {
	v      *viper.Viper
	logger *slog.Logger
}

// NewLoader looks for config.yaml in the given directories, defaulting to
// ./configs and the working directory.
func NewLoader(logger *slog.Logger, paths ...string) *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./configs", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("CRON_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, logger: logger.With("component", "config")}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "cron-engine")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("grpc_listen_addr", ":50051")
	v.SetDefault("runner_listen_addr", ":9090")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("trace_output", "none")
	v.SetDefault("runner_url", "")
	v.SetDefault("evaluator.tick", "200ms")
	v.SetDefault("evaluator.calendar_grace", "1m")
	v.SetDefault("engine.default_timeout", "30s")
	v.SetDefault("engine.max_concurrent", 0)
	v.SetDefault("history.retention", 100)
	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.timeout", "5s")
}

// Load loads configuration from file and environment variables.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		l.logger.Info("no config file found, using defaults and environment")
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls onChange with the re-validated configuration every time the
// config file is written. Invalid edits are logged and ignored.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		l.logger.Info("config watch disabled: no config file in use")
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			l.logger.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}
		l.logger.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Load is a shortcut for NewLoader(logger).Load().
func Load(logger *slog.Logger) (*Config, error) {
	return NewLoader(logger).Load()
}
