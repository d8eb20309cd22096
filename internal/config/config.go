package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cozy-creator/genjobs/internal/utils/pathutil"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "GENJOBS"

const (
	WorkerModeExec   = "exec"
	WorkerModeDaemon = "daemon"
)

const (
	DriverSQLite = "sqlite"
	DriverLibSQL = "libsql"
	DriverPG     = "pg"
)

type Config struct {
	Environment     string         `mapstructure:"environment"`
	Host            string         `mapstructure:"host"`
	Port            int            `mapstructure:"port"`
	PublicDir       string         `mapstructure:"public_dir"`
	CORSOrigins     []string       `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration  `mapstructure:"shutdown_timeout"`
	Worker          WorkerConfig   `mapstructure:"worker"`
	Registry        RegistryConfig `mapstructure:"registry"`
	DB              DBConfig       `mapstructure:"db"`
	Events          EventsConfig   `mapstructure:"events"`
	Pulsar          *PulsarConfig  `mapstructure:"pulsar"`
}

type WorkerConfig struct {
	Mode            string        `mapstructure:"mode"`
	Interpreter     string        `mapstructure:"interpreter"`
	Script          string        `mapstructure:"script"`
	Env             []string      `mapstructure:"env"`
	QuickTimeout    time.Duration `mapstructure:"quick_timeout"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`
	DaemonAddress   string        `mapstructure:"daemon_address"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout"`
}

type RegistryConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	Retention      time.Duration `mapstructure:"retention"`
	SweepSchedule  string        `mapstructure:"sweep_schedule"`
	WorkerFallback bool          `mapstructure:"worker_fallback"`
}

// DBConfig configures the optional generation history. An empty driver
// disables it.
type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Debug  bool   `mapstructure:"debug"`
}

type EventsConfig struct {
	TopicPrefix string `mapstructure:"topic_prefix"`
	Buffer      int    `mapstructure:"buffer"`
}

type PulsarConfig struct {
	URL               string        `mapstructure:"url"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

// SetDefaults registers every key, which also lets AutomaticEnv resolve
// nested keys during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 8881)
	v.SetDefault("public_dir", "")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("shutdown_timeout", 3*time.Second)

	v.SetDefault("worker.mode", WorkerModeExec)
	v.SetDefault("worker.interpreter", "python3")
	v.SetDefault("worker.script", "src/python/src/playai/cli.py")
	v.SetDefault("worker.env", []string{})
	v.SetDefault("worker.quick_timeout", 30*time.Second)
	v.SetDefault("worker.generate_timeout", 30*time.Minute)
	v.SetDefault("worker.daemon_address", "")
	v.SetDefault("worker.startup_timeout", 30*time.Second)

	v.SetDefault("registry.max_concurrent", 4)
	v.SetDefault("registry.retention", time.Hour)
	v.SetDefault("registry.sweep_schedule", "@every 1m")
	v.SetDefault("registry.worker_fallback", false)

	v.SetDefault("db.driver", "")
	v.SetDefault("db.dsn", "file:genjobs.db?cache=shared")
	v.SetDefault("db.debug", false)

	v.SetDefault("events.topic_prefix", "genjobs-events")
	v.SetDefault("events.buffer", 64)

	v.SetDefault("pulsar.url", "")
	v.SetDefault("pulsar.operation_timeout", 30*time.Second)
	v.SetDefault("pulsar.connection_timeout", 5*time.Second)
}

// ConfigureEnv maps GENJOBS_WORKER_MODE style variables onto nested keys.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(
		`-`, `_`,
		`.`, `_`,
	))
	v.AutomaticEnv()
}

// LoadEnvAndConfigFiles loads the files named by the env_file and
// config_file keys. Missing files are only an error when they were named
// explicitly.
func LoadEnvAndConfigFiles(v *viper.Viper) error {
	if envFile := v.GetString("env_file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	if configFile := v.GetString("config_file"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config: %w", err)
		}
		return nil
	}

	v.SetConfigType("yaml")
	v.SetConfigName("genjobs")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config: %w", err)
		}
	}

	return nil
}

func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	for _, path := range []*string{&cfg.Worker.Script, &cfg.PublicDir} {
		expanded, err := pathutil.ExpandPath(*path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand %q: %w", *path, err)
		}
		*path = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Worker.Mode {
	case WorkerModeExec, WorkerModeDaemon:
	default:
		return fmt.Errorf("invalid worker mode: %q", c.Worker.Mode)
	}

	if c.Worker.Script == "" && c.Worker.DaemonAddress == "" {
		return errors.New("worker script is not set")
	}

	switch c.DB.Driver {
	case "", DriverSQLite, DriverLibSQL, DriverPG:
	default:
		return fmt.Errorf("invalid database driver: %s", c.DB.Driver)
	}

	if c.Registry.MaxConcurrent <= 0 {
		return fmt.Errorf("registry.max_concurrent must be positive, got %d", c.Registry.MaxConcurrent)
	}

	return nil
}

// HistoryEnabled reports whether generations are recorded in a database.
func (c *Config) HistoryEnabled() bool {
	return c.DB.Driver != ""
}
