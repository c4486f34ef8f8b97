// pkg/config/config.go
//
// Viper-backed configuration for fuzzfleet. Values come from (highest first)
// flags, FUZZFLEET_* environment variables, a .env file, the config file and
// the defaults below.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "FUZZFLEET"

// Launch guard modes.
const (
	GuardNone  = "none"
	GuardRedis = "redis"
)

type Config struct {
	SharedRoot   string             `mapstructure:"shared_root" validate:"omitempty,startswith=/"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Builds       BuildsConfig       `mapstructure:"builds"`
	SSH          SSHConfig          `mapstructure:"ssh"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Reconcile    ReconcileConfig    `mapstructure:"reconcile"`
	Log          LogConfig          `mapstructure:"log"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

type BuildsConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

type SSHConfig struct {
	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" validate:"gt=0"`
	KnownHosts     string        `mapstructure:"known_hosts"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures" validate:"min=1"`
	OpenTimeout time.Duration `mapstructure:"open_timeout" validate:"gt=0"`
}

type OrchestratorConfig struct {
	ParallelLaunch bool   `mapstructure:"parallel_launch"`
	LaunchGuard    string `mapstructure:"launch_guard" validate:"oneof=none redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr" validate:"required_if=Guard redis"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"min=0"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
	Guard    string        `mapstructure:"-"`
}

type ReconcileConfig struct {
	Interval        time.Duration `mapstructure:"interval" validate:"min=0"`
	ProbesPerSecond float64       `mapstructure:"probes_per_second" validate:"gt=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

// SetDefaults registers every known key so that environment overrides are
// visible to Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("shared_root", "")
	v.SetDefault("database.dsn", "host=localhost user=fuzzfleet password=fuzzfleet dbname=fuzzfleet port=5432 sslmode=disable")
	v.SetDefault("builds.dir", defaultBuildsDir())
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.connect_timeout", 10*time.Second)
	v.SetDefault("ssh.command_timeout", 2*time.Minute)
	v.SetDefault("ssh.known_hosts", "")
	v.SetDefault("ssh.breaker.enabled", false)
	v.SetDefault("ssh.breaker.max_failures", 3)
	v.SetDefault("ssh.breaker.open_timeout", 30*time.Second)
	v.SetDefault("orchestrator.parallel_launch", false)
	v.SetDefault("orchestrator.launch_guard", GuardNone)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("reconcile.interval", time.Duration(0))
	v.SetDefault("reconcile.probes_per_second", 5.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
}

// SetViperEnvPrefix lets Viper read FUZZFLEET_* variables.
func SetViperEnvPrefix(v *viper.Viper, prefix string) {
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
}

// FlagKeys maps persistent flag names to the config keys they override.
var FlagKeys = map[string]string{
	"shared-root":     "shared_root",
	"dsn":             "database.dsn",
	"builds-dir":      "builds.dir",
	"log-level":       "log.level",
	"parallel-launch": "orchestrator.parallel_launch",
	"launch-guard":    "orchestrator.launch_guard",
}

// BindFlagsToViper binds the command's flags to Viper. Flags listed in keys
// bind to the mapped config key, the rest are ignored.
func BindFlagsToViper(cmd *cobra.Command, v *viper.Viper, keys map[string]string) error {
	var result error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := keys[f.Name]
		if !ok {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			result = multierror.Append(result, err)
		}
	})
	return result
}

// Load reads the optional config file and .env, then unmarshals and
// validates the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fleet_err.NewFilesystemError("failed to read .env", err)
	}

	SetDefaults(v)
	SetViperEnvPrefix(v, EnvPrefix)
	if err := v.BindEnv("shared_root", EnvPrefix+"_SHARED_ROOT", "NFSROOT"); err != nil {
		return nil, fleet_err.NewInternalError("bind shared_root env", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fleet_err.NewFilesystemError(fmt.Sprintf("failed to read config file %s", configFile), err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.fuzzfleet")
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fleet_err.NewFilesystemError("failed to read config file", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fleet_err.NewValidationError(fmt.Sprintf("invalid configuration: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	c.Redis.Guard = c.Orchestrator.LaunchGuard
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fleet_err.NewValidationError(
				"invalid configuration: "+strings.Join(fields, ", "),
				"Check ~/.fuzzfleet/config.yaml and FUZZFLEET_* environment variables",
			)
		}
		return fleet_err.NewValidationError(fmt.Sprintf("invalid configuration: %v", err))
	}
	return nil
}

// RequireSharedRoot fails when no shared storage root has been configured.
func (c *Config) RequireSharedRoot() error {
	if c.SharedRoot == "" {
		return fleet_err.NewValidationError(
			"shared storage root is not configured",
			"Set shared_root in the config file, or export FUZZFLEET_SHARED_ROOT (or NFSROOT)",
		)
	}
	return nil
}

func defaultBuildsDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.fuzzfleet/builds"
	}
	return "./builds"
}

// Watch reloads the config file whenever it changes and hands the validated
// result to onChange. It reports false when no config file is in use.
func Watch(v *viper.Viper, onChange func(e fsnotify.Event, cfg *Config, err error)) bool {
	if v.ConfigFileUsed() == "" {
		return false
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			onChange(e, nil, fleet_err.NewValidationError(fmt.Sprintf("invalid configuration: %v", err)))
			return
		}
		if err := cfg.Validate(); err != nil {
			onChange(e, nil, err)
			return
		}
		onChange(e, cfg, nil)
	})
	v.WatchConfig()
	return true
}
