// pkg/fleet_cli/app.go

package fleet_cli

import (
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/builds"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/config"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/lock"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/orchestrator"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/remote"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/store"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	// Viper holds flag bindings made by the root command.
	Viper = viper.New()
	// ConfigFile is the --config flag value.
	ConfigFile string
	// Records overrides the database backend when set. Tests use it to
	// inject an in-memory store.
	Records *store.Records
	// Dialer overrides the SSH dialer when set.
	Dialer remote.Dialer
)

// App bundles everything a command needs.
type App struct {
	Config       *config.Config
	Records      *store.Records
	Orchestrator *orchestrator.Orchestrator
	Builds       *builds.Registry

	closers []func() error
}

// Open loads configuration and connects the record store, the SSH dialer
// and the launch guard.
func Open(rc *fleet_io.RuntimeContext) (*App, error) {
	cfg, err := config.Load(Viper, ConfigFile)
	if err != nil {
		return nil, err
	}
	if cfg.Log.Level != "" || cfg.Log.Path != "" {
		rc.Log = logger.Initialize(logger.Options{Level: cfg.Log.Level, Path: cfg.Log.Path}).
			With(zap.String("command", rc.Command))
	}
	log := rc.Logger()

	app := &App{Config: cfg}

	app.Records = Records
	if app.Records == nil {
		db, err := store.Open(rc.Ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, sqlDB.Close)
		app.Records = store.NewPostgresRecords(db)
	}

	dialer := Dialer
	if dialer == nil {
		sshDialer, err := remote.NewSSHDialer(log, remote.Options{
			Port:           cfg.SSH.Port,
			ConnectTimeout: cfg.SSH.ConnectTimeout,
			CommandTimeout: cfg.SSH.CommandTimeout,
			KnownHostsPath: cfg.SSH.KnownHosts,
		})
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		dialer = sshDialer
	}
	if cfg.SSH.Breaker.Enabled {
		dialer = remote.NewBreakerDialer(log, dialer, cfg.SSH.Breaker.MaxFailures, cfg.SSH.Breaker.OpenTimeout)
	}

	var locker lock.Locker = lock.None{}
	if cfg.Orchestrator.LaunchGuard == config.GuardRedis {
		r, err := lock.NewRedis(rc.Ctx, log, &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.LockTTL)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.closers = append(app.closers, r.Close)
		locker = r
	}

	app.Orchestrator = orchestrator.New(log, dialer, app.Records, locker, orchestrator.Options{
		SharedRoot:      cfg.SharedRoot,
		ParallelLaunch:  cfg.Orchestrator.ParallelLaunch,
		ProbesPerSecond: cfg.Reconcile.ProbesPerSecond,
	})
	app.Builds = builds.NewRegistry(log, cfg.Builds.Dir, app.Records.Builds)
	return app, nil
}

// Close releases backend connections.
func (a *App) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}
