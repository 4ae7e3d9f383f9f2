// Package app wires configuration, logging, storage, backends, the
// scheduler and the HTTP server into one process.
package app

import (
	"context"

	"relayd/internal/audit"
	"relayd/internal/config"
	"relayd/internal/dispatch"
	"relayd/internal/scheduler"
	"relayd/internal/server"
	"relayd/internal/storage"
	logx "relayd/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store storage.Store
	disp  *dispatch.Dispatcher
	sched *scheduler.Service
	srv   *server.Service

	discord *dispatch.DiscordBackend

	cancelWatch context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, log: log, logs: logSvc}

	// Storage (optional; without it scheduled jobs do not survive restarts).
	if cfg.Storage != nil {
		sc, err := mapStorageConfig(cfg.Storage)
		if err != nil {
			return nil, err
		}
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		if st != nil {
			log.Info("storage enabled", logx.String("driver", sc.Driver))
		}
	}
	if a.store == nil {
		log.Warn("storage disabled, scheduled jobs will not survive restarts")
	}

	auditLog := audit.New(a.store, log.With(logx.String("comp", "audit")))

	backends, err := a.buildBackends(cfg, log)
	if err != nil {
		return nil, err
	}
	a.disp = dispatch.NewDispatcher(auditLog, log.With(logx.String("comp", "dispatch")), backends...)

	schedCfg, err := mapSchedulerConfig(&cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, a.disp, a.store, log.With(logx.String("comp", "scheduler")))

	srvCfg, err := mapServerConfig(&cfg.Server)
	if err != nil {
		return nil, err
	}
	a.srv = server.New(srvCfg, a.disp, a.sched, log.With(logx.String("comp", "http")))

	return a, nil
}

func (a *App) buildBackends(cfg *config.Config, log logx.Logger) ([]dispatch.Backend, error) {
	var backends []dispatch.Backend
	if cfg.Mail.Enabled {
		backends = append(backends, dispatch.NewMail(dispatch.MailConfig{
			Host:       cfg.Mail.Host,
			Port:       cfg.Mail.Port,
			Username:   cfg.Mail.Username,
			Password:   cfg.Mail.Password,
			From:       cfg.Mail.From,
			RatePerSec: cfg.Mail.RatePerSec,
		}, log.With(logx.String("comp", "mail"))))
	}
	if cfg.Discord.Enabled {
		d, err := dispatch.NewDiscord(dispatch.DiscordConfig{
			Token:      cfg.Discord.Token,
			ChannelID:  cfg.Discord.ChannelID,
			RatePerSec: cfg.Discord.RatePerSec,
		}, log.With(logx.String("comp", "discord")))
		if err != nil {
			return nil, err
		}
		a.discord = d
		backends = append(backends, d)
	}
	if cfg.Slack.Enabled {
		backends = append(backends, dispatch.NewSlack(dispatch.SlackConfig{
			Token:             cfg.Slack.Token,
			ChannelID:         cfg.Slack.ChannelID,
			UseNativeSchedule: cfg.Slack.UseNativeSchedule,
			RatePerSec:        cfg.Slack.RatePerSec,
		}, log.With(logx.String("comp", "slack"))))
	}
	return backends, nil
}

// Start brings the process up: config watch, Discord session, job
// recovery, then the HTTP listener last so no request arrives before the
// scheduler is ready.
func (a *App) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(context.Background())
	a.cancelWatch = cancel
	go func() {
		if err := a.cfgm.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go a.followConfig(watchCtx)

	if a.discord != nil {
		if err := a.discord.Start(ctx); err != nil {
			return err
		}
	}
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	if err := a.srv.Start(ctx); err != nil {
		return err
	}
	a.log.Info("relay up")
	return nil
}

// followConfig applies the hot-reloadable subset of a committed config.
// Transports, storage and the listener require a restart.
func (a *App) followConfig(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("config reloaded", logx.String("log_level", cfg.Logging.Level))
		}
	}
}

// Stop shuts the process down in reverse order: listener first so no new
// work arrives, then the scheduler, background dispatches, transports and
// storage.
func (a *App) Stop(ctx context.Context) {
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	a.srv.Stop(ctx)
	a.sched.Stop(ctx)
	a.disp.Close()
	if a.discord != nil {
		if err := a.discord.Stop(); err != nil {
			a.log.Warn("discord session close", logx.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}
	_ = a.logs.Close()
}

func mapStorageConfig(sc *config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy}, nil
}

func mapSchedulerConfig(sc *config.SchedulerConfig) (scheduler.Config, error) {
	sweep, err := config.ParseDurationOrDefault("scheduler.sweep_every", sc.SweepEvery, config.DefaultSweepEvery)
	if err != nil {
		return scheduler.Config{}, err
	}
	retention, err := config.ParseDurationOrDefault("scheduler.retention", sc.Retention, config.DefaultRetention)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Timezone: sc.Timezone, SweepEvery: sweep, Retention: retention}, nil
}

func mapServerConfig(sc *config.ServerConfig) (server.Config, error) {
	read, err := config.ParseDurationOrDefault("server.read_timeout", sc.ReadTimeout, config.DefaultReadTimeout)
	if err != nil {
		return server.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", sc.WriteTimeout, config.DefaultWriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("server.idle_timeout", sc.IdleTimeout, config.DefaultIdleTimeout)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Addr:         sc.Addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		MaxUploadMB:  int64(sc.MaxUploadMB),
	}, nil
}
