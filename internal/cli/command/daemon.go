package command

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/keepstore/internal/app"
	"github.com/yndnr/keepstore/internal/infra/buildinfo"
	"github.com/yndnr/keepstore/internal/infra/confloader"
	"github.com/yndnr/keepstore/internal/infra/shutdown"
	"github.com/yndnr/keepstore/internal/server/httpserver"
	"github.com/yndnr/keepstore/internal/telemetry/logger"
)

// DaemonCommand runs the scheduler and the local HTTP endpoints until a
// signal arrives.
func DaemonCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Run scheduled jobs and serve /metrics until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: `Listen address for /health, /ready, /metrics and /v1/status ("off" disables)`,
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Value: shutdown.DefaultTimeout,
				Usage: "Time allowed for a graceful shutdown",
			},
		},
		Action: runDaemon,
	}
}

func runDaemon(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		h := shutdown.NewHandler(c.Duration("shutdown-timeout"), a.Logger)

		// 1. Scheduler
		a.Scheduler.Start()
		h.OnShutdown("scheduler", a.Scheduler.Stop)
		for _, j := range a.Scheduler.Jobs() {
			a.Logger.Info("job scheduled", "job", j.Name, "spec", j.Spec, "next", j.Next)
		}

		// 2. HTTP endpoints
		addr := a.Config.Metrics.Addr
		if c.IsSet("metrics-addr") {
			addr = c.String("metrics-addr")
		}
		if addr != "" && addr != "off" {
			srv := httpserver.New(addr, httpserver.NewRouter(httpserver.RouterConfig{
				Metrics:     a.Metrics.Handler(),
				MetricsPath: a.Config.Metrics.Path,
				Status:      daemonStatus(a),
				Ready: func(context.Context) error {
					if a.Engine.Degraded() {
						return fmt.Errorf("storage running on fallback tier %s", a.Engine.Active().Name())
					}
					return nil
				},
				Logger: a.Logger.With("component", "http"),
			}))
			if err := srv.Listen(); err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			go func() {
				if err := srv.Serve(); err != nil {
					a.Logger.Error("http server stopped", "error", err)
					h.Trigger()
				}
			}()
			h.OnShutdown("http", srv.Shutdown)
			a.Logger.Info("http endpoints listening", "addr", srv.Addr())
		}

		// 3. Config reload
		if path := c.String("config"); path != "" {
			w, err := confloader.NewWatcher(path, confloader.WithWatcherLogger(a.Logger))
			if err != nil {
				return err
			}
			w.OnChange(func(string) { reloadLogLevel(c, a) })
			w.Start()
			h.OnShutdown("config-watcher", func(context.Context) error { return w.Stop() })
		}

		a.Logger.Info("daemon started", "version", buildinfo.Get().Version)
		return h.Wait(ctx)
	})
}

// reloadLogLevel applies the log level of a changed config file. Other
// settings need a restart.
func reloadLogLevel(c *cli.Context, a *app.App) {
	cfg, err := loadConfig(c)
	if err != nil {
		a.Logger.Warn("config reload rejected", "error", err)
		return
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		a.Logger.Warn("config reload rejected", "error", err)
		return
	}
	a.Logger.Info("log level reloaded", "level", cfg.Log.Level)
}

type statusReport struct {
	Build     buildinfo.Info `json:"build"`
	Storage   any            `json:"storage"`
	Jobs      any            `json:"jobs"`
	Records   int            `json:"records"`
	CheckedAt time.Time      `json:"checkedAt"`
}

func daemonStatus(a *app.App) httpserver.StatusFunc {
	return func(ctx context.Context) (any, error) {
		info, err := a.Engine.Info(ctx)
		if err != nil {
			return nil, err
		}
		st, err := a.Records.GetStats(ctx)
		if err != nil {
			return nil, err
		}
		return statusReport{
			Build:     buildinfo.Get(),
			Storage:   info,
			Jobs:      a.Scheduler.Jobs(),
			Records:   st.Total,
			CheckedAt: time.Now().UTC(),
		}, nil
	}
}
