package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/keepstore/internal/app"
	"github.com/yndnr/keepstore/internal/cli/output"
	"github.com/yndnr/keepstore/internal/config"
	"github.com/yndnr/keepstore/internal/infra/buildinfo"
	"github.com/yndnr/keepstore/internal/infra/confloader"
	"github.com/yndnr/keepstore/internal/telemetry/logger"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 "keepstore-cli",
		Usage:                "Manage a local employee record store",
		Version:              buildinfo.Get().String(),
		Flags:                globalFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			RecordCommand(),
			BackupCommand(),
			DataCommand(),
			IntegrityCommand(),
			AuditCommand(),
			MaintenanceCommand(),
			StorageCommand(),
			SchemaCommand(),
			ConfigCommand(),
			DaemonCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			EnvVars: []string{"KEEPSTORE_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "Directory of the durable tier",
		},
		&cli.BoolFlag{
			Name:  "memory",
			Usage: "Keep data in memory only (no durable or session tier)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format: json, text",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show more columns in table output",
		},
	}
}

// loadConfig merges defaults, the config file, the environment and the
// global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	overrides := map[string]any{}
	if c.IsSet("data-dir") {
		overrides["storage.data_dir"] = c.String("data-dir")
	}
	if c.Bool("memory") {
		overrides["storage.durable.enabled"] = false
		overrides["storage.session.enabled"] = false
	}
	if c.IsSet("log-level") {
		overrides["log.level"] = c.String("log-level")
	}
	if c.IsSet("log-format") {
		overrides["log.format"] = c.String("log-format")
	}

	cfg := config.Default()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(c.String("config")),
		confloader.WithOverrides(overrides),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(c *cli.Context, cfg *config.Config) (*slog.Logger, io.Closer, error) {
	return logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Output:     c.App.ErrWriter,
	})
}

// withApp opens the store, runs fn and closes the store.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error, opts ...app.Option) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, closer, err := newLogger(c, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.Open(ctx, cfg, log, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close(context.WithoutCancel(ctx)))
	}()
	return fn(ctx, a)
}

// render writes data in the format selected by --output.
func render(c *cli.Context, data any) error {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return err
	}
	return output.NewFormatter(format, c.Bool("wide")).Format(c.App.Writer, data)
}

// tableOutput reports whether results are rendered as a table.
func tableOutput(c *cli.Context) bool {
	f, err := output.ParseFormat(c.String("output"))
	return err == nil && f == output.FormatTable
}

// PrintError writes an error line to w.
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
}
