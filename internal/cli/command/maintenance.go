package command

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/keepstore/internal/app"
	"github.com/yndnr/keepstore/internal/cli/output"
	"github.com/yndnr/keepstore/internal/storage/maintenance"
)

// MaintenanceCommand returns the maintenance subcommand group.
func MaintenanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "maintenance",
		Usage: "Run and inspect the storage optimizer",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run every pending phase, resuming an interrupted run",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "progress", Usage: "Show progress on stderr"},
				},
				Action: maintenanceRun,
			},
			{
				Name:  "analyze",
				Usage: "Classify entries without changing anything",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						an, err := a.Optimizer.Analyze(ctx)
						if err != nil {
							return err
						}
						return render(c, an)
					})
				},
			},
			{
				Name:      "phase",
				Usage:     "Run a single phase",
				ArgsUsage: "analyze|cleanup|recompress|defragment|rebuild_indices",
				Action: func(c *cli.Context) error {
					p := maintenance.Phase(c.Args().First())
					return withApp(c, func(ctx context.Context, a *app.App) error {
						pr, err := a.Optimizer.RunPhase(ctx, p)
						if err != nil {
							return err
						}
						return render(c, pr)
					})
				},
			},
			{
				Name:  "state",
				Usage: "Show the persisted run state",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						st, err := a.Optimizer.LoadState(ctx)
						if err != nil {
							return err
						}
						if st == nil {
							return render(c, map[string]any{"state": "none"})
						}
						return render(c, st)
					})
				},
			},
			{
				Name:  "reset",
				Usage: "Discard the persisted run state",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						if err := a.Optimizer.Reset(ctx); err != nil {
							return err
						}
						return render(c, map[string]any{"reset": true})
					})
				},
			},
		},
	}
}

func maintenanceRun(c *cli.Context) error {
	var (
		bar  *output.ProgressBar
		opts []app.Option
	)
	if c.Bool("progress") {
		bar = output.NewProgressBar(c.App.ErrWriter, "maintenance")
		opts = append(opts, app.WithMaintenanceProgress(func(p maintenance.Progress) {
			bar.SetTitle(string(p.Phase))
			bar.Update(p.Done, p.Total)
		}))
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		rep, err := a.Optimizer.Run(ctx)
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			return err
		}
		if tableOutput(c) {
			return render(c, rep.Phases)
		}
		return render(c, rep)
	}, opts...)
}
