package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/keepstore/internal/app"
)

// StorageCommand returns the storage subcommand group.
func StorageCommand() *cli.Command {
	return &cli.Command{
		Name:  "storage",
		Usage: "Inspect and manage the storage engine",
		Subcommands: []*cli.Command{
			{
				Name:  "info",
				Usage: "Show the active tier and usage",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						info, err := a.Engine.Info(ctx)
						if err != nil {
							return err
						}
						if tableOutput(c) {
							return render(c, info.Tiers)
						}
						return render(c, info)
					})
				},
			},
			{
				Name:  "usage",
				Usage: "Show usage of the active tier",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						info, err := a.Engine.Info(ctx)
						if err != nil {
							return err
						}
						info.Tiers = nil
						return render(c, info)
					})
				},
			},
			{
				Name:  "entries",
				Usage: "Describe every stored entry",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						entries, err := a.Engine.Entries(ctx)
						if err != nil {
							return err
						}
						return render(c, entries)
					})
				},
			},
			{
				Name:      "inspect",
				Usage:     "Describe one entry",
				ArgsUsage: "KEY",
				Action: func(c *cli.Context) error {
					key := c.Args().First()
					return withApp(c, func(ctx context.Context, a *app.App) error {
						info, err := a.Engine.Inspect(ctx, key)
						if err != nil {
							return err
						}
						return render(c, info)
					})
				},
			},
			{
				Name:  "cleanup",
				Usage: "Expire old entries and evict until under the ceiling",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						rep, err := a.Engine.Cleanup(ctx)
						if err != nil {
							return err
						}
						return render(c, rep)
					})
				},
			},
			{
				Name:  "expire",
				Usage: "Remove entries older than the maximum age",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						rep, err := a.Engine.Expire(ctx)
						if err != nil {
							return err
						}
						return render(c, rep)
					})
				},
			},
			{
				Name:  "compact",
				Usage: "Reclaim space in the durable tier",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						n, err := a.Engine.Compact(ctx)
						if err != nil {
							return err
						}
						return render(c, map[string]any{"reclaimed": n})
					})
				},
			},
			{
				Name:      "clear",
				Usage:     "Remove entries matching a pattern",
				ArgsUsage: "[PATTERN]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm the removal"},
				},
				Action: func(c *cli.Context) error {
					if !c.Bool("yes") {
						return fmt.Errorf("refusing to clear without --yes")
					}
					pattern := c.Args().First()
					return withApp(c, func(ctx context.Context, a *app.App) error {
						n, err := a.Engine.Clear(ctx, pattern)
						if err != nil {
							return err
						}
						a.Records.Invalidate()
						return render(c, map[string]any{"removed": n})
					})
				},
			},
			{
				Name:  "rebuild-index",
				Usage: "Rebuild the search index",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						st, err := a.Records.RebuildIndex(ctx)
						if err != nil {
							return err
						}
						return render(c, st)
					})
				},
			},
		},
	}
}
