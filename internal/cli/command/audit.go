package command

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/keepstore/internal/app"
	"github.com/yndnr/keepstore/internal/telemetry/audit"
)

// AuditCommand returns the audit subcommand group.
func AuditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Inspect the audit log",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List audit entries, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "action", Usage: "Only entries with this action"},
					&cli.DurationFlag{Name: "since", Usage: "Only entries newer than this, e.g. 24h"},
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum entries, 0 for all"},
				},
				Action: func(c *cli.Context) error {
					q := audit.Query{Action: c.String("action"), Limit: c.Int("limit")}
					if d := c.Duration("since"); d > 0 {
						q.Start = time.Now().Add(-d)
					}
					return withApp(c, func(_ context.Context, a *app.App) error {
						return render(c, a.Records.GetAuditLogs(q))
					})
				},
			},
			{
				Name:  "prune",
				Usage: "Drop entries older than the retention window",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						n, err := a.Audit.Prune(ctx, time.Now())
						if err != nil {
							return err
						}
						return render(c, map[string]any{"removed": n, "remaining": a.Audit.Len()})
					})
				},
			},
		},
	}
}
