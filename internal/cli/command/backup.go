package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/keepstore/internal/app"
	"github.com/yndnr/keepstore/internal/storage/snapshot"
)

// BackupCommand returns the backup subcommand group.
func BackupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Create, list, verify and restore backups",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Snapshot the current collection",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						res, err := a.Records.CreateBackup(ctx, snapshot.TypeManual)
						if err != nil {
							return err
						}
						if !res.Success {
							fmt.Fprintf(c.App.ErrWriter, "no backup created: %s\n", res.Reason)
						}
						return render(c, res)
					})
				},
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List retained backups, newest first",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						list, err := a.Records.GetBackupList(ctx)
						if err != nil {
							return err
						}
						return render(c, list)
					})
				},
			},
			{
				Name:      "restore",
				Usage:     "Replace the collection with a backup",
				ArgsUsage: "ID|latest",
				Action: func(c *cli.Context) error {
					id := backupID(c)
					return withApp(c, func(ctx context.Context, a *app.App) error {
						res, err := a.Records.RestoreFromBackup(ctx, id)
						if err != nil {
							return err
						}
						return render(c, res)
					})
				},
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a backup",
				ArgsUsage: "ID",
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("backup ID is required")
					}
					return withApp(c, func(ctx context.Context, a *app.App) error {
						if err := a.Records.DeleteBackup(ctx, id); err != nil {
							return err
						}
						return render(c, map[string]any{"backupId": id, "deleted": true})
					})
				},
			},
			{
				Name:      "verify",
				Usage:     "Check a backup against its checksum and record rules",
				ArgsUsage: "ID|latest",
				Action: func(c *cli.Context) error {
					id := backupID(c)
					return withApp(c, func(ctx context.Context, a *app.App) error {
						snap, err := a.Backups.Get(ctx, id)
						if err != nil {
							return err
						}
						result := map[string]any{
							"backupId": snap.BackupID,
							"count":    len(snap.Records),
							"valid":    true,
						}
						if err := a.Backups.Verify(snap); err != nil {
							result["valid"] = false
							result["error"] = err.Error()
						}
						return render(c, result)
					})
				},
			},
		},
	}
}

func backupID(c *cli.Context) string {
	if id := c.Args().First(); id != "" {
		return id
	}
	return snapshot.Latest
}
