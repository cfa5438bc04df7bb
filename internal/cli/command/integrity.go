package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/keepstore/internal/app"
)

// IntegrityCommand returns the integrity subcommand group.
func IntegrityCommand() *cli.Command {
	return &cli.Command{
		Name:  "integrity",
		Usage: "Audit and repair stored data",
		Subcommands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Report checksum, record and ID problems",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "fail-on-critical", Usage: "Exit non-zero when critical issues are found"},
				},
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						rep, err := a.Records.PerformIntegrityCheck(ctx)
						if err != nil {
							return err
						}
						if tableOutput(c) {
							if rep.Healthy() {
								fmt.Fprintf(c.App.Writer, "%d entries checked, no issues\n", rep.Checked)
								return nil
							}
							if err := render(c, rep.Issues); err != nil {
								return err
							}
						} else if err := render(c, rep); err != nil {
							return err
						}
						if n := rep.Critical(); n > 0 && c.Bool("fail-on-critical") {
							return cli.Exit(fmt.Sprintf("%d critical issues", n), 2)
						}
						return nil
					})
				},
			},
			{
				Name:  "repair",
				Usage: "Apply the suggested repairs",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						res, err := a.Records.AutoRepair(ctx)
						if err != nil {
							return err
						}
						return render(c, res)
					})
				},
			},
		},
	}
}
