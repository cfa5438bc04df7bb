package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/keepstore/internal/app"
	"github.com/yndnr/keepstore/internal/core/service"
)

// DataCommand returns the import/export subcommand group.
func DataCommand() *cli.Command {
	return &cli.Command{
		Name:  "data",
		Usage: "Import and export the collection",
		Subcommands: []*cli.Command{
			{
				Name:  "export",
				Usage: "Export every record",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: string(service.FormatJSON), Usage: "json, csv or yaml"},
					&cli.StringFlag{Name: "file", Usage: `Output file, "-" for stdout (default: generated name)`},
				},
				Action: dataExport,
			},
			{
				Name:      "import",
				Usage:     "Import records from a file",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "json, csv or yaml (default: from extension)"},
					&cli.StringFlag{Name: "mode", Value: string(service.ImportMerge), Usage: "merge or replace"},
				},
				Action: dataImport,
			},
		},
	}
}

func dataExport(c *cli.Context) error {
	format, err := service.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		data, err := a.Records.ExportData(ctx, format)
		if err != nil {
			return err
		}

		path := c.String("file")
		if path == "-" {
			_, err := c.App.Writer.Write(data)
			return err
		}
		if path == "" {
			path = service.ExportFileName(format, time.Now())
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(c.App.ErrWriter, "exported to %s\n", path)
		return nil
	})
}

func dataImport(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("input file is required")
	}

	name := c.String("format")
	if name == "" {
		name = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	format, err := service.ParseFormat(name)
	if err != nil {
		return err
	}
	mode, err := service.ParseImportMode(c.String("mode"))
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		res, err := a.Records.ImportData(ctx, format, data, mode)
		if err != nil {
			return err
		}
		return render(c, res)
	})
}
