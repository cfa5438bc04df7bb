package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/yndnr/keepstore/internal/cli/output"
	"github.com/yndnr/keepstore/internal/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show, validate and initialize configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					if tableOutput(c) {
						return output.YAMLFormatter{}.Format(c.App.Writer, cfg)
					}
					return render(c, cfg)
				},
			},
			{
				Name:  "validate",
				Usage: "Check the configuration file, environment and flags",
				Action: func(c *cli.Context) error {
					if _, err := loadConfig(c); err != nil {
						return err
					}
					_, err := fmt.Fprintln(c.App.Writer, "configuration is valid")
					return err
				},
			},
			{
				Name:      "init",
				Usage:     "Write the default configuration to a file",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					if path == "" {
						return fmt.Errorf("output file is required")
					}
					if _, err := os.Stat(path); err == nil && !c.Bool("force") {
						return fmt.Errorf("%s exists, use --force to overwrite", path)
					}
					data, err := yaml.Marshal(config.Default())
					if err != nil {
						return err
					}
					if err := os.WriteFile(path, data, 0o600); err != nil {
						return err
					}
					fmt.Fprintf(c.App.ErrWriter, "wrote %s\n", path)
					return nil
				},
			},
		},
	}
}
