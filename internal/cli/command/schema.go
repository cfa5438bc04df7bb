package command

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/keepstore/internal/config"
	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/core/service"
)

// schemaTargets maps schema names to the types they describe.
var schemaTargets = map[string]struct {
	title string
	value any
}{
	"record": {"keepstore record", &domain.Employee{}},
	"export": {"keepstore export document", &service.ExportDocument{}},
	"config": {"keepstore configuration", &config.Config{}},
}

// SchemaCommand prints JSON Schemas for records, exports and configuration.
func SchemaCommand() *cli.Command {
	return &cli.Command{
		Name:      "schema",
		Usage:     "Print the JSON Schema of a record, export or config file",
		ArgsUsage: "record|export|config",
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				name = "record"
			}
			data, err := Schema(name)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.App.Writer, string(data))
			return err
		},
	}
}

// Schema returns the indented JSON Schema for name.
func Schema(name string) ([]byte, error) {
	target, ok := schemaTargets[name]
	if !ok {
		names := make([]string, 0, len(schemaTargets))
		for n := range schemaTargets {
			names = append(names, n)
		}
		slices.Sort(names)
		return nil, fmt.Errorf("unknown schema %q, want one of %v", name, names)
	}

	r := &jsonschema.Reflector{DoNotReference: true}
	if name == "config" {
		r.FieldNameTag = "yaml"
	}
	s := r.Reflect(target.value)
	s.Title = target.title
	return json.MarshalIndent(s, "", "  ")
}
