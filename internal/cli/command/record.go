package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/keepstore/internal/app"
	"github.com/yndnr/keepstore/internal/cli/output"
	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/core/service"
)

// RecordCommand returns the record subcommand group.
func RecordCommand() *cli.Command {
	return &cli.Command{
		Name:    "record",
		Aliases: []string{"rec"},
		Usage:   "Create, read, update and delete records",
		Subcommands: []*cli.Command{
			{
				Name:   "add",
				Usage:  "Add a record",
				Flags:  append(recordFlags(), &cli.Int64Flag{Name: "id", Usage: "Record ID (generated when omitted)"}),
				Action: recordAdd,
			},
			{
				Name:      "get",
				Usage:     "Show a record",
				ArgsUsage: "ID",
				Action:    recordGet,
			},
			{
				Name:      "update",
				Usage:     "Update fields of a record",
				ArgsUsage: "ID",
				Flags:     recordFlags(),
				Action:    recordUpdate,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a record",
				ArgsUsage: "ID",
				Action:    recordDelete,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List records page by page",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Value: 1, Usage: "Page number, starting at 1"},
					&cli.IntFlag{Name: "page-size", Value: service.DefaultPageSize, Usage: "Records per page"},
					&cli.StringFlag{Name: "sort", Usage: "Sort field"},
					&cli.BoolFlag{Name: "desc", Usage: "Sort descending"},
					&cli.StringSliceFlag{Name: "filter", Usage: "Exact match FIELD=VALUE, repeatable"},
				},
				Action: recordList,
			},
			{
				Name:      "search",
				Usage:     "Search records by keyword and filters",
				ArgsUsage: "[KEYWORD]",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "filter", Usage: "Exact match FIELD=VALUE, repeatable"},
					&cli.BoolFlag{Name: "fuzzy", Usage: "Rank by similarity"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum results"},
					&cli.StringFlag{Name: "sort", Usage: "Sort field"},
					&cli.BoolFlag{Name: "desc", Usage: "Sort descending"},
				},
				Action: recordSearch,
			},
			{
				Name:   "stats",
				Usage:  "Summarize the collection",
				Action: recordStats,
			},
			{
				Name:      "batch-add",
				Usage:     "Add records from a JSON array file",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "skip-duplicates", Usage: "Skip records whose name already exists"},
					&cli.IntFlag{Name: "chunk-size", Usage: "Records validated per chunk"},
					&cli.BoolFlag{Name: "progress", Usage: "Show progress on stderr"},
				},
				Action: recordBatchAdd,
			},
			{
				Name:      "batch-update",
				Usage:     `Apply patches from a JSON file of [{"id":..,"patch":{..}}]`,
				ArgsUsage: "FILE",
				Action:    recordBatchUpdate,
			},
			{
				Name:      "batch-delete",
				Usage:     "Delete several records",
				ArgsUsage: "ID...",
				Action:    recordBatchDelete,
			},
		},
	}
}

func recordFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name"},
		&cli.StringFlag{Name: "department"},
		&cli.StringFlag{Name: "position"},
		&cli.StringFlag{Name: "email"},
		&cli.StringFlag{Name: "phone"},
		&cli.StringFlag{Name: "status"},
		&cli.StringFlag{Name: "hire-date", Usage: "YYYY-MM-DD"},
		&cli.StringSliceFlag{Name: "skill", Usage: "Skill, repeatable"},
	}
}

func recordAdd(c *cli.Context) error {
	rec := domain.Employee{
		ID:         c.Int64("id"),
		Name:       c.String("name"),
		Department: c.String("department"),
		Position:   c.String("position"),
		Email:      c.String("email"),
		Phone:      c.String("phone"),
		Status:     c.String("status"),
		HireDate:   c.String("hire-date"),
		Skills:     c.StringSlice("skill"),
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		added, err := a.Records.Add(ctx, rec)
		if err != nil {
			return err
		}
		return renderRecords(c, added)
	})
}

func recordGet(c *cli.Context) error {
	id, err := parseID(c.Args().First())
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		rec, err := a.Records.Get(ctx, id)
		if err != nil {
			return err
		}
		return renderRecords(c, rec)
	})
}

func recordUpdate(c *cli.Context) error {
	id, err := parseID(c.Args().First())
	if err != nil {
		return err
	}

	var patch domain.EmployeePatch
	set := func(flag string, dst **string) {
		if c.IsSet(flag) {
			v := c.String(flag)
			*dst = &v
		}
	}
	set("name", &patch.Name)
	set("department", &patch.Department)
	set("position", &patch.Position)
	set("email", &patch.Email)
	set("phone", &patch.Phone)
	set("status", &patch.Status)
	set("hire-date", &patch.HireDate)
	if c.IsSet("skill") {
		skills := c.StringSlice("skill")
		patch.Skills = &skills
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		rec, err := a.Records.Update(ctx, id, patch)
		if err != nil {
			return err
		}
		return renderRecords(c, rec)
	})
}

func recordDelete(c *cli.Context) error {
	id, err := parseID(c.Args().First())
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		deleted, err := a.Records.Delete(ctx, id)
		if err != nil {
			return err
		}
		return render(c, map[string]any{"id": id, "deleted": deleted})
	})
}

func recordList(c *cli.Context) error {
	filters, err := parseFilters(c.StringSlice("filter"))
	if err != nil {
		return err
	}
	req := service.PageRequest{
		Page:     c.Int("page"),
		PageSize: c.Int("page-size"),
	}
	if len(filters) > 0 {
		req.Filter = func(e domain.Employee) bool {
			for field, want := range filters {
				if !strings.EqualFold(e.Field(field), want) {
					return false
				}
			}
			return true
		}
	}
	if f := c.String("sort"); f != "" {
		req.Sort = service.SortBy(f, c.Bool("desc"))
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		page, err := a.Records.Paginate(ctx, req)
		if err != nil {
			return err
		}
		if !tableOutput(c) {
			return render(c, page)
		}
		if err := renderRecords(c, page.Records...); err != nil {
			return err
		}
		fmt.Fprintf(c.App.ErrWriter, "page %d/%d, %d records\n", page.Page, page.TotalPages, page.Total)
		return nil
	})
}

func recordSearch(c *cli.Context) error {
	filters, err := parseFilters(c.StringSlice("filter"))
	if err != nil {
		return err
	}
	opts := service.SearchOptions{
		Keyword: c.Args().First(),
		Filters: filters,
		Limit:   c.Int("limit"),
		Fuzzy:   c.Bool("fuzzy"),
		SortBy:  c.String("sort"),
		Desc:    c.Bool("desc"),
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		found, err := a.Records.Search(ctx, opts)
		if err != nil {
			return err
		}
		return renderRecords(c, found...)
	})
}

func recordStats(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		st, err := a.Records.GetStats(ctx)
		if err != nil {
			return err
		}
		return render(c, st)
	})
}

func recordBatchAdd(c *cli.Context) error {
	var records []domain.Employee
	if err := readJSONFile(c.Args().First(), &records); err != nil {
		return err
	}

	opts := service.BatchOptions{
		ChunkSize:      c.Int("chunk-size"),
		SkipDuplicates: c.Bool("skip-duplicates"),
	}
	var bar *output.ProgressBar
	if c.Bool("progress") {
		bar = output.NewProgressBar(c.App.ErrWriter, "batch-add")
		opts.Progress = func(p service.BatchProgress) { bar.Update(p.Processed, p.Total) }
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		res, err := a.Records.BatchAdd(ctx, records, opts)
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			return err
		}
		res.Records = nil
		return render(c, res)
	})
}

func recordBatchUpdate(c *cli.Context) error {
	var items []service.BatchUpdateItem
	if err := readJSONFile(c.Args().First(), &items); err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		res, err := a.Records.BatchUpdate(ctx, items)
		if err != nil {
			return err
		}
		res.Records = nil
		return render(c, res)
	})
}

func recordBatchDelete(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one ID is required")
	}
	ids := make([]int64, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		id, err := parseID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		res, err := a.Records.BatchDelete(ctx, ids)
		if err != nil {
			return err
		}
		return render(c, res)
	})
}

// renderRecords prints records as a compact table or in full otherwise.
func renderRecords(c *cli.Context, records ...domain.Employee) error {
	if !tableOutput(c) {
		if len(records) == 1 {
			return render(c, records[0])
		}
		return render(c, records)
	}

	wide := c.Bool("wide")
	t := &output.Table{Headers: []string{"ID", "NAME", "DEPARTMENT", "POSITION", "STATUS"}}
	if wide {
		t.Headers = append(t.Headers, "EMAIL", "PHONE", "SKILLS", "SOURCE", "MODIFIED")
	}
	for _, r := range records {
		row := []string{strconv.FormatInt(r.ID, 10), r.Name, r.Department, r.Position, dash(r.Status)}
		if wide {
			row = append(row,
				dash(r.Email),
				dash(r.Phone),
				dash(strings.Join(r.Skills, ";")),
				dash(r.Meta.Source),
				time.UnixMilli(r.Meta.LastModified).Local().Format(time.DateTime),
			)
		}
		t.AddRow(row...)
	}
	return output.TableFormatter{}.Format(c.App.Writer, t)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func parseID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("record ID is required")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record ID %q", s)
	}
	return id, nil
}

func parseFilters(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, f := range raw {
		field, value, ok := strings.Cut(f, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter %q, want FIELD=VALUE", f)
		}
		out[strings.TrimSpace(field)] = strings.TrimSpace(value)
	}
	return out, nil
}

func readJSONFile(path string, dst any) error {
	if path == "" {
		return fmt.Errorf("input file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
