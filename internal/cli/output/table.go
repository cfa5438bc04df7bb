package output

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// TableFormatter writes aligned columns.
type TableFormatter struct {
	Wide      bool
	NoHeaders bool
}

// Format renders a *Table, a slice of structs or maps, a map or a single
// struct. Anything else falls back to JSON.
func (f TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}
	switch t := data.(type) {
	case *Table:
		return t.render(w, f.NoHeaders)
	case Table:
		return t.render(w, f.NoHeaders)
	}

	t, ok := buildTable(reflect.ValueOf(data), f.Wide)
	if !ok {
		return JSONFormatter{}.Format(w, data)
	}
	return t.render(w, f.NoHeaders)
}

// Table is prebuilt tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

func (t Table) render(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !noHeaders && len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// column is one rendered struct field.
type column struct {
	index  int
	header string
	kind   string
}

func columns(t reflect.Type, wide bool) []column {
	var cols []column
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		opts := strings.Split(f.Tag.Get("table"), ",")
		if opts[0] == "-" {
			continue
		}
		kind := ""
		hide := false
		for _, o := range opts {
			switch o {
			case "wide":
				hide = !wide
			case "bytes", "millis":
				kind = o
			}
		}
		if hide {
			continue
		}
		cols = append(cols, column{index: i, header: header(f), kind: kind})
	}
	return cols
}

func header(f reflect.StructField) string {
	name := f.Name
	if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" && tag != "-" {
		name = tag
	}
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

func buildTable(v reflect.Value, wide bool) (*Table, bool) {
	v = indirect(v)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return sliceTable(v, wide), true
	case reflect.Map:
		t := &Table{Headers: []string{"KEY", "VALUE"}}
		appendMap(t, v)
		return t, true
	case reflect.Struct:
		t := &Table{Headers: []string{"FIELD", "VALUE"}}
		for _, c := range columns(v.Type(), true) {
			t.AddRow(c.header, cell(v.Field(c.index), c.kind))
		}
		return t, true
	default:
		return nil, false
	}
}

func sliceTable(v reflect.Value, wide bool) *Table {
	t := &Table{}
	if v.Len() == 0 {
		return t
	}

	elemType := v.Type().Elem()
	for elemType.Kind() == reflect.Pointer {
		elemType = elemType.Elem()
	}
	switch elemType.Kind() {
	case reflect.Struct:
		cols := columns(elemType, wide)
		for _, c := range cols {
			t.Headers = append(t.Headers, c.header)
		}
		for i := 0; i < v.Len(); i++ {
			e := indirect(v.Index(i))
			row := make([]string, len(cols))
			for j, c := range cols {
				if e.IsValid() {
					row[j] = cell(e.Field(c.index), c.kind)
				}
			}
			t.Rows = append(t.Rows, row)
		}
	case reflect.Map:
		t.Headers = []string{"KEY", "VALUE"}
		for i := 0; i < v.Len(); i++ {
			appendMap(t, indirect(v.Index(i)))
		}
	default:
		t.Headers = []string{"VALUE"}
		for i := 0; i < v.Len(); i++ {
			t.AddRow(cell(v.Index(i), ""))
		}
	}
	return t
}

func appendMap(t *Table, v reflect.Value) {
	keys := v.MapKeys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = cell(k, "")
	}
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int { return strings.Compare(names[a], names[b]) })
	for _, i := range order {
		t.AddRow(names[i], cell(v.MapIndex(keys[i]), ""))
	}
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

var timeType = reflect.TypeOf(time.Time{})

func cell(v reflect.Value, kind string) string {
	v = indirect(v)
	if !v.IsValid() {
		return "-"
	}
	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format(time.DateTime)
	}
	if d, ok := v.Interface().(time.Duration); ok {
		return d.Round(time.Millisecond).String()
	}

	switch v.Kind() {
	case reflect.String:
		if v.String() == "" {
			return "-"
		}
		return v.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		switch kind {
		case "bytes":
			return humanize.IBytes(uint64(max(n, 0)))
		case "millis":
			if n == 0 {
				return "-"
			}
			return time.UnixMilli(n).Local().Format(time.DateTime)
		}
		return humanize.Comma(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if kind == "bytes" {
			return humanize.IBytes(v.Uint())
		}
		return fmt.Sprintf("%d", v.Uint())
	case reflect.Float32, reflect.Float64:
		return humanize.FtoaWithDigits(v.Float(), 3)
	case reflect.Bool:
		return fmt.Sprintf("%t", v.Bool())
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "-"
		}
		if v.Type().Elem().Kind() == reflect.String {
			parts := make([]string, v.Len())
			for i := range parts {
				parts[i] = v.Index(i).String()
			}
			return strings.Join(parts, ", ")
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map, reflect.Struct:
		b, err := json.Marshal(v.Interface())
		if err != nil {
			return fmt.Sprintf("%v", v.Interface())
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}
