package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage/integrity"
)

// ExportVersion is written into export metadata.
const ExportVersion = "1.0"

// Format is an import/export format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", domain.ErrInvalidFormat.WithDetailsf("unknown format %q", s)
	}
}

// ImportMode selects how imported records are combined with the collection.
type ImportMode string

const (
	// ImportMerge appends records with batch semantics, skipping duplicates.
	ImportMerge ImportMode = "merge"

	// ImportReplace replaces the collection with the valid imported records.
	// An import without a single valid record leaves the collection as is.
	ImportReplace ImportMode = "replace"
)

// ParseImportMode parses a mode name.
func ParseImportMode(s string) (ImportMode, error) {
	switch m := ImportMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ImportMerge, ImportReplace:
		return m, nil
	default:
		return "", domain.ErrInvalidFormat.WithDetailsf("unknown import mode %q", s)
	}
}

// ExportMetadata heads a JSON or YAML export.
type ExportMetadata struct {
	ExportedAt string `json:"exportedAt" yaml:"exportedAt"`
	Version    string `json:"version" yaml:"version"`
	Count      int    `json:"count" yaml:"count"`
	Checksum   string `json:"checksum" yaml:"checksum"`
	Format     Format `json:"format" yaml:"format"`
}

// ExportDocument is the JSON and YAML export shape.
type ExportDocument struct {
	Metadata ExportMetadata    `json:"metadata" yaml:"metadata"`
	Records  []domain.Employee `json:"records" yaml:"records"`
}

// csvHeader is the CSV column order.
var csvHeader = []string{
	"id", "name", "department", "position", "email", "phone",
	"status", "hireDate", "skills", "createdAt", "lastModified",
}

const skillSeparator = ";"

// ExportData encodes the whole collection.
func (s *RecordStore) ExportData(ctx context.Context, format Format) ([]byte, error) {
	records, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatCSV:
		return encodeCSV(records)
	case FormatJSON, FormatYAML:
		raw, err := json.Marshal(records)
		if err != nil {
			return nil, err
		}
		doc := ExportDocument{
			Metadata: ExportMetadata{
				ExportedAt: s.now().UTC().Format(time.RFC3339),
				Version:    ExportVersion,
				Count:      len(records),
				Checksum:   integrity.Checksum(raw),
				Format:     format,
			},
			Records: records,
		}
		if format == FormatYAML {
			return yaml.Marshal(doc)
		}
		return json.MarshalIndent(doc, "", "  ")
	default:
		return nil, domain.ErrInvalidFormat.WithDetailsf("unknown format %q", format)
	}
}

func encodeCSV(records []domain.Employee) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(quoteRow(csvHeader))
	for _, r := range records {
		buf.WriteString(quoteRow([]string{
			strconv.FormatInt(r.ID, 10),
			r.Name,
			r.Department,
			r.Position,
			r.Email,
			r.Phone,
			r.Status,
			r.HireDate,
			strings.Join(r.Skills, skillSeparator),
			strconv.FormatInt(r.Meta.CreatedAt, 10),
			strconv.FormatInt(r.Meta.LastModified, 10),
		}))
	}
	return buf.Bytes(), nil
}

// quoteRow quotes every field; encoding/csv only quotes when needed.
func quoteRow(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",") + "\n"
}

// ImportResult summarizes an import.
type ImportResult struct {
	Mode     ImportMode   `json:"mode" yaml:"mode"`
	Total    int          `json:"total" yaml:"total"`
	Imported int          `json:"imported" yaml:"imported"`
	Failed   int          `json:"failed" yaml:"failed"`
	Skipped  int          `json:"skipped" yaml:"skipped"`
	Errors   []BatchError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// ImportData decodes records and combines them with the collection. Every
// record goes through the normal validation; invalid ones are reported.
func (s *RecordStore) ImportData(ctx context.Context, format Format, data []byte, mode ImportMode) (ImportResult, error) {
	res, err := s.importData(ctx, format, data, mode)
	s.recordOp("import", err)
	if err == nil {
		s.appendAudit(ActionImport, map[string]any{
			"format": string(format), "mode": string(mode),
			"total": res.Total, "imported": res.Imported, "failed": res.Failed,
		})
	}
	return res, err
}

func (s *RecordStore) importData(ctx context.Context, format Format, data []byte, mode ImportMode) (ImportResult, error) {
	res := ImportResult{Mode: mode}

	records, err := decodeImport(format, data)
	if err != nil {
		return res, err
	}
	res.Total = len(records)

	switch mode {
	case ImportMerge:
		br, err := s.batchAdd(ctx, records, BatchOptions{SkipDuplicates: true}, domain.SourceImport)
		res.Imported, res.Failed, res.Skipped, res.Errors = br.Success, br.Failed, br.Skipped, br.Errors
		return res, err

	case ImportReplace:
		valid := make([]domain.Employee, 0, len(records))
		ids := make(map[int64]struct{}, len(records))
		now := s.now()
		for i, r := range records {
			r = r.Clone()
			r.Normalize()
			if err := r.Validate(); err != nil {
				res.Failed++
				res.Errors = append(res.Errors, BatchError{Index: i, ID: r.ID, Error: err.Error()})
				continue
			}
			s.assignID(&r, ids)
			r.Touch(now, domain.SourceImport)
			valid = append(valid, r)
		}
		if len(valid) == 0 {
			return res, domain.ErrInvalidFormat.WithDetailsf("import replace: no valid records among %d, collection unchanged", res.Total)
		}
		if _, err := s.persist(ctx, valid); err != nil {
			return res, domain.ErrBatchSaveFailed.WithDetails("import replace").WithCause(err)
		}
		res.Imported = len(valid)
		return res, nil

	default:
		return res, domain.ErrInvalidFormat.WithDetailsf("unknown import mode %q", mode)
	}
}

func decodeImport(format Format, data []byte) ([]domain.Employee, error) {
	switch format {
	case FormatJSON:
		return decodeJSONImport(data)
	case FormatYAML:
		var doc ExportDocument
		if err := yaml.Unmarshal(data, &doc); err == nil && doc.Records != nil {
			return doc.Records, nil
		}
		var records []domain.Employee
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, domain.ErrParse.WithDetails("yaml import").WithCause(err)
		}
		return records, nil
	case FormatCSV:
		return decodeCSV(data)
	default:
		return nil, domain.ErrInvalidFormat.WithDetailsf("unknown format %q", format)
	}
}

// decodeJSONImport accepts an export document or a bare record array.
func decodeJSONImport(data []byte) ([]domain.Employee, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []domain.Employee
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, domain.ErrParse.WithDetails("json import").WithCause(err)
		}
		return records, nil
	}

	var doc ExportDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, domain.ErrParse.WithDetails("json import").WithCause(err)
	}
	if doc.Records == nil {
		return nil, domain.ErrParse.WithDetails("json import: no records array")
	}
	return doc.Records, nil
}

func decodeCSV(data []byte) ([]domain.Employee, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, domain.ErrParse.WithDetails("csv import: missing header").WithCause(err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, required := range domain.RequiredFields {
		if _, ok := col[required]; !ok {
			return nil, domain.ErrParse.WithDetailsf("csv import: missing column %q", required)
		}
	}

	var records []domain.Employee
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, domain.ErrParse.WithDetailsf("csv import: line %d", line).WithCause(err)
		}
		get := func(name string) string {
			if i, ok := col[name]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}

		rec := domain.Employee{
			Name:       get("name"),
			Department: get("department"),
			Position:   get("position"),
			Email:      get("email"),
			Phone:      get("phone"),
			Status:     get("status"),
			HireDate:   get("hireDate"),
		}
		if v := strings.TrimSpace(get("id")); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, domain.ErrParse.WithDetailsf("csv import: line %d: bad id %q", line, v)
			}
			rec.ID = id
		}
		if v := get("skills"); v != "" {
			for _, sk := range strings.Split(v, skillSeparator) {
				if sk = strings.TrimSpace(sk); sk != "" {
					rec.Skills = append(rec.Skills, sk)
				}
			}
		}
		rec.Meta.CreatedAt = parseMillis(get("createdAt"))
		rec.Meta.LastModified = parseMillis(get("lastModified"))
		records = append(records, rec)
	}
	return records, nil
}

func parseMillis(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// ExportFileName suggests a file name for an export.
func ExportFileName(format Format, now time.Time) string {
	return fmt.Sprintf("employees-%s.%s", now.UTC().Format("20060102-150405"), format)
}
