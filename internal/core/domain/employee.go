package domain

import (
	"math/rand/v2"
	"net/mail"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Employee constraints.
const (
	MaxNameLength     = 50
	MaxFieldLength    = 100
	MaxEmailLength    = 254
	MaxSkills         = 32
	HireDateLayout    = "2006-01-02"
	idRandomSuffixMax = 1000
)

// Employee statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusOnLeave  = "on_leave"
)

// Persistence sources and sync states.
const (
	SourceManual = "manual"
	SourceBatch  = "batch"
	SourceImport = "import"
	SourceBackup = "backup"

	SyncStatusLocal = "local"
)

// RequiredFields lists the fields that must be non-empty after trimming.
var RequiredFields = []string{"name", "department", "position"}

// SearchableFields lists the fields that can be filtered and indexed.
var SearchableFields = []string{"name", "department", "position", "status", "email", "phone"}

// PersistenceMeta records where a record came from and when it was touched.
type PersistenceMeta struct {
	// Source identifies the write path that created the record (manual, batch, import, backup).
	Source string `json:"source" yaml:"source"`

	// CreatedAt is the creation timestamp (Unix milliseconds).
	CreatedAt int64 `json:"createdAt" yaml:"createdAt"`

	// LastModified is the last modification timestamp (Unix milliseconds).
	LastModified int64 `json:"lastModified" yaml:"lastModified"`

	// SyncStatus is always "local"; server sync does not exist.
	SyncStatus string `json:"syncStatus" yaml:"syncStatus"`
}

// Employee is the record type managed by the record store.
type Employee struct {
	// ID is unique within the collection. Zero means "generate one".
	ID int64 `json:"id" yaml:"id"`

	Name       string `json:"name" yaml:"name"`
	Department string `json:"department" yaml:"department"`
	Position   string `json:"position" yaml:"position"`

	Email    string   `json:"email,omitempty" yaml:"email,omitempty"`
	Phone    string   `json:"phone,omitempty" yaml:"phone,omitempty"`
	Status   string   `json:"status,omitempty" yaml:"status,omitempty"`
	HireDate string   `json:"hireDate,omitempty" yaml:"hireDate,omitempty"`
	Skills   []string `json:"skills,omitempty" yaml:"skills,omitempty"`

	Meta PersistenceMeta `json:"persistenceMeta" yaml:"persistenceMeta"`
}

// EmployeePatch is a partial update. Nil fields are left untouched.
type EmployeePatch struct {
	Name       *string   `json:"name,omitempty"`
	Department *string   `json:"department,omitempty"`
	Position   *string   `json:"position,omitempty"`
	Email      *string   `json:"email,omitempty"`
	Phone      *string   `json:"phone,omitempty"`
	Status     *string   `json:"status,omitempty"`
	HireDate   *string   `json:"hireDate,omitempty"`
	Skills     *[]string `json:"skills,omitempty"`
}

// GenerateEmployeeID returns a time-based numeric ID with a random suffix.
func GenerateEmployeeID(now time.Time) int64 {
	return now.UnixMilli()*idRandomSuffixMax + rand.Int64N(idRandomSuffixMax)
}

// Normalize trims whitespace and fills defaults. It does not validate.
func (e *Employee) Normalize() {
	e.Name = strings.TrimSpace(e.Name)
	e.Department = strings.TrimSpace(e.Department)
	e.Position = strings.TrimSpace(e.Position)
	e.Email = strings.TrimSpace(e.Email)
	e.Phone = strings.TrimSpace(e.Phone)
	e.Status = strings.ToLower(strings.TrimSpace(e.Status))
	e.HireDate = strings.TrimSpace(e.HireDate)
	if e.Status == "" {
		e.Status = StatusActive
	}
	if e.Meta.SyncStatus == "" {
		e.Meta.SyncStatus = SyncStatusLocal
	}
}

// Validate checks the record against its constraints.
// Missing required fields are reported with ErrMissingField; any other
// violation is reported with ErrInvalidFormat.
func (e *Employee) Validate() error {
	var missing []string
	for _, f := range RequiredFields {
		if strings.TrimSpace(e.Field(f)) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return ErrMissingField.WithDetails(strings.Join(missing, ", "))
	}

	var violations []string

	if e.ID < 0 {
		violations = append(violations, "id must not be negative")
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(e.Name)); n < 1 || n > MaxNameLength {
		violations = append(violations, "name must be 1-50 characters")
	}
	if utf8.RuneCountInString(e.Department) > MaxFieldLength {
		violations = append(violations, "department exceeds 100 characters")
	}
	if utf8.RuneCountInString(e.Position) > MaxFieldLength {
		violations = append(violations, "position exceeds 100 characters")
	}
	if e.Email != "" {
		if len(e.Email) > MaxEmailLength {
			violations = append(violations, "email exceeds 254 characters")
		} else if _, err := mail.ParseAddress(e.Email); err != nil {
			violations = append(violations, "email is malformed")
		}
	}
	if e.Status != "" && !slices.Contains([]string{StatusActive, StatusInactive, StatusOnLeave}, e.Status) {
		violations = append(violations, "status must be active, inactive or on_leave")
	}
	if e.HireDate != "" {
		if _, err := time.Parse(HireDateLayout, e.HireDate); err != nil {
			violations = append(violations, "hireDate must be YYYY-MM-DD")
		}
	}
	if len(e.Skills) > MaxSkills {
		violations = append(violations, "too many skills")
	}

	if len(violations) > 0 {
		return ErrInvalidFormat.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// Field returns the string value of a searchable field by its JSON name.
// Unknown fields return "".
func (e *Employee) Field(name string) string {
	switch name {
	case "name":
		return e.Name
	case "department":
		return e.Department
	case "position":
		return e.Position
	case "email":
		return e.Email
	case "phone":
		return e.Phone
	case "status":
		return e.Status
	case "hireDate":
		return e.HireDate
	default:
		return ""
	}
}

// Apply merges a patch onto the record. The ID is never changed.
func (e *Employee) Apply(p EmployeePatch) {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Department != nil {
		e.Department = *p.Department
	}
	if p.Position != nil {
		e.Position = *p.Position
	}
	if p.Email != nil {
		e.Email = *p.Email
	}
	if p.Phone != nil {
		e.Phone = *p.Phone
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.HireDate != nil {
		e.HireDate = *p.HireDate
	}
	if p.Skills != nil {
		e.Skills = slices.Clone(*p.Skills)
	}
}

// Touch stamps the modification time, and the creation time when unset.
func (e *Employee) Touch(now time.Time, source string) {
	ms := now.UnixMilli()
	if e.Meta.CreatedAt == 0 {
		e.Meta.CreatedAt = ms
	}
	if e.Meta.Source == "" {
		e.Meta.Source = source
	}
	e.Meta.LastModified = ms
	e.Meta.SyncStatus = SyncStatusLocal
}

// Clone returns a deep copy of the record.
func (e *Employee) Clone() Employee {
	c := *e
	c.Skills = slices.Clone(e.Skills)
	return c
}
