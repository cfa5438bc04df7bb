// Package integrity computes and checks payload checksums.
//
// Checksums detect accidental corruption only. They are not a security
// mechanism and must not be used to authenticate data.
package integrity

import (
	"encoding/hex"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Checksum returns the hex murmur3-32 of b.
func Checksum(b []byte) string {
	h := murmur3.New32()
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether b matches sum. An empty sum verifies nothing and
// is treated as a match.
func Verify(b []byte, sum string) bool {
	if sum == "" {
		return true
	}
	return strings.EqualFold(Checksum(b), sum)
}

// Severity ranks an integrity issue.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Issue is a problem found by an explicit integrity audit.
type Issue struct {
	Key      string   `json:"key" yaml:"key"`
	Kind     string   `json:"kind" yaml:"kind"`
	Severity Severity `json:"severity" yaml:"severity"`
	Message  string   `json:"message" yaml:"message"`
	// Repair names the suggested automatic repair, empty when none applies.
	Repair string `json:"repair,omitempty" yaml:"repair,omitempty"`
}

// Issue kinds and the repairs suggested for them.
const (
	KindChecksumMismatch = "checksum_mismatch"
	KindUnreadable       = "unreadable"
	KindInvalidRecord    = "invalid_record"
	KindDuplicateID      = "duplicate_id"

	RepairRewrite       = "rewrite_checksum"
	RepairRestoreBackup = "restore_backup"
	RepairDropRecord    = "drop_record"
	RepairReassignID    = "reassign_id"
)

// Report is the result of an integrity audit.
type Report struct {
	Checked int     `json:"checked" yaml:"checked"`
	Issues  []Issue `json:"issues" yaml:"issues"`
}

// Healthy reports whether no issues were found.
func (r *Report) Healthy() bool { return len(r.Issues) == 0 }

// Add appends an issue.
func (r *Report) Add(i Issue) { r.Issues = append(r.Issues, i) }

// Critical counts critical issues.
func (r *Report) Critical() int {
	n := 0
	for _, i := range r.Issues {
		if i.Severity == SeverityCritical {
			n++
		}
	}
	return n
}
