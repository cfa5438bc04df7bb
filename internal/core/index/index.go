package index

import (
	"slices"
	"strings"

	"github.com/yndnr/keepstore/internal/core/domain"
)

// DefaultFields are the fields indexed by Build.
var DefaultFields = []string{"name", "department", "position", "status"}

// Index maps field values to record positions.
type Index struct {
	generation uint64
	size       int
	fields     map[string]map[string][]int
}

// Build indexes records over fields, or DefaultFields when none are given.
func Build(records []domain.Employee, generation uint64, fields ...string) *Index {
	if len(fields) == 0 {
		fields = DefaultFields
	}

	idx := &Index{
		generation: generation,
		size:       len(records),
		fields:     make(map[string]map[string][]int, len(fields)),
	}
	for _, f := range fields {
		idx.fields[f] = make(map[string][]int)
	}

	for pos := range records {
		for _, f := range fields {
			v := normalize(records[pos].Field(f))
			if v == "" {
				continue
			}
			idx.fields[f][v] = append(idx.fields[f][v], pos)
		}
	}
	return idx
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Generation returns the collection generation the index was built from.
func (i *Index) Generation() uint64 { return i.generation }

// Size returns the number of records indexed.
func (i *Index) Size() int { return i.size }

// Fields returns the indexed fields, sorted.
func (i *Index) Fields() []string {
	out := make([]string, 0, len(i.fields))
	for f := range i.fields {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Has reports whether field is indexed.
func (i *Index) Has(field string) bool {
	_, ok := i.fields[field]
	return ok
}

// Values returns the number of distinct values of field.
func (i *Index) Values(field string) int {
	return len(i.fields[field])
}

// Lookup returns the ascending positions of records whose field equals
// value, ignoring case. The result must not be modified.
func (i *Index) Lookup(field, value string) []int {
	m, ok := i.fields[field]
	if !ok {
		return nil
	}
	return m[normalize(value)]
}

// Intersect returns the positions matching every filter. ok is false when
// a filter names a field that is not indexed; the caller should scan.
func (i *Index) Intersect(filters map[string]string) (positions []int, ok bool) {
	if len(filters) == 0 {
		return nil, false
	}

	// start from the shortest list
	lists := make([][]int, 0, len(filters))
	for f, v := range filters {
		if !i.Has(f) {
			return nil, false
		}
		l := i.Lookup(f, v)
		if len(l) == 0 {
			return []int{}, true
		}
		lists = append(lists, l)
	}
	slices.SortFunc(lists, func(a, b []int) int { return len(a) - len(b) })

	out := slices.Clone(lists[0])
	for _, l := range lists[1:] {
		out = intersectSorted(out, l)
		if len(out) == 0 {
			break
		}
	}
	return out, true
}

// intersectSorted intersects two ascending lists into a, reusing its
// backing array.
func intersectSorted(a, b []int) []int {
	out := a[:0]
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}
