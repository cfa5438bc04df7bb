package service

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/core/index"
)

// Fuzzy scoring weights.
const (
	weightName       = 10
	weightDepartment = 5
	weightPosition   = 5
	weightEmail      = 3
	weightSkills     = 2

	// maxNameDistance is the largest edit distance that earns a bonus of
	// maxNameDistance+1-d.
	maxNameDistance = 2
)

// Pagination defaults.
const (
	DefaultPageSize = 20
	MaxPageSize     = 1000
)

// SearchOptions configures Search.
type SearchOptions struct {
	// Keyword is matched case-insensitively as a substring.
	Keyword string

	// Filters require exact, case-insensitive field matches.
	Filters map[string]string

	// Limit caps the result size; zero means no limit.
	Limit int

	// Fuzzy scores matches and sorts by score.
	Fuzzy bool

	// SortBy names a field to sort by when not fuzzy. Desc reverses it.
	SortBy string
	Desc   bool
}

// Search returns the records matching opts.
func (s *RecordStore) Search(ctx context.Context, opts SearchOptions) ([]domain.Employee, error) {
	records, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	// 1. Narrow by filters, through the index when every field is indexed
	candidates := records
	if len(opts.Filters) > 0 {
		candidates = s.filter(records, opts.Filters)
	}

	// 2. Keyword
	keyword := strings.ToLower(strings.TrimSpace(opts.Keyword))
	var out []domain.Employee
	switch {
	case keyword == "":
		out = candidates
	case opts.Fuzzy:
		out = fuzzyRank(candidates, keyword)
	default:
		for _, r := range candidates {
			if containsKeyword(r, keyword) {
				out = append(out, r)
			}
		}
	}

	// 3. Order and truncate
	if !opts.Fuzzy || keyword == "" {
		if opts.SortBy != "" {
			sortByField(out, opts.SortBy, opts.Desc)
		}
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	if out == nil {
		out = []domain.Employee{}
	}
	return out, nil
}

func (s *RecordStore) filter(records []domain.Employee, filters map[string]string) []domain.Employee {
	idx := s.currentIndex(records)
	if positions, ok := idx.Intersect(filters); ok {
		out := make([]domain.Employee, 0, len(positions))
		for _, p := range positions {
			out = append(out, records[p])
		}
		return out
	}

	var out []domain.Employee
	for _, r := range records {
		match := true
		for f, v := range filters {
			if !strings.EqualFold(strings.TrimSpace(r.Field(f)), strings.TrimSpace(v)) {
				match = false
				break
			}
		}
		if match {
			out = append(out, r)
		}
	}
	return out
}

// currentIndex returns an index over records, rebuilding it when the
// collection generation moved on.
func (s *RecordStore) currentIndex(records []domain.Employee) *index.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx != nil && s.idx.Generation() == s.generation && s.idx.Size() == len(records) {
		return s.idx
	}
	s.idx = index.Build(records, s.generation)
	return s.idx
}

// IndexStats describes a rebuilt index.
type IndexStats struct {
	Generation uint64         `json:"generation" yaml:"generation"`
	Records    int            `json:"records" yaml:"records"`
	Values     map[string]int `json:"values" yaml:"values"`
}

// RebuildIndex rebuilds the search index from storage.
func (s *RecordStore) RebuildIndex(ctx context.Context) (IndexStats, error) {
	s.Invalidate()
	records, err := s.load(ctx)
	if err != nil {
		return IndexStats{}, err
	}

	s.mu.Lock()
	s.idx = index.Build(records, s.generation)
	idx := s.idx
	s.mu.Unlock()

	st := IndexStats{Generation: idx.Generation(), Records: idx.Size(), Values: map[string]int{}}
	for _, f := range idx.Fields() {
		st.Values[f] = idx.Values(f)
	}
	s.logger.Debug("search index rebuilt", "generation", st.Generation, "records", st.Records)
	return st, nil
}

func containsKeyword(r domain.Employee, keyword string) bool {
	for _, f := range domain.SearchableFields {
		if strings.Contains(strings.ToLower(r.Field(f)), keyword) {
			return true
		}
	}
	for _, sk := range r.Skills {
		if strings.Contains(strings.ToLower(sk), keyword) {
			return true
		}
	}
	return false
}

type scored struct {
	rec   domain.Employee
	score int
}

// fuzzyRank scores records against keyword and returns those with a
// positive score, best first.
func fuzzyRank(records []domain.Employee, keyword string) []domain.Employee {
	var hits []scored
	for _, r := range records {
		if sc := fuzzyScore(r, keyword); sc > 0 {
			hits = append(hits, scored{rec: r, score: sc})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return cmp.Compare(b.score, a.score) })

	out := make([]domain.Employee, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out
}

func fuzzyScore(r domain.Employee, keyword string) int {
	score := 0
	name := strings.ToLower(r.Name)
	if strings.Contains(name, keyword) {
		score += weightName
	}
	if strings.Contains(strings.ToLower(r.Department), keyword) {
		score += weightDepartment
	}
	if strings.Contains(strings.ToLower(r.Position), keyword) {
		score += weightPosition
	}
	if strings.Contains(strings.ToLower(r.Email), keyword) {
		score += weightEmail
	}
	if slices.ContainsFunc(r.Skills, func(sk string) bool {
		return strings.Contains(strings.ToLower(sk), keyword)
	}) {
		score += weightSkills
	}
	if d := levenshtein(name, keyword); d <= maxNameDistance {
		score += maxNameDistance + 1 - d
	}
	return score
}

// levenshtein returns the edit distance between a and b, in runes.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func sortByField(records []domain.Employee, field string, desc bool) {
	compare := fieldComparator(field)
	slices.SortStableFunc(records, func(a, b domain.Employee) int {
		if desc {
			return compare(b, a)
		}
		return compare(a, b)
	})
}

// fieldComparator orders records by field. id, createdAt and lastModified
// compare numerically; everything else compares case-insensitively.
func fieldComparator(field string) func(a, b domain.Employee) int {
	switch field {
	case "id":
		return func(a, b domain.Employee) int { return cmp.Compare(a.ID, b.ID) }
	case "createdAt":
		return func(a, b domain.Employee) int { return cmp.Compare(a.Meta.CreatedAt, b.Meta.CreatedAt) }
	case "lastModified":
		return func(a, b domain.Employee) int { return cmp.Compare(a.Meta.LastModified, b.Meta.LastModified) }
	default:
		return func(a, b domain.Employee) int {
			return strings.Compare(strings.ToLower(a.Field(field)), strings.ToLower(b.Field(field)))
		}
	}
}

// ============================================================================
// Pagination
// ============================================================================

// PageRequest configures Paginate.
type PageRequest struct {
	// Page is 1-based.
	Page     int
	PageSize int

	// Filter keeps records it returns true for; nil keeps everything.
	Filter func(domain.Employee) bool

	// Sort orders the filtered records; nil keeps collection order.
	Sort func(a, b domain.Employee) int
}

// Page is one window of a paginated listing.
type Page struct {
	Records    []domain.Employee `json:"records" yaml:"records"`
	Page       int               `json:"page" yaml:"page"`
	PageSize   int               `json:"pageSize" yaml:"pageSize"`
	Total      int               `json:"total" yaml:"total"`
	TotalPages int               `json:"totalPages" yaml:"totalPages"`
	HasNext    bool              `json:"hasNext" yaml:"hasNext"`
	HasPrev    bool              `json:"hasPrev" yaml:"hasPrev"`
}

// Paginate filters and sorts the collection, then returns the requested
// window. A page past the end is empty.
func (s *RecordStore) Paginate(ctx context.Context, req PageRequest) (Page, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = DefaultPageSize
	}
	req.PageSize = min(req.PageSize, MaxPageSize)

	records, err := s.load(ctx)
	if err != nil {
		return Page{}, err
	}
	if req.Filter != nil {
		records = slices.DeleteFunc(records, func(r domain.Employee) bool { return !req.Filter(r) })
	}
	if req.Sort != nil {
		slices.SortStableFunc(records, req.Sort)
	}

	total := len(records)
	p := Page{
		Page:       req.Page,
		PageSize:   req.PageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(req.PageSize))),
	}
	start := (req.Page - 1) * req.PageSize
	end := min(start+req.PageSize, total)
	if start < total {
		p.Records = records[start:end]
	} else {
		p.Records = []domain.Employee{}
	}
	p.HasNext = req.Page < p.TotalPages
	p.HasPrev = req.Page > 1
	return p, nil
}

// SortBy returns a comparator for PageRequest.Sort.
func SortBy(field string, desc bool) func(a, b domain.Employee) int {
	compare := fieldComparator(field)
	if desc {
		return func(a, b domain.Employee) int { return compare(b, a) }
	}
	return compare
}

// ============================================================================
// Statistics
// ============================================================================

// Stats summarizes the collection.
type Stats struct {
	Total        int            `json:"total" yaml:"total"`
	ByDepartment map[string]int `json:"byDepartment" yaml:"byDepartment"`
	ByStatus     map[string]int `json:"byStatus" yaml:"byStatus"`
	BySource     map[string]int `json:"bySource" yaml:"bySource"`
	WithEmail    int            `json:"withEmail" yaml:"withEmail"`
	LastModified int64          `json:"lastModified" yaml:"lastModified" table:"millis"`
	Generation   uint64         `json:"generation" yaml:"generation"`
	Backups      int            `json:"backups" yaml:"backups"`
	AuditEntries int            `json:"auditEntries" yaml:"auditEntries"`
}

// GetStats summarizes the collection.
func (s *RecordStore) GetStats(ctx context.Context) (Stats, error) {
	records, err := s.load(ctx)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		Total:        len(records),
		ByDepartment: map[string]int{},
		ByStatus:     map[string]int{},
		BySource:     map[string]int{},
		Generation:   s.Generation(),
	}
	for _, r := range records {
		st.ByDepartment[r.Department]++
		st.ByStatus[r.Status]++
		st.BySource[r.Meta.Source]++
		if r.Email != "" {
			st.WithEmail++
		}
		st.LastModified = max(st.LastModified, r.Meta.LastModified)
	}

	if s.backups != nil {
		list, err := s.backups.List(ctx)
		if err != nil {
			return st, err
		}
		st.Backups = len(list)
	}
	if s.audit != nil {
		st.AuditEntries = s.audit.Len()
	}
	return st, nil
}
