package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage"
	"github.com/yndnr/keepstore/internal/telemetry/metric"
)

// Phase names a maintenance phase.
type Phase string

const (
	PhaseAnalyze        Phase = "analyze"
	PhaseCleanup        Phase = "cleanup"
	PhaseRecompress     Phase = "recompress"
	PhaseDefragment     Phase = "defragment"
	PhaseRebuildIndices Phase = "rebuild_indices"
)

// Phases lists every phase in run order.
var Phases = []Phase{PhaseAnalyze, PhaseCleanup, PhaseRecompress, PhaseDefragment, PhaseRebuildIndices}

// Defaults.
const (
	DefaultStateKey          = "maintenance:state"
	DefaultMaxAge            = 30 * 24 * time.Hour
	DefaultRecompressMinSize = 4 << 10
	DefaultPoorRatio         = 0.8
	DefaultChunkSize         = 20
	DefaultRewritesPerSecond = 100
)

// Store is the subset of the storage engine the optimizer needs.
type Store interface {
	Entries(ctx context.Context) ([]storage.EntryInfo, error)
	Remove(ctx context.Context, key string) error
	Rewrite(ctx context.Context, key string) (storage.SaveResult, error)
	Compact(ctx context.Context) (uint64, error)
	Save(ctx context.Context, key string, v any) (storage.SaveResult, error)
	Load(ctx context.Context, key string, dst any) (storage.LoadResult, error)
}

// RebuildFunc rebuilds in-memory indices.
type RebuildFunc func(ctx context.Context) error

// Progress is passed to the progress callback.
type Progress struct {
	Phase Phase `json:"phase"`
	Done  int   `json:"done"`
	Total int   `json:"total"`
}

// Optimizer runs maintenance passes over a store.
type Optimizer struct {
	store             Store
	rebuild           RebuildFunc
	logger            *slog.Logger
	metrics           *metric.Registry
	stateKey          string
	maxAge            time.Duration
	recompressMinSize int
	poorRatio         float64
	chunkSize         int
	limiter           *rate.Limiter
	pinned            map[string]struct{}
	protected         []string
	progress          func(Progress)
	now               func() time.Time
}

// Option configures the Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metric registry.
func WithMetrics(m *metric.Registry) Option {
	return func(o *Optimizer) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithStateKey sets the key progress is persisted under.
func WithStateKey(key string) Option {
	return func(o *Optimizer) {
		if key != "" {
			o.stateKey = key
		}
	}
}

// WithMaxAge sets the age past which entries are expired.
func WithMaxAge(d time.Duration) Option {
	return func(o *Optimizer) {
		if d > 0 {
			o.maxAge = d
		}
	}
}

// WithRecompress sets the size threshold and the ratio above which an
// entry counts as poorly compressed.
func WithRecompress(minSize int, poorRatio float64) Option {
	return func(o *Optimizer) {
		if minSize > 0 {
			o.recompressMinSize = minSize
		}
		if poorRatio > 0 && poorRatio <= 1 {
			o.poorRatio = poorRatio
		}
	}
}

// WithChunkSize sets how many rewrites are throttled together.
func WithChunkSize(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithRewriteRate limits rewrites per second. Zero or less disables the
// limit.
func WithRewriteRate(perSecond float64) Option {
	return func(o *Optimizer) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithPinned protects keys from removal and rewrites.
func WithPinned(keys ...string) Option {
	return func(o *Optimizer) {
		for _, k := range keys {
			o.pinned[k] = struct{}{}
		}
	}
}

// WithProtectedPrefixes protects keys with the given prefixes from removal.
// They are still recompressed and defragmented.
func WithProtectedPrefixes(prefixes ...string) Option {
	return func(o *Optimizer) {
		o.protected = append(o.protected, prefixes...)
	}
}

// WithRebuild sets the index rebuild function.
func WithRebuild(fn RebuildFunc) Option {
	return func(o *Optimizer) {
		o.rebuild = fn
	}
}

// WithProgress sets the progress callback.
func WithProgress(fn func(Progress)) Option {
	return func(o *Optimizer) {
		o.progress = fn
	}
}

// New creates an optimizer.
func New(store Store, opts ...Option) *Optimizer {
	o := &Optimizer{
		store:             store,
		logger:            slog.Default(),
		stateKey:          DefaultStateKey,
		maxAge:            DefaultMaxAge,
		recompressMinSize: DefaultRecompressMinSize,
		poorRatio:         DefaultPoorRatio,
		chunkSize:         DefaultChunkSize,
		limiter:           rate.NewLimiter(rate.Limit(DefaultRewritesPerSecond), 1),
		pinned:            make(map[string]struct{}),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metric.NewRegistry()
	}
	if o.limiter != nil && o.limiter.Burst() < o.chunkSize {
		o.limiter.SetBurst(o.chunkSize)
	}
	o.logger = o.logger.With("component", "maintenance")
	o.pinned[o.stateKey] = struct{}{}
	return o
}

// StateKey returns the key progress is persisted under.
func (o *Optimizer) StateKey() string { return o.stateKey }

// PhaseReport describes one completed phase.
type PhaseReport struct {
	Phase          Phase         `json:"phase" yaml:"phase"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
	Processed      int           `json:"processed" yaml:"processed"`
	Removed        int           `json:"removed,omitempty" yaml:"removed,omitempty"`
	Rewritten      int           `json:"rewritten,omitempty" yaml:"rewritten,omitempty"`
	BytesReclaimed int64         `json:"bytesReclaimed" yaml:"bytesReclaimed" table:"bytes"`
}

// State is persisted between phases.
type State struct {
	RunID     string        `json:"runId" yaml:"runId"`
	StartedAt int64         `json:"startedAt" yaml:"startedAt"`
	Completed []Phase       `json:"completed" yaml:"completed"`
	Reports   []PhaseReport `json:"reports" yaml:"reports"`
	Analysis  *Analysis     `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Finished  bool          `json:"finished" yaml:"finished"`
}

func (s *State) done(p Phase) bool { return slices.Contains(s.Completed, p) }

// Report is the outcome of Run.
type Report struct {
	RunID          string        `json:"runId" yaml:"runId"`
	Resumed        bool          `json:"resumed" yaml:"resumed"`
	Phases         []PhaseReport `json:"phases" yaml:"phases"`
	Analysis       *Analysis     `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	BytesReclaimed int64         `json:"bytesReclaimed" yaml:"bytesReclaimed" table:"bytes"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
}

// Run executes every phase not yet completed by the current run, or starts
// a new run when the last one finished.
func (o *Optimizer) Run(ctx context.Context) (Report, error) {
	started := time.Now()

	st, resumed, err := o.begin(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{RunID: st.RunID, Resumed: resumed}
	if resumed {
		o.logger.Info("resuming maintenance run", "run_id", st.RunID, "completed", st.Completed)
	}

	for _, p := range Phases {
		if st.done(p) {
			continue
		}
		pr, err := o.runPhase(ctx, p, st)
		if err != nil {
			rep.Phases = st.Reports
			rep.Analysis = st.Analysis
			return rep, fmt.Errorf("maintenance phase %s: %w", p, err)
		}

		st.Completed = append(st.Completed, p)
		st.Reports = append(st.Reports, pr)
		if err := o.saveState(ctx, st); err != nil {
			return rep, err
		}

		o.metrics.MaintenancePhase.WithLabelValues(string(p)).Observe(pr.Duration.Seconds())
		if pr.BytesReclaimed > 0 {
			o.metrics.MaintenanceReclaimed.Add(float64(pr.BytesReclaimed))
		}
		o.logger.Info("maintenance phase finished", "phase", p, "duration", pr.Duration,
			"processed", pr.Processed, "bytes_reclaimed", pr.BytesReclaimed)
	}

	st.Finished = true
	if err := o.saveState(ctx, st); err != nil {
		return rep, err
	}

	rep.Phases = st.Reports
	rep.Analysis = st.Analysis
	for _, pr := range st.Reports {
		rep.BytesReclaimed += pr.BytesReclaimed
	}
	rep.Duration = time.Since(started)
	return rep, nil
}

// RunPhase runs a single phase outside of the resumable sequence.
func (o *Optimizer) RunPhase(ctx context.Context, p Phase) (PhaseReport, error) {
	if !slices.Contains(Phases, p) {
		return PhaseReport{}, fmt.Errorf("unknown phase %q", p)
	}
	st := &State{}
	return o.runPhase(ctx, p, st)
}

// LoadState returns the persisted state, or nil when there is none.
func (o *Optimizer) LoadState(ctx context.Context) (*State, error) {
	var st State
	_, err := o.store.Load(ctx, o.stateKey, &st)
	switch {
	case err == nil:
		return &st, nil
	case errors.Is(err, domain.ErrNotFound):
		return nil, nil
	case errors.Is(err, domain.ErrParse), errors.Is(err, domain.ErrDecompression):
		o.logger.Warn("maintenance state unreadable, starting over", "error", err)
		return nil, nil
	default:
		return nil, err
	}
}

// Reset discards the persisted state.
func (o *Optimizer) Reset(ctx context.Context) error {
	return o.store.Remove(ctx, o.stateKey)
}

func (o *Optimizer) begin(ctx context.Context) (*State, bool, error) {
	st, err := o.LoadState(ctx)
	if err != nil {
		return nil, false, err
	}
	if st != nil && !st.Finished && st.RunID != "" {
		return st, true, nil
	}

	now := o.now()
	st = &State{
		RunID:     ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		StartedAt: now.UnixMilli(),
	}
	return st, false, o.saveState(ctx, st)
}

func (o *Optimizer) saveState(ctx context.Context, st *State) error {
	if _, err := o.store.Save(ctx, o.stateKey, st); err != nil {
		return fmt.Errorf("save maintenance state: %w", err)
	}
	return nil
}

func (o *Optimizer) runPhase(ctx context.Context, p Phase, st *State) (PhaseReport, error) {
	started := time.Now()
	var (
		pr  PhaseReport
		err error
	)
	switch p {
	case PhaseAnalyze:
		var a Analysis
		a, err = o.analyze(ctx)
		if err == nil {
			st.Analysis = &a
			pr.Processed = a.Total
		}
	case PhaseCleanup:
		pr, err = o.cleanup(ctx)
	case PhaseRecompress:
		pr, err = o.recompress(ctx)
	case PhaseDefragment:
		pr, err = o.defragment(ctx)
	case PhaseRebuildIndices:
		if o.rebuild != nil {
			err = o.rebuild(ctx)
		}
		o.report(p, 1, 1)
	}
	pr.Phase = p
	pr.Duration = time.Since(started)
	return pr, err
}

func (o *Optimizer) report(p Phase, done, total int) {
	if o.progress != nil {
		o.progress(Progress{Phase: p, Done: done, Total: total})
	}
}

func (o *Optimizer) isPinned(key string) bool {
	_, ok := o.pinned[key]
	return ok
}

func (o *Optimizer) isProtected(key string) bool {
	if o.isPinned(key) {
		return true
	}
	for _, p := range o.protected {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// throttle waits for n rewrites worth of budget.
func (o *Optimizer) throttle(ctx context.Context, n int) error {
	if o.limiter == nil || n <= 0 {
		return nil
	}
	return o.limiter.WaitN(ctx, min(n, o.limiter.Burst()))
}
