package compress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Algorithm tags.
const (
	AlgorithmNone       = "none"
	AlgorithmLZ77       = "lz77"
	AlgorithmDictionary = "dictionary"
	AlgorithmPatterns   = "patterns"
	AlgorithmLegacy     = "legacy"
)

// Defaults.
const (
	DefaultMinSize = 1024
	DefaultMinGain = 0.2
)

// ErrDecompression is returned when a block cannot be restored.
var ErrDecompression = errors.New("compress: decompression failed")

// Block is a compressed payload as stored inside an envelope.
type Block struct {
	Type           string            `json:"type"`
	Data           []byte            `json:"data"`
	OriginalLength int               `json:"originalLength"`
	Params         map[string]string `json:"params,omitempty"`
}

// EncodedSize is the size of the block once serialized into an envelope.
func (b Block) EncodedSize() int {
	raw, err := json.Marshal(b)
	if err != nil {
		return len(b.Data)
	}
	return len(raw)
}

// Strategy is one compression algorithm.
type Strategy interface {
	Name() string
	Compress(src []byte) (Block, error)
	Decompress(b Block) ([]byte, error)
}

// Result describes the outcome of Engine.Compress.
type Result struct {
	// Block is nil when compression was not applied.
	Block          *Block
	Algorithm      string
	OriginalSize   int
	CompressedSize int
}

// Applied reports whether the payload was compressed.
func (r Result) Applied() bool { return r.Block != nil }

// Ratio is CompressedSize/OriginalSize, or 1 when nothing was applied.
func (r Result) Ratio() float64 {
	if !r.Applied() || r.OriginalSize == 0 {
		return 1
	}
	return float64(r.CompressedSize) / float64(r.OriginalSize)
}

// Engine picks among strategies.
type Engine struct {
	strategies map[string]Strategy
	order      []string
	legacy     Strategy
	minSize    int
	minGain    float64
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMinSize sets the payload size below which compression is skipped.
func WithMinSize(n int) Option {
	return func(e *Engine) { e.minSize = n }
}

// WithMinGain sets the fraction of the original size a candidate must save.
func WithMinGain(g float64) Option {
	return func(e *Engine) { e.minGain = g }
}

// WithStrategies replaces the default strategy set.
func WithStrategies(s ...Strategy) Option {
	return func(e *Engine) {
		e.strategies = make(map[string]Strategy, len(s))
		e.order = e.order[:0]
		for _, st := range s {
			e.strategies[st.Name()] = st
			e.order = append(e.order, st.Name())
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine with the lz77, dictionary and patterns strategies.
func New(opts ...Option) *Engine {
	e := &Engine{
		legacy:  snappyLegacy{},
		minSize: DefaultMinSize,
		minGain: DefaultMinGain,
		logger:  slog.Default(),
	}
	WithStrategies(NewLZ77(), NewDictionary(), NewPatterns())(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compress returns the smallest verified candidate, or a result with no
// block when the payload is too small or no candidate saves enough.
func (e *Engine) Compress(payload []byte) Result {
	res := Result{Algorithm: AlgorithmNone, OriginalSize: len(payload), CompressedSize: len(payload)}
	if len(payload) < e.minSize {
		return res
	}

	limit := float64(len(payload)) * (1 - e.minGain)
	var best *Block
	bestSize := 0

	for _, name := range e.order {
		st := e.strategies[name]
		b, err := st.Compress(payload)
		if err != nil {
			e.logger.Debug("compression candidate failed", "algorithm", name, "error", err)
			continue
		}
		out, err := st.Decompress(b)
		if err != nil || !bytes.Equal(out, payload) {
			e.logger.Warn("compression candidate is not reversible", "algorithm", name)
			continue
		}
		size := b.EncodedSize()
		if best == nil || size < bestSize {
			best, bestSize = &b, size
		}
	}

	if best == nil || float64(bestSize) > limit {
		return res
	}

	res.Block = best
	res.Algorithm = best.Type
	res.CompressedSize = bestSize
	return res
}

// Decompress restores a block. Unknown tags fall through to the legacy
// decoder.
func (e *Engine) Decompress(b Block) ([]byte, error) {
	st, ok := e.strategies[b.Type]
	if !ok {
		st = e.legacy
	}

	out, err := st.Decompress(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecompression, b.Type, err)
	}
	if b.OriginalLength > 0 && len(out) != b.OriginalLength {
		return nil, fmt.Errorf("%w: %s: length %d, want %d", ErrDecompression, b.Type, len(out), b.OriginalLength)
	}
	return out, nil
}

// Algorithms lists the registered strategy names in evaluation order.
func (e *Engine) Algorithms() []string {
	return append([]string(nil), e.order...)
}
