package compress

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// lz77 is back-reference substitution through S2.
type lz77 struct{}

// NewLZ77 returns the S2-backed lz77 strategy.
func NewLZ77() Strategy { return lz77{} }

func (lz77) Name() string { return AlgorithmLZ77 }

func (lz77) Compress(src []byte) (Block, error) {
	return Block{
		Type:           AlgorithmLZ77,
		Data:           s2.EncodeBetter(nil, src),
		OriginalLength: len(src),
	}, nil
}

func (lz77) Decompress(b Block) ([]byte, error) {
	return s2.Decode(nil, b.Data)
}

// dictionary is DEFLATE primed with a preset dictionary of the structural
// tokens that recur in stored collections.
type dictionary struct {
	level int
}

// NewDictionary returns the preset-dictionary DEFLATE strategy.
func NewDictionary() Strategy { return dictionary{level: flate.BestCompression} }

func (dictionary) Name() string { return AlgorithmDictionary }

func (d dictionary) Compress(src []byte) (Block, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriterDict(&buf, d.level, presetDicts[currentDict])
	if err != nil {
		return Block{}, err
	}
	if _, err := w.Write(src); err != nil {
		return Block{}, err
	}
	if err := w.Close(); err != nil {
		return Block{}, err
	}
	return Block{
		Type:           AlgorithmDictionary,
		Data:           buf.Bytes(),
		OriginalLength: len(src),
		Params:         map[string]string{"dict": currentDict},
	}, nil
}

func (dictionary) Decompress(b Block) ([]byte, error) {
	name := b.Params["dict"]
	if name == "" {
		name = currentDict
	}
	dict, ok := presetDicts[name]
	if !ok {
		return nil, fmt.Errorf("unknown dictionary %q", name)
	}
	r := flate.NewReaderDict(bytes.NewReader(b.Data), dict)
	defer r.Close()
	return io.ReadAll(r)
}

// patterns extracts long repeated substrings through zstd at its
// strongest setting.
type patterns struct {
	once sync.Once
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	err  error
}

// NewPatterns returns the zstd-backed patterns strategy.
func NewPatterns() Strategy { return &patterns{} }

func (*patterns) Name() string { return AlgorithmPatterns }

func (p *patterns) init() error {
	p.once.Do(func() {
		p.enc, p.err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if p.err != nil {
			return
		}
		p.dec, p.err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return p.err
}

func (p *patterns) Compress(src []byte) (Block, error) {
	if err := p.init(); err != nil {
		return Block{}, err
	}
	return Block{
		Type:           AlgorithmPatterns,
		Data:           p.enc.EncodeAll(src, nil),
		OriginalLength: len(src),
	}, nil
}

func (p *patterns) Decompress(b Block) ([]byte, error) {
	if err := p.init(); err != nil {
		return nil, err
	}
	return p.dec.DecodeAll(b.Data, nil)
}

// snappyLegacy decodes blocks written with the Snappy block format, which
// is what any untagged or retired tag falls back to.
type snappyLegacy struct{}

func (snappyLegacy) Name() string { return AlgorithmLegacy }

func (snappyLegacy) Compress(src []byte) (Block, error) {
	return Block{Type: AlgorithmLegacy, Data: snappy.Encode(nil, src), OriginalLength: len(src)}, nil
}

func (snappyLegacy) Decompress(b Block) ([]byte, error) {
	return snappy.Decode(nil, b.Data)
}
