// Package envelope defines the versioned wrapper persisted for every value.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yndnr/keepstore/internal/storage/compress"
	"github.com/yndnr/keepstore/internal/storage/integrity"
)

// Version is the envelope format written by this package.
const Version = 1

// Errors returned by Parse and Open.
var (
	ErrMalformed = errors.New("envelope: malformed")
	ErrEmptyData = errors.New("envelope: empty data")
)

// Metadata describes the stored payload.
type Metadata struct {
	Compressed       bool    `json:"compressed"`
	Algorithm        string  `json:"algorithm"`
	Checksum         string  `json:"checksum"`
	OriginalSize     int     `json:"originalSize"`
	CompressedSize   int     `json:"compressedSize"`
	CompressionRatio float64 `json:"compressionRatio"`
}

// Envelope is the at-rest form of a value.
type Envelope struct {
	Version   int             `json:"version"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Metadata  Metadata        `json:"metadata"`
}

// WrittenAt returns Timestamp as a time.
func (e *Envelope) WrittenAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Seal wraps a JSON payload, compressing it when the engine finds a
// worthwhile candidate.
func Seal(payload []byte, now time.Time, c *compress.Engine) (*Envelope, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not JSON", ErrMalformed)
	}

	env := &Envelope{
		Version:   Version,
		Timestamp: now.UnixMilli(),
		Data:      payload,
		Metadata: Metadata{
			Algorithm:        compress.AlgorithmNone,
			Checksum:         integrity.Checksum(payload),
			OriginalSize:     len(payload),
			CompressedSize:   len(payload),
			CompressionRatio: 1,
		},
	}
	if c == nil {
		return env, nil
	}

	res := c.Compress(payload)
	if !res.Applied() {
		return env, nil
	}

	block, err := json.Marshal(res.Block)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal block: %w", err)
	}
	env.Data = block
	env.Metadata.Compressed = true
	env.Metadata.Algorithm = res.Algorithm
	env.Metadata.CompressedSize = len(block)
	env.Metadata.CompressionRatio = float64(len(block)) / float64(len(payload))
	return env, nil
}

// Parse decodes a stored envelope.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, ErrEmptyData
	}
	return &env, nil
}

// Marshal encodes the envelope for storage.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Opened is a decoded payload.
type Opened struct {
	Payload []byte
	// Intact is false when the checksum did not match.
	Intact bool
}

// Open restores the payload. A checksum mismatch is reported through
// Opened.Intact, never as an error.
func (e *Envelope) Open(c *compress.Engine) (Opened, error) {
	payload := []byte(e.Data)
	if e.Metadata.Compressed {
		var block compress.Block
		if err := json.Unmarshal(e.Data, &block); err != nil {
			return Opened{}, fmt.Errorf("%w: block: %v", compress.ErrDecompression, err)
		}
		if c == nil {
			c = compress.New()
		}
		out, err := c.Decompress(block)
		if err != nil {
			return Opened{}, err
		}
		payload = out
	}

	return Opened{
		Payload: payload,
		Intact:  integrity.Verify(payload, e.Metadata.Checksum),
	}, nil
}
