package compress

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCollection(n int) []byte {
	var sb strings.Builder
	sb.WriteString("[")
	for i := range n {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"id":%d,"name":"Employee %d","department":"Tech","position":"Eng","status":"active",`+
			`"persistenceMeta":{"source":"manual","createdAt":1700000000000,"lastModified":1700000000000,"syncStatus":"local"}}`,
			1700000000000000+i, i)
	}
	sb.WriteString("]")
	return []byte(sb.String())
}

func TestStrategies_RoundTrip(t *testing.T) {
	payload := sampleCollection(50)

	for _, st := range []Strategy{NewLZ77(), NewDictionary(), NewPatterns(), snappyLegacy{}} {
		t.Run(st.Name(), func(t *testing.T) {
			b, err := st.Compress(payload)
			require.NoError(t, err)
			assert.Equal(t, st.Name(), b.Type)
			assert.Equal(t, len(payload), b.OriginalLength)
			assert.Less(t, len(b.Data), len(payload))

			out, err := st.Decompress(b)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestEngine_RepetitiveString(t *testing.T) {
	payload := []byte(strings.Repeat("abcdefghij", 1000))
	e := New()

	res := e.Compress(payload)
	require.True(t, res.Applied())
	assert.Less(t, float64(res.CompressedSize), 0.8*float64(len(payload)))
	assert.Less(t, res.Ratio(), 0.8)
	assert.Contains(t, e.Algorithms(), res.Algorithm)

	out, err := e.Decompress(*res.Block)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestEngine_PicksSmallest(t *testing.T) {
	payload := sampleCollection(200)
	e := New()
	res := e.Compress(payload)
	require.True(t, res.Applied())

	for _, st := range []Strategy{NewLZ77(), NewDictionary(), NewPatterns()} {
		b, err := st.Compress(payload)
		require.NoError(t, err)
		assert.LessOrEqual(t, res.CompressedSize, b.EncodedSize(), st.Name())
	}
}

func TestEngine_SkipsSmallPayload(t *testing.T) {
	e := New(WithMinSize(1024))
	res := e.Compress([]byte(strings.Repeat("a", 1000)))
	assert.False(t, res.Applied())
	assert.Equal(t, AlgorithmNone, res.Algorithm)
	assert.Equal(t, 1.0, res.Ratio())
}

func TestEngine_SkipsIncompressible(t *testing.T) {
	payload := make([]byte, 8192)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	res := New().Compress(payload)
	assert.False(t, res.Applied())
	assert.Equal(t, len(payload), res.CompressedSize)
}

func TestEngine_GainThreshold(t *testing.T) {
	payload := sampleCollection(20)
	strict := New(WithMinGain(0.999))
	assert.False(t, strict.Compress(payload).Applied())
}

func TestEngine_LegacyFallback(t *testing.T) {
	payload := []byte(strings.Repeat("legacy ", 300))
	b := Block{Type: "rle-v0", Data: snappy.Encode(nil, payload), OriginalLength: len(payload)}

	out, err := New().Decompress(b)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestEngine_DecompressErrors(t *testing.T) {
	e := New()
	tests := []struct {
		name  string
		block Block
	}{
		{"corrupt lz77", Block{Type: AlgorithmLZ77, Data: []byte("garbage"), OriginalLength: 10}},
		{"corrupt patterns", Block{Type: AlgorithmPatterns, Data: []byte("garbage")}},
		{"unknown dictionary", Block{Type: AlgorithmDictionary, Data: []byte{0}, Params: map[string]string{"dict": "v9"}}},
		{"corrupt legacy", Block{Type: "mystery", Data: []byte{0xff, 0xff, 0xff}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Decompress(tt.block)
			assert.ErrorIs(t, err, ErrDecompression)
		})
	}
}

func TestEngine_LengthMismatch(t *testing.T) {
	payload := []byte(strings.Repeat("x", 2000))
	b, err := NewLZ77().Compress(payload)
	require.NoError(t, err)
	b.OriginalLength = 1999

	_, err = New().Decompress(b)
	assert.ErrorIs(t, err, ErrDecompression)
}

func TestBlock_JSONUsesBase64(t *testing.T) {
	b := Block{Type: AlgorithmLZ77, Data: []byte{1, 2, 3}, OriginalLength: 3}
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"lz77","data":"AQID","originalLength":3}`, string(raw))
	assert.Equal(t, len(raw), b.EncodedSize())
}
