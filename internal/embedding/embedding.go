// Package embedding defines the text embedding contract and the vector
// helpers shared by the router and the stores.
package embedding

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrEmpty is returned by an Embedder given blank input.
var ErrEmpty = errors.New("embedding: empty input")

// ServiceName is the service registry key of the configured Embedder.
const ServiceName = "embedding.embedder"

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Func adapts a function to Embedder.
type Func func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f Func) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// Cosine returns the cosine similarity of a and b. Vectors of different
// length, or with a zero magnitude, score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Encode packs v as little-endian float32s.
func Encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// Decode unpacks a blob written by Encode.
func Decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding: blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// Float64s widens v, the form graph drivers expect.
func Float64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// Float32s narrows v.
func Float32s(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
