package rag

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
)

// SparseEncoder converts text into a hashed term-frequency sparse vector for
// the keyword half of hybrid search. Tokens are lowercased word characters;
// each token hashes to a sparse dimension and its weight is log-scaled term
// frequency. Encoding is deterministic, so the same text always produces the
// same vector on both the ingestion and query paths.
type SparseEncoder struct{}

// NewSparseEncoder constructs a SparseEncoder.
func NewSparseEncoder() *SparseEncoder {
	return &SparseEncoder{}
}

// Encode converts text into a SparseVector. Empty or token-free text yields
// a zero-length vector.
func (e *SparseEncoder) Encode(text string) SparseVector {
	counts := make(map[uint32]int)
	for _, tok := range tokenize(text) {
		counts[hashToken(tok)]++
	}
	if len(counts) == 0 {
		return SparseVector{}
	}

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		// 1 + ln(tf) dampens repeated terms without discarding them.
		values[i] = float32(1 + math.Log(float64(counts[idx])))
	}

	return SparseVector{Indices: indices, Values: values}
}

// tokenize lowercases text and splits it on any non-letter/digit rune.
// Single-rune fragments are dropped as noise.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	toks := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			toks = append(toks, f)
		}
	}
	return toks
}

// hashToken maps a token to a sparse dimension index.
func hashToken(tok string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(tok))
	return h.Sum32()
}
