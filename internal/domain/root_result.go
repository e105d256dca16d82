package domain

import "github.com/cladelabs/rootckpt/internal/codec"

// RootResult records one completed root candidate evaluation. One record is
// appended to the checkpoint per finished unit of work; records are never
// mutated or removed individually, only bulk-rewritten during compaction.
type RootResult struct {
	// RootID is the unique, stable identifier of the evaluated candidate.
	RootID uint64

	// LWR is the likelihood weight ratio of this root placement.
	LWR float64

	// LogLikelihood is the final optimized log-likelihood.
	LogLikelihood float64

	// Alpha is the optimized rate-heterogeneity shape parameter.
	Alpha float64
}

// RootResultSize is the encoded size of a RootResult in bytes. All fields
// are fixed-width, so a body record that decodes to a different size is
// corrupt.
const RootResultSize = 4 * 8

// EncodeTo writes every field in the fixed format order.
func (r *RootResult) EncodeTo(e *codec.Encoder) {
	e.Uint64(r.RootID)
	e.Float64(r.LWR)
	e.Float64(r.LogLikelihood)
	e.Float64(r.Alpha)
}

// DecodeFrom reads every field in the same order as EncodeTo.
func (r *RootResult) DecodeFrom(d *codec.Decoder) {
	r.RootID = d.Uint64()
	r.LWR = d.Float64()
	r.LogLikelihood = d.Float64()
	r.Alpha = d.Float64()
}
