package domain

import "github.com/cladelabs/rootckpt/internal/codec"

// DataType identifies the sequence alphabet of the input alignment.
// Stored on disk as its underlying integer.
type DataType uint64

const (
	DataTypeDNA DataType = iota
	DataTypeAA
)

// RateCategoryType selects how per-category rates are represented.
type RateCategoryType uint64

const (
	RateCategoryMedian RateCategoryType = iota
	RateCategoryMean
	RateCategoryFree
)

// RunOptions is the configuration snapshot persisted as the checkpoint
// header. It is written exactly once per file, before any result record,
// and is immutable once written: on resume the stored copy wins over any
// freshly supplied one.
//
// The encode order below is the on-disk format. Do not reorder fields
// without a format migration.
type RunOptions struct {
	MSAFile       string
	TreeFile      string
	Prefix        string
	ModelFile     string
	FreqsFile     string
	PartitionFile string

	DataType    DataType
	ModelString string

	RateCategories   uint64
	RateCategoryType RateCategoryType

	Seed     uint64
	MinRoots uint64
	Threads  uint64

	RootRatio    float64
	AbsTolerance float64
	Factor       float64
	BrTolerance  float64
	BFGSTol      float64

	Silent         bool
	Exhaustive     bool
	Echo           bool
	InvariantSites bool
	EarlyStop      bool
}

// EncodeTo writes every field in the fixed format order.
func (o *RunOptions) EncodeTo(e *codec.Encoder) {
	e.String(o.MSAFile)
	e.String(o.TreeFile)
	e.String(o.Prefix)
	e.String(o.ModelFile)
	e.String(o.FreqsFile)
	e.String(o.PartitionFile)
	e.Uint64(uint64(o.DataType))
	e.String(o.ModelString)
	e.Uint64(o.RateCategories)
	e.Uint64(uint64(o.RateCategoryType))
	e.Uint64(o.Seed)
	e.Uint64(o.MinRoots)
	e.Uint64(o.Threads)
	e.Float64(o.RootRatio)
	e.Float64(o.AbsTolerance)
	e.Float64(o.Factor)
	e.Float64(o.BrTolerance)
	e.Float64(o.BFGSTol)
	e.Bool(o.Silent)
	e.Bool(o.Exhaustive)
	e.Bool(o.Echo)
	e.Bool(o.InvariantSites)
	e.Bool(o.EarlyStop)
}

// DecodeFrom reads every field in the same order as EncodeTo.
func (o *RunOptions) DecodeFrom(d *codec.Decoder) {
	o.MSAFile = d.String()
	o.TreeFile = d.String()
	o.Prefix = d.String()
	o.ModelFile = d.String()
	o.FreqsFile = d.String()
	o.PartitionFile = d.String()
	o.DataType = DataType(d.Uint64())
	o.ModelString = d.String()
	o.RateCategories = d.Uint64()
	o.RateCategoryType = RateCategoryType(d.Uint64())
	o.Seed = d.Uint64()
	o.MinRoots = d.Uint64()
	o.Threads = d.Uint64()
	o.RootRatio = d.Float64()
	o.AbsTolerance = d.Float64()
	o.Factor = d.Float64()
	o.BrTolerance = d.Float64()
	o.BFGSTol = d.Float64()
	o.Silent = d.Bool()
	o.Exhaustive = d.Bool()
	o.Echo = d.Bool()
	o.InvariantSites = d.Bool()
	o.EarlyStop = d.Bool()
}
