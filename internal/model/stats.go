package model

// NoOverlapRank is the percentile rank given to assets with no valid overlap.
const NoOverlapRank = -1

// ZonalResult holds the raw statistics of one footprint against one raster.
// Count is the number of valid pixels; Count == 0 means no valid overlap.
type ZonalResult struct {
	Min         NullFloat
	Max         NullFloat
	Sum         float64
	Count       int
	NodataCount int
}

// FootprintStats are the per-asset, per-service statistics in polygon mode.
type FootprintStats struct {
	Max         NullFloat
	Sum         float64
	Count       int
	NodataCount int
	Mean        NullFloat
	Flag        bool
	AdjSum      NullFloat
	// Area is the footprint area the adjusted sum was scaled by.
	Area float64
}

// Valid reports whether the footprint overlapped at least one valid pixel.
func (s FootprintStats) Valid() bool { return s.Count > 0 }

// PointSample is the per-asset, per-service raster value in point mode.
type PointSample struct {
	Value NullFloat
	Flag  bool
}

// PercentileRank is an asset's rank (0..100, or NoOverlapRank) against a
// service's global percentile boundaries.
type PercentileRank struct {
	Mean int
	Max  int
}

// GroupServiceStats is the per-service rollup for one group.
type GroupServiceStats struct {
	Sum    float64
	Mean   NullFloat
	AdjSum float64
	Area   float64
	// Assets counts members with valid data for this service.
	Assets         int
	Flags          int
	PercentFlagged NullFloat

	// Percentile cutoff counts; populated only when ranks are present.
	MeanAbove        int
	MaxAbove         int
	PercentMeanAbove NullFloat
}

// GroupAggregate is one row of the group table.
type GroupAggregate struct {
	Key                 string
	Services            map[string]GroupServiceStats
	TotalArea           float64
	TotalAssets         int
	TotalFlags          int
	PercentTotalFlagged NullFloat
}

// GroupTable is the complete group rollup.
type GroupTable struct {
	Attr        string
	Mode        Mode
	Services    []string
	Percentiles bool
	// PercentileCutoff is the rank the "above" counts compare against.
	PercentileCutoff int
	Rows             []GroupAggregate
}
