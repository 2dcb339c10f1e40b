package model

// PercentileCount is the number of global percentile boundaries per service
// (0th through 100th).
const PercentileCount = 101

// ServiceEntry is one ecosystem service layer from the service catalog.
type ServiceEntry struct {
	ID string
	// ValuePath is the raster path resolved against the catalog's directory.
	ValuePath     string
	FlagThreshold float64
	// Percentiles holds the global 0..100 percentile boundaries, nil when the
	// catalog has no percentile columns.
	Percentiles []float64
}

// ServiceCatalog is the ordered set of ecosystem service layers.
type ServiceCatalog struct {
	Path    string
	Entries []ServiceEntry
}

// IDs returns the service IDs in catalog order.
func (c *ServiceCatalog) IDs() []string {
	ids := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		ids[i] = e.ID
	}
	return ids
}

// HasPercentiles reports whether every entry carries percentile boundaries.
func (c *ServiceCatalog) HasPercentiles() bool {
	if len(c.Entries) == 0 {
		return false
	}
	for _, e := range c.Entries {
		if e.Percentiles == nil {
			return false
		}
	}
	return true
}

// BufferEntry maps an asset category to a target footprint area.
type BufferEntry struct {
	Category   string
	TargetArea float64
}

// BufferCatalog is the category → target area lookup used to buffer points.
type BufferCatalog struct {
	Path    string
	Attr    string
	Entries []BufferEntry
	index   map[string]int
}

// NewBufferCatalog indexes entries by category. Later duplicates win; the
// catalog loader rejects duplicates before this point.
func NewBufferCatalog(path, attr string, entries []BufferEntry) *BufferCatalog {
	c := &BufferCatalog{Path: path, Attr: attr, Entries: entries, index: make(map[string]int, len(entries))}
	for i, e := range entries {
		c.index[e.Category] = i
	}
	return c
}

// Lookup returns the target area for category.
func (c *BufferCatalog) Lookup(category string) (float64, bool) {
	i, ok := c.index[category]
	if !ok {
		return 0, false
	}
	return c.Entries[i].TargetArea, true
}
