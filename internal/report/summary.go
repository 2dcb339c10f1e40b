package report

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/footprint-impact/internal/atomicfile"
	"github.com/sells-group/footprint-impact/internal/model"
)

// Summary describes one pipeline run.
type Summary struct {
	RunID     string           `yaml:"run_id"`
	Mode      model.Mode       `yaml:"mode"`
	StartedAt time.Time        `yaml:"started_at"`
	Elapsed   string           `yaml:"elapsed"`
	Inputs    SummaryInputs    `yaml:"inputs"`
	Outputs   SummaryOutputs   `yaml:"outputs"`
	GroupBy   string           `yaml:"group_by"`
	Assets    int              `yaml:"assets"`
	Groups    int              `yaml:"groups"`
	Flagged   int              `yaml:"flagged_assets"`
	Binned    bool             `yaml:"percentiles"`
	Services  []ServiceSummary `yaml:"services"`
}

// SummaryInputs lists the files a run read.
type SummaryInputs struct {
	Assets   string `yaml:"assets"`
	Services string `yaml:"services"`
	Buffers  string `yaml:"buffers,omitempty"`
}

// SummaryOutputs lists the files a run wrote.
type SummaryOutputs struct {
	Assets string `yaml:"assets"`
	Groups string `yaml:"groups"`
}

// ServiceSummary counts per-service results.
type ServiceSummary struct {
	ID        string  `yaml:"id"`
	Raster    string  `yaml:"raster"`
	Threshold float64 `yaml:"flag_threshold"`
	Valid     int     `yaml:"valid_assets"`
	Flagged   int     `yaml:"flagged_assets"`
}

// NewSummary fills run counts from the final asset and group tables.
func NewSummary(mode model.Mode, started time.Time, assets *model.AssetTable, groups *model.GroupTable, catalog *model.ServiceCatalog) *Summary {
	s := &Summary{
		RunID:     uuid.New().String(),
		Mode:      mode,
		StartedAt: started.UTC(),
		Elapsed:   time.Since(started).Round(time.Millisecond).String(),
		Assets:    len(assets.Assets),
		Groups:    len(groups.Rows),
		GroupBy:   groups.Attr,
		Binned:    groups.Percentiles,
	}
	for _, r := range groups.Rows {
		s.Flagged += r.TotalFlags
	}
	for _, e := range catalog.Entries {
		ss := ServiceSummary{ID: e.ID, Raster: e.ValuePath, Threshold: e.FlagThreshold}
		for i := range assets.Assets {
			a := &assets.Assets[i]
			var valid, flag bool
			if mode == model.ModePoints {
				valid, flag = a.Point[e.ID].Value.Valid, a.Point[e.ID].Flag
			} else {
				valid, flag = a.Footprint[e.ID].Valid(), a.Footprint[e.ID].Flag
			}
			if valid {
				ss.Valid++
			}
			if flag {
				ss.Flagged++
			}
		}
		s.Services = append(s.Services, ss)
	}
	return s
}

// WriteSummary writes s as YAML.
func WriteSummary(path string, s *Summary) error {
	err := atomicfile.WriteFile(path, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	})
	return eris.Wrapf(err, "report: write summary %s", path)
}
