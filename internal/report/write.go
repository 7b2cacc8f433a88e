package report

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/pipeline"
)

// Output file names.
const (
	IndicatorsFile = "indicators.csv"
	UTRIFile       = "utri.csv"
	WeightsFile    = "weights.csv"
	TRVIFile       = "trvi.csv"
	MoranFile      = "moran.csv"
	GWRFile        = "gwr.csv"
	ExclusionsFile = "exclusions.csv"
	JSONFile       = "report.json"
	YAMLFile       = "report.yaml"
)

// Writer writes a run's tables and summary into Dir.
type Writer struct {
	Dir string
	// Format is json, yaml or both. Empty means json.
	Format string
	TopN   int
}

// WriteRun writes every table the result supports and the summary, and
// returns the summary and the paths written.
func (w Writer) WriteRun(res *pipeline.Result, runID string) (*Summary, []string, error) {
	log := zap.L().With(zap.String("component", "report"))
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, nil, eris.Wrapf(err, "report: create %s", w.Dir)
	}

	var written []string
	write := func(name string, fn func(path string) error) error {
		path := filepath.Join(w.Dir, name)
		if err := fn(path); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	names := make(map[string]string, len(res.Units))
	mhi := make(map[string]*float64, len(res.Units))
	lst := make(map[string]*float64, len(res.Units))
	for _, u := range res.Units {
		names[u.GEOID] = u.Name
		mhi[u.GEOID] = u.MHI
		lst[u.GEOID] = u.LST
	}

	if err := write(IndicatorsFile, func(p string) error { return WriteIndicators(p, res.Indicators) }); err != nil {
		return nil, written, err
	}
	if res.EWM != nil {
		if err := write(UTRIFile, func(p string) error { return WriteUTRI(p, res.EWM, names) }); err != nil {
			return nil, written, err
		}
		if err := write(WeightsFile, func(p string) error { return WriteWeights(p, res.Weights()) }); err != nil {
			return nil, written, err
		}
	}
	if res.TRVI != nil {
		utri := make(map[string]float64, len(res.EWM.Scores))
		for _, s := range res.EWM.Scores {
			utri[s.GEOID] = s.UTRI
		}
		if err := write(TRVIFile, func(p string) error { return WriteTRVI(p, res.TRVI, mhi, utri) }); err != nil {
			return nil, written, err
		}
	}
	if res.Moran != nil {
		if err := write(MoranFile, func(p string) error { return WriteMoran(p, res.MoranRows()) }); err != nil {
			return nil, written, err
		}
	}
	if res.GWR != nil {
		if err := write(GWRFile, func(p string) error { return WriteGWR(p, res.GWR, lst) }); err != nil {
			return nil, written, err
		}
	}
	if err := write(ExclusionsFile, func(p string) error { return WriteExclusions(p, res.Exclusions) }); err != nil {
		return nil, written, err
	}

	summary := Build(res, w.TopN)
	summary.RunID = runID
	paths, err := w.WriteSummary(summary)
	written = append(written, paths...)
	if err != nil {
		return nil, written, err
	}

	log.Info("report written", zap.String("dir", w.Dir), zap.Int("files", len(written)))
	return summary, written, nil
}

// WriteSummary writes report.json, report.yaml or both.
func (w Writer) WriteSummary(s *Summary) ([]string, error) {
	var paths []string
	switch w.Format {
	case "", "json":
		paths = []string{filepath.Join(w.Dir, JSONFile)}
	case "yaml":
		paths = []string{filepath.Join(w.Dir, YAMLFile)}
	case "both":
		paths = []string{filepath.Join(w.Dir, JSONFile), filepath.Join(w.Dir, YAMLFile)}
	default:
		return nil, failure.New(failure.Configuration, "report: unknown format %q", w.Format)
	}

	var written []string
	for _, path := range paths {
		var data []byte
		var err error
		if filepath.Ext(path) == ".yaml" {
			data, err = yaml.Marshal(s)
		} else {
			data, err = json.MarshalIndent(s, "", "  ")
		}
		if err != nil {
			return written, eris.Wrapf(err, "report: encode %s", path)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, eris.Wrapf(err, "report: write %s", path)
		}
		written = append(written, path)
	}
	return written, nil
}
