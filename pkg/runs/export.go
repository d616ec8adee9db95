package runs

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/liliang-cn/vecalign/pkg/core"
)

// ExportFormat is the output format of Export
type ExportFormat string

const (
	// ExportCSV writes one row per run: parameters first, then metrics
	ExportCSV ExportFormat = "csv"
	// ExportJSONL writes one JSON object per run
	ExportJSONL ExportFormat = "jsonl"
)

var paramColumns = []string{
	"id", "created_at", "source", "target",
	"knn", "maxneg", "model", "reg", "lr", "niter", "sgd", "batchsize", "seed",
	"objective", "iterations", "state", "final_lr",
}

// Export writes every run, oldest first, without matrices.
func (s *Store) Export(ctx context.Context, w io.Writer, format ExportFormat) error {
	list, err := s.List(ctx, 0)
	if err != nil {
		return err
	}
	// List is newest first
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}

	switch format {
	case ExportJSONL:
		enc := json.NewEncoder(w)
		for _, run := range list {
			if err := enc.Encode(run); err != nil {
				return core.WrapError("export", err)
			}
		}
		return nil
	case ExportCSV, "":
		return writeCSV(w, list)
	default:
		return core.Errorf("export", core.ErrInvalidConfig, "unknown export format %q", format)
	}
}

// MarshalJSON writes a non-finite objective as null, which encoding/json
// would otherwise reject.
func (r Run) MarshalJSON() ([]byte, error) {
	type alias Run
	out := struct {
		alias
		Objective *float64 `json:"objective"`
	}{alias: alias(r)}
	if !math.IsInf(r.Objective, 0) && !math.IsNaN(r.Objective) {
		out.Objective = &r.Objective
	}
	return json.Marshal(out)
}

func writeCSV(w io.Writer, list []*Run) error {
	metricSet := map[string]struct{}{}
	for _, run := range list {
		for k := range run.Metrics {
			metricSet[k] = struct{}{}
		}
	}
	metrics := make([]string, 0, len(metricSet))
	for k := range metricSet {
		metrics = append(metrics, k)
	}
	sort.Strings(metrics)

	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, paramColumns...), metrics...)); err != nil {
		return core.WrapError("export", err)
	}

	for _, run := range list {
		c := run.Config
		rec := []string{
			run.ID,
			run.CreatedAt.UTC().Format(timeLayout),
			run.Source,
			run.Target,
			strconv.Itoa(c.KNN),
			strconv.Itoa(c.MaxNeg),
			c.Model.String(),
			formatFloat(c.Reg),
			formatFloat(c.LR),
			strconv.Itoa(c.NIter),
			strconv.FormatBool(c.SGD),
			strconv.Itoa(c.BatchSize),
			strconv.FormatUint(c.Seed, 10),
			formatFloat(run.Objective),
			strconv.Itoa(run.Iterations),
			run.State,
			formatFloat(run.LR),
		}
		for _, k := range metrics {
			if v, ok := run.Metrics[k]; ok {
				rec = append(rec, formatFloat(v))
			} else {
				rec = append(rec, "")
			}
		}
		if err := cw.Write(rec); err != nil {
			return core.WrapError("export", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return core.WrapError("export", err)
	}
	return nil
}

func formatFloat(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
