package bias

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/lumoslab/lumos/backend/internal/dataset"
	"github.com/lumoslab/lumos/backend/internal/model/study"
)

// ErrUnknownDataset is returned when metrics are requested for a dataset the
// catalog does not hold. The caller must surface it: silently returning
// partial metrics would corrupt the study record.
var ErrUnknownDataset = errors.New("unknown dataset")

// AttributeMetric is the exposure measurement for a single attribute.
//
// Coverage is the fraction of the attribute's value domain touched by the
// interaction log. Divergence is the total-variation distance between the
// interaction-frequency distribution over values and the dataset's own value
// distribution (0 = the participant's attention mirrors the data, 1 = it is
// concentrated entirely off-distribution).
type AttributeMetric struct {
	Coverage   float64 `json:"coverage"`
	Divergence float64 `json:"divergence"`
}

// Metrics is one snapshot, recomputed from the entire bias log. It carries no
// wall-clock fields: two computations over identical logs must be identical.
type Metrics struct {
	Dataset      string                     `json:"dataset"`
	Interactions int                        `json:"interactions"`
	Attributes   map[string]AttributeMetric `json:"attributes"`
}

// Engine computes bias metrics against the precomputed dataset catalog.
type Engine struct {
	catalog *dataset.Catalog
}

// NewEngine returns an engine bound to the catalog.
func NewEngine(catalog *dataset.Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Compute derives a metrics snapshot from the full accumulated bias log.
// Every call recomputes from scratch rather than updating incrementally;
// study sessions are bounded in event count, and full recomputation keeps the
// output a pure function of (dataset, log).
func (e *Engine) Compute(datasetID string, log []study.InteractionEvent) (*Metrics, error) {
	d, ok := e.catalog.Get(datasetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, datasetID)
	}

	m := &Metrics{
		Dataset:      datasetID,
		Interactions: len(log),
		Attributes:   make(map[string]AttributeMetric, len(d.Attributes)),
	}

	for _, attr := range d.Attributes {
		m.Attributes[attr] = attributeMetric(d.Distribution[attr], d.Rows, observedValues(log, attr))
	}
	return m, nil
}

// observedValues counts how often each value of the attribute appears in the
// interacted items of the log.
func observedValues(log []study.InteractionEvent, attr string) map[string]int {
	counts := make(map[string]int)
	for _, ev := range log {
		v, ok := ev.Data[attr]
		if !ok || v == nil {
			continue
		}
		counts[stringify(v)]++
	}
	return counts
}

func attributeMetric(domain map[string]int, rows int, observed map[string]int) AttributeMetric {
	var metric AttributeMetric

	if len(domain) > 0 {
		seen := 0
		for v := range domain {
			if observed[v] > 0 {
				seen++
			}
		}
		metric.Coverage = float64(seen) / float64(len(domain))
	}

	totalObserved := 0
	for _, n := range observed {
		totalObserved += n
	}

	// Total variation over the union of dataset and observed values.
	values := make(map[string]struct{}, len(domain)+len(observed))
	for v := range domain {
		values[v] = struct{}{}
	}
	for v := range observed {
		values[v] = struct{}{}
	}

	var tv float64
	for v := range values {
		var p, q float64
		if rows > 0 {
			p = float64(domain[v]) / float64(rows)
		}
		if totalObserved > 0 {
			q = float64(observed[v]) / float64(totalObserved)
		}
		tv += math.Abs(p - q)
	}
	metric.Divergence = tv / 2
	return metric
}

// stringify normalizes loosely typed JSON values into distribution keys.
// JSON numbers arrive as float64; integral ones must match the CSV text.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// TopAttributes returns the attributes with the lowest coverage, a convenience
// for operator tooling; ties break alphabetically so output stays stable.
func (m *Metrics) TopAttributes(n int) []string {
	attrs := make([]string, 0, len(m.Attributes))
	for a := range m.Attributes {
		attrs = append(attrs, a)
	}
	sort.Slice(attrs, func(i, j int) bool {
		ci, cj := m.Attributes[attrs[i]].Coverage, m.Attributes[attrs[j]].Coverage
		if ci != cj {
			return ci < cj
		}
		return attrs[i] < attrs[j]
	})
	if n > len(attrs) {
		n = len(attrs)
	}
	return attrs[:n]
}
