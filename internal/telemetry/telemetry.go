// Package telemetry keeps archive metrics in a process-local Prometheus
// registry. Nothing is exported over the network: the registry is only read
// by Snapshot (the CLI stats command) and by tests.
package telemetry

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notearchive"

// Registry holds every metric defined in this package.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// =====================================================
// Snippet archive
// =====================================================

var (
	// SnippetsInserted counts insert calls.
	// Labels: result (stored, deduplicated)
	SnippetsInserted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snippets_inserted_total",
		Help:      "Snippet insertions by result",
	}, []string{"result"})

	// Rebases counts diff-direction decisions made when a lineage advances.
	// Labels: result (diff, keyframe)
	Rebases = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rebases_total",
		Help:      "Predecessor re-encodings by outcome",
	}, []string{"result"})

	// MaterializeHops observes how many diff hops a materialization walked.
	MaterializeHops = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "materialize_hops",
		Help:      "Diff hops walked to materialize a snippet",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})
)

// =====================================================
// Note archive
// =====================================================

var (
	// Commits counts manifest commits.
	// Labels: result (committed, noop)
	Commits = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commits_total",
		Help:      "Manifest version commits by result",
	}, []string{"result"})

	// PropertyUpdates counts pages whose properties were recomputed.
	PropertyUpdates = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "property_updates_total",
		Help:      "Pages whose properties were recomputed",
	})

	// TemplateFailures counts challenge templates skipped during resolution.
	TemplateFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "template_failures_total",
		Help:      "Challenge templates that failed to resolve",
	})
)

// =====================================================
// Persistence
// =====================================================

var (
	// Saves counts store writes.
	// Labels: backend (file, sqlite, badger), result (ok, error)
	Saves = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "saves_total",
		Help:      "Archive writes by backend and result",
	}, []string{"backend", "result"})

	// SerializedBytes tracks the size of the last serialized archive.
	SerializedBytes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "serialized_bytes",
		Help:      "Size of the most recently serialized archive",
	})
)

// Sample is one flattened metric value.
type Sample struct {
	Name  string
	Value float64
}

// Snapshot flattens the registry into name{labels} → value samples, sorted
// by name. Histograms report their sample count and sum.
func Snapshot() ([]Sample, error) {
	families, err := Registry.Gather()
	if err != nil {
		return nil, err
	}

	var samples []Sample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName() + labelSuffix(m.GetLabel())
			switch {
			case m.GetCounter() != nil:
				samples = append(samples, Sample{name, m.GetCounter().GetValue()})
			case m.GetGauge() != nil:
				samples = append(samples, Sample{name, m.GetGauge().GetValue()})
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				samples = append(samples,
					Sample{name + "_count", float64(h.GetSampleCount())},
					Sample{name + "_sum", h.GetSampleSum()})
			}
		}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	return samples, nil
}

type labelPair interface {
	GetName() string
	GetValue() string
}

func labelSuffix[L labelPair](labels []L) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+"="+l.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}
