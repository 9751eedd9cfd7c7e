package metrics

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Lookup results
const (
	LookupMemoryHit  = "memory_hit"
	LookupDurableHit = "durable_hit"
	LookupMiss       = "miss"
	LookupCorrupt    = "corrupt"
)

// Metrics groups the client-side collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry    *prometheus.Registry
	lookups     *prometheus.CounterVec
	fetches     *prometheus.CounterVec
	joined      prometheus.Counter
	uploads     *prometheus.CounterVec
	liveHandles prometheus.Gauge
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctslice",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Slice cache lookups by result.",
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctslice",
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Slice fetch endpoint calls by outcome.",
		}, []string{"outcome"}),
		joined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ctslice",
			Subsystem: "fetch",
			Name:      "joined_total",
			Help:      "Slice requests that joined an in-flight fetch.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctslice",
			Subsystem: "upload",
			Name:      "requests_total",
			Help:      "Scan uploads by outcome.",
		}, []string{"outcome"}),
		liveHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ctslice",
			Subsystem: "cache",
			Name:      "live_handles",
			Help:      "Image handles allocated and not yet revoked.",
		}),
	}
	m.Registry.MustRegister(m.lookups, m.fetches, m.joined, m.uploads, m.liveHandles)
	return m
}

// Lookup counts one cache lookup
func (m *Metrics) Lookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

// Fetch counts one endpoint call
func (m *Metrics) Fetch(ok bool) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome(ok)).Inc()
}

// Joined counts a request that shared another caller's fetch
func (m *Metrics) Joined() {
	if m == nil {
		return
	}
	m.joined.Inc()
}

// Upload counts one upload attempt
func (m *Metrics) Upload(ok bool) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome(ok)).Inc()
}

// HandleAllocated tracks a new live handle
func (m *Metrics) HandleAllocated() {
	if m == nil {
		return
	}
	m.liveHandles.Inc()
}

// HandleRevoked tracks a revoked handle
func (m *Metrics) HandleRevoked() {
	if m == nil {
		return
	}
	m.liveHandles.Dec()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Write prints every collected sample as "name{labels} value", one per line.
func (m *Metrics) Write(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.Registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			var labels []string
			for _, lp := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			value := metric.GetCounter().GetValue()
			if g := metric.GetGauge(); g != nil {
				value = g.GetValue()
			}
			if _, err := fmt.Fprintf(w, "%s %g\n", name, value); err != nil {
				return err
			}
		}
	}
	return nil
}
