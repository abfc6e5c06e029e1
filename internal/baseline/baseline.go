// Package baseline implements the Baseline Metrics & Health Monitor:
// rolling sample windows per metric key, median-based baseline
// establishment once enough samples accumulate, and deviation
// classification against the established baseline.
package baseline

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ictengine/core/internal/config"
)

// Status is the classification of a metric's current deviation from its
// baseline.
type Status string

const (
	StatusStable   Status = "stable"
	StatusImproved Status = "improved"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// ImpactLevel buckets the magnitude of a deviation independent of direction.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

// Baseline is the established reference value for one metric key.
type Baseline struct {
	MetricKey      string
	Value          float64 // median of samples at establishment/last update
	Min            float64
	Max            float64
	Avg            float64
	StdDeviation   float64
	SamplesCount   int
	EstablishedAt  time.Time
	LastUpdatedAt  time.Time
}

// Report is one point-in-time comparison of a metric against its baseline.
type Report struct {
	Timestamp       time.Time
	MetricKey       string
	CurrentValue    float64
	BaselineValue   float64
	DeviationPct    float64
	Status          Status
	Impact          ImpactLevel
}

type sample struct {
	value float64
	at    time.Time
}

// Monitor tracks rolling samples per metric key, establishes baselines once
// min_samples_for_baseline is reached, and classifies subsequent samples
// against them.
type Monitor struct {
	cfg config.Baseline

	mu        sync.Mutex
	samples   map[string][]sample
	baselines map[string]*Baseline
	reports   []Report
	tripped   bool
	tripCause string
}

// RaiseCritical records an invariant violation: the cause is logged at
// error level and the monitor trips fail-closed. Callers on the signal path
// are expected to check Tripped before admitting new signals; existing
// positions are untouched.
func (m *Monitor) RaiseCritical(cause string) {
	m.mu.Lock()
	first := !m.tripped
	m.tripped = true
	if first {
		m.tripCause = cause
	}
	m.mu.Unlock()

	log.Error().Str("cause", cause).Bool("fail_closed", true).
		Msg("invariant violation, new signal processing disabled")
}

// Tripped reports whether an invariant violation has disabled new signal
// processing, along with the first recorded cause.
func (m *Monitor) Tripped() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripped, m.tripCause
}

// New builds a Monitor from the baseline config block.
func New(cfg config.Baseline) *Monitor {
	return &Monitor{
		cfg:       cfg,
		samples:   make(map[string][]sample),
		baselines: make(map[string]*Baseline),
	}
}

// Record ingests one metric observation, evicts samples older than the
// configured retention window, (re-)establishes or updates the baseline
// once enough samples exist, and returns a Report when a baseline already
// exists to compare against (nil before one is established).
func (m *Monitor) Record(metricKey string, value float64, at time.Time) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := at.AddDate(0, 0, -m.cfg.RetentionDays)
	samples := append(m.samples[metricKey], sample{value: value, at: at})
	samples = evictBefore(samples, cutoff)
	m.samples[metricKey] = samples

	baseline, exists := m.baselines[metricKey]
	if !exists {
		if len(samples) >= m.cfg.MinSamplesForBaseline {
			m.establish(metricKey, samples, at)
		}
		return nil
	}

	if m.cfg.AutoBaselineUpdate {
		m.maybeUpdate(metricKey, baseline, samples, at)
	}

	deviationPct := 0.0
	if baseline.Value != 0 {
		deviationPct = (value - baseline.Value) / baseline.Value * 100
	}
	status := classifyStatus(deviationPct, metricKey, m.cfg.TolerancePct, m.cfg.CriticalTolerancePct)
	impact := classifyImpact(math.Abs(deviationPct))

	report := Report{
		Timestamp:     at,
		MetricKey:     metricKey,
		CurrentValue:  value,
		BaselineValue: baseline.Value,
		DeviationPct:  deviationPct,
		Status:        status,
		Impact:        impact,
	}
	m.reports = append(m.reports, report)

	if math.Abs(deviationPct) > m.cfg.TolerancePct {
		log.Warn().
			Str("metric", metricKey).
			Float64("current", value).
			Float64("baseline", baseline.Value).
			Float64("deviation_pct", deviationPct).
			Str("status", string(status)).
			Msg("performance deviation detected")
	}

	return &report
}

func (m *Monitor) establish(metricKey string, samples []sample, at time.Time) {
	values := valuesOf(samples)
	m.baselines[metricKey] = &Baseline{
		MetricKey:     metricKey,
		Value:         median(values),
		Min:           minOf(values),
		Max:           maxOf(values),
		Avg:           mean(values),
		StdDeviation:  stddev(values),
		SamplesCount:  len(values),
		EstablishedAt: at,
		LastUpdatedAt: at,
	}
	log.Info().Str("metric", metricKey).Float64("baseline", m.baselines[metricKey].Value).Msg("baseline established")
}

// maybeUpdate refreshes a baseline's descriptive stats from the last 7
// days of samples once at least 50 are available.
func (m *Monitor) maybeUpdate(metricKey string, baseline *Baseline, samples []sample, at time.Time) {
	recent := evictBefore(samples, at.AddDate(0, 0, -7))
	if len(recent) < 50 {
		return
	}
	values := valuesOf(recent)
	baseline.Avg = mean(values)
	baseline.Min = minOf(values)
	baseline.Max = maxOf(values)
	baseline.StdDeviation = stddev(values)
	baseline.SamplesCount = len(values)
	baseline.LastUpdatedAt = at
}

// Baselines returns a copy of the established baselines, keyed by metric.
func (m *Monitor) Baselines() map[string]Baseline {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Baseline, len(m.baselines))
	for k, v := range m.baselines {
		out[k] = *v
	}
	return out
}

// RecentReports returns reports generated within the given lookback window.
func (m *Monitor) RecentReports(since time.Time) []Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Report
	for _, r := range m.reports {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	return out
}

var lowerIsBetterKeywords = []string{"latency", "usage", "cpu", "memory", "response_time"}

func lowerIsBetter(metricKey string) bool {
	lower := strings.ToLower(metricKey)
	for _, kw := range lowerIsBetterKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func classifyStatus(deviationPct float64, metricKey string, tolerancePct, criticalTolerancePct float64) Status {
	abs := math.Abs(deviationPct)
	if abs <= tolerancePct {
		return StatusStable
	}
	if abs <= criticalTolerancePct {
		improves := deviationPct > 0
		if lowerIsBetter(metricKey) {
			improves = deviationPct < 0
		}
		if improves {
			return StatusImproved
		}
		return StatusDegraded
	}
	return StatusCritical
}

func classifyImpact(absDeviation float64) ImpactLevel {
	switch {
	case absDeviation <= 10:
		return ImpactLow
	case absDeviation <= 25:
		return ImpactMedium
	case absDeviation <= 50:
		return ImpactHigh
	default:
		return ImpactCritical
	}
}

func evictBefore(samples []sample, cutoff time.Time) []sample {
	out := samples[:0:0]
	for _, s := range samples {
		if s.at.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func valuesOf(samples []sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.value
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	avg := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - avg
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}
