package baseline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthSnapshot is one append-only line of
// reports/system_status/health_snapshots_YYYYMMDD.jsonl.
type HealthSnapshot struct {
	Timestamp    time.Time `json:"ts"`
	OverallHealth Status   `json:"overall_health"`
	CPUPercent   float64   `json:"cpu"`
	MemoryMB     float64   `json:"mem"`
	RespMS       float64   `json:"resp_ms"`
	AlertsCount  int       `json:"alerts_count"`
}

// Metric keys tracked by the health sampler; "process_memory_usage" and
// "process_cpu_usage" deliberately contain lower-is-better keywords so
// classifyStatus treats rising values as degradation.
const (
	MetricMemoryUsage  = "process_memory_usage_mb"
	MetricCPUUsage     = "process_cpu_usage_percent"
	MetricResponseTime = "gateway_response_time_ms"
)

// Sampler periodically measures process health, feeds samples through a
// Monitor for baseline comparison, and appends a minimal snapshot line.
// CPU/memory are read from the Go runtime rather than the OS:
// runtime.MemStats and NumGoroutine serve as process-level proxies
// without an OS-specific sampling dependency.
type Sampler struct {
	monitor  *Monitor
	dir      string
	interval time.Duration

	mu          sync.Mutex
	lastRespMS  float64
	alertsToday int
	last        *HealthSnapshot
}

// NewSampler wires a Sampler to its Monitor and the directory snapshots
// are appended under.
func NewSampler(monitor *Monitor, dir string, interval time.Duration) *Sampler {
	return &Sampler{monitor: monitor, dir: dir, interval: interval}
}

// RecordResponseTime feeds one gateway round-trip latency sample; the
// next Sample() call reports its most recent value.
func (s *Sampler) RecordResponseTime(ms float64) {
	s.mu.Lock()
	s.lastRespMS = ms
	s.mu.Unlock()
}

// Run samples on a fixed interval until stop is closed.
func (s *Sampler) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := s.Sample(time.Now())
			if err := s.append(snap); err != nil {
				log.Warn().Err(err).Msg("health snapshot append failed")
			}
		}
	}
}

// Sample takes one point-in-time reading and records it against the
// baseline monitor, returning the resulting snapshot.
func (s *Sampler) Sample(at time.Time) HealthSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memMB := float64(mem.Alloc) / (1024 * 1024)
	cpuApprox := float64(runtime.NumGoroutine()) / float64(runtime.NumCPU())

	s.mu.Lock()
	respMS := s.lastRespMS
	s.mu.Unlock()

	memReport := s.monitor.Record(MetricMemoryUsage, memMB, at)
	cpuReport := s.monitor.Record(MetricCPUUsage, cpuApprox, at)
	var respReport *Report
	if respMS > 0 {
		respReport = s.monitor.Record(MetricResponseTime, respMS, at)
	}

	overall := StatusStable
	alerts := 0
	for _, r := range []*Report{memReport, cpuReport, respReport} {
		if r == nil {
			continue
		}
		if r.Status == StatusDegraded || r.Status == StatusCritical {
			alerts++
		}
		overall = worseOf(overall, r.Status)
	}

	snap := HealthSnapshot{
		Timestamp:     at,
		OverallHealth: overall,
		CPUPercent:    cpuApprox,
		MemoryMB:      memMB,
		RespMS:        respMS,
		AlertsCount:   alerts,
	}

	s.mu.Lock()
	s.last = &snap
	s.mu.Unlock()

	return snap
}

// LastSnapshot returns the most recent sample taken by Run, for the
// read-only HTTP surface's /health rollup. The zero value reports
// stable until the first tick has run.
func (s *Sampler) LastSnapshot() HealthSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return HealthSnapshot{OverallHealth: StatusStable}
	}
	return *s.last
}

func worseOf(a, b Status) Status {
	rank := map[Status]int{StatusStable: 0, StatusImproved: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (s *Sampler) append(snap HealthSnapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create health snapshot dir: %w", err)
	}

	name := fmt.Sprintf("health_snapshots_%s.jsonl", snap.Timestamp.UTC().Format("20060102"))
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open health snapshot file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal health snapshot: %w", err)
	}
	_, err = f.Write(append(data, '\n'))
	return err
}
