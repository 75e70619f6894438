package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)]++
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordDuration records a duration observation in milliseconds.
func RecordDuration(name string, d time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(d.Milliseconds()), labels)
}

// Basic JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus summarizes pipeline health for monitoring.
type HealthStatus struct {
	Status    string        `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Metrics   HealthMetrics `json:"metrics"`
}

// HealthMetrics holds the key figures the health status is derived from.
type HealthMetrics struct {
	SubmitLatencyP95Ms int64   `json:"submit_latency_p95_ms"`
	SamplesTotal       int64   `json:"samples_total"`
	AlertsEmittedTotal int64   `json:"alerts_emitted_total"`
	StoreErrorsTotal   int64   `json:"store_errors_total"`
	StoreErrorRate     float64 `json:"store_error_rate"`
}

var startTime = time.Now()

// HealthHandler reports degraded when store errors exceed 10% of samples
// or the submit path p95 goes above 200ms.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		m := HealthMetrics{
			SubmitLatencyP95Ms: p95Locked("sample_submit_ms"),
			SamplesTotal:       counterTotalLocked("samples_submitted_total"),
			AlertsEmittedTotal: counterTotalLocked("alerts_emitted_total"),
			StoreErrorsTotal:   counterTotalLocked("store_errors_total"),
		}
		reg.mu.Unlock()

		if m.SamplesTotal > 0 {
			m.StoreErrorRate = float64(m.StoreErrorsTotal) / float64(m.SamplesTotal)
		}

		status := "healthy"
		if m.SamplesTotal > 100 && m.StoreErrorRate > 0.1 {
			status = "failed"
		} else if m.SubmitLatencyP95Ms > 200 || m.StoreErrorsTotal > 0 {
			status = "degraded"
		}

		code := http.StatusOK
		if status == "failed" {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(HealthStatus{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Metrics:   m,
		})
	})
}

func counterTotalLocked(name string) int64 {
	var total int64
	for _, count := range reg.counters[name] {
		total += count
	}
	return total
}

func p95Locked(name string) int64 {
	for _, samples := range reg.hist[name] {
		if len(samples) == 0 {
			continue
		}
		sorted := make([]float64, len(samples))
		copy(sorted, samples)
		sort.Float64s(sorted)
		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return int64(sorted[idx])
	}
	return 0
}
