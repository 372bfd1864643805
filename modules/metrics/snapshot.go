package metrics

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// minRateWindow is the shortest interval a requests-per-second value is computed over.
// Callers snapshotting faster than this see the previous rate.
const minRateWindow = 100 * time.Millisecond

// Snapshot is a point-in-time system health reading.
type Snapshot struct {
	Timestamp int64           `json:"timestamp"`
	Runtime   RuntimeSnapshot `json:"runtime"`
	HTTP      HTTPSnapshot    `json:"http"`
	DB        DBSnapshot      `json:"db"`
}

// RuntimeSnapshot holds Go runtime memory and scheduler figures.
type RuntimeSnapshot struct {
	HeapUsed       uint64 `json:"heapUsed"`
	HeapCommitted  uint64 `json:"heapCommitted"`
	HeapMax        uint64 `json:"heapMax"`
	NonHeapUsed    uint64 `json:"nonHeapUsed"`
	Goroutines     int    `json:"goroutines"`
	PeakGoroutines int    `json:"peakGoroutines"`
	NumGC          uint32 `json:"numGC"`
}

// HTTPSnapshot summarizes served HTTP requests.
type HTTPSnapshot struct {
	TotalRequests       uint64  `json:"totalRequests"`
	RequestsPerSecond   float64 `json:"requestsPerSecond"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	ActiveConnections   int64   `json:"activeConnections"`
}

// DBSnapshot summarizes repository queries. Times are in milliseconds.
type DBSnapshot struct {
	AverageQueryTime  float64 `json:"averageQueryTime"`
	ActiveConnections int64   `json:"activeConnections"`
	TotalQueries      uint64  `json:"totalQueries"`
}

// Snapshotter builds Snapshots from a Recorder's registry.
type Snapshotter struct {
	recorder *Recorder
	dbConns  func() int
	now      func() time.Time

	mu            sync.Mutex
	lastAt        time.Time
	lastRequests  uint64
	lastRate      float64
	peakGoroutine int
}

// NewSnapshotter creates a Snapshotter. dbConns may be nil.
func NewSnapshotter(recorder *Recorder, dbConns func() int) *Snapshotter {
	return &Snapshotter{
		recorder: recorder,
		dbConns:  dbConns,
		now:      time.Now,
	}
}

// Snapshot gathers the current reading.
func (s *Snapshotter) Snapshot() (Snapshot, error) {
	families, err := s.recorder.Registry().Gather()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to gather metrics: %w", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}

	now := s.now()
	httpCount, httpSum := histogramTotals(byName[nameHTTPDuration])
	dbCount, dbSum := histogramTotals(byName[nameDBQueryDuration])

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	s.mu.Lock()
	if goroutines > s.peakGoroutine {
		s.peakGoroutine = goroutines
	}
	peak := s.peakGoroutine
	rate := s.rateLocked(now, httpCount)
	s.mu.Unlock()

	snap := Snapshot{
		Timestamp: now.UnixMilli(),
		Runtime: RuntimeSnapshot{
			HeapUsed:       mem.HeapAlloc,
			HeapCommitted:  mem.HeapSys,
			HeapMax:        mem.Sys,
			NonHeapUsed:    mem.StackInuse,
			Goroutines:     goroutines,
			PeakGoroutines: peak,
			NumGC:          mem.NumGC,
		},
		HTTP: HTTPSnapshot{
			TotalRequests:       httpCount,
			RequestsPerSecond:   rate,
			AverageResponseTime: averageMillis(httpCount, httpSum),
			ActiveConnections:   int64(gaugeValue(byName[nameWSConnections])),
		},
		DB: DBSnapshot{
			AverageQueryTime: averageMillis(dbCount, dbSum),
			TotalQueries:     dbCount,
		},
	}
	if s.dbConns != nil {
		snap.DB.ActiveConnections = int64(s.dbConns())
	}
	return snap, nil
}

// rateLocked returns requests per second since the previous snapshot.
// The first snapshot reports zero.
func (s *Snapshotter) rateLocked(now time.Time, total uint64) float64 {
	if s.lastAt.IsZero() {
		s.lastAt, s.lastRequests = now, total
		return 0
	}
	elapsed := now.Sub(s.lastAt)
	if elapsed < minRateWindow {
		return s.lastRate
	}
	var delta uint64
	if total > s.lastRequests {
		delta = total - s.lastRequests
	}
	s.lastRate = float64(delta) / elapsed.Seconds()
	s.lastAt, s.lastRequests = now, total
	return s.lastRate
}

func histogramTotals(f *dto.MetricFamily) (count uint64, sum float64) {
	if f == nil {
		return 0, 0
	}
	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		count += h.GetSampleCount()
		sum += h.GetSampleSum()
	}
	return count, sum
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var v float64
	for _, m := range f.GetMetric() {
		v += m.GetGauge().GetValue()
	}
	return v
}

func averageMillis(count uint64, sumSeconds float64) float64 {
	if count == 0 {
		return 0
	}
	return sumSeconds / float64(count) * 1000
}
