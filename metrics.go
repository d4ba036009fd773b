package pir

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks operational statistics for the query engine.
type Metrics struct {
	// Command counters
	QueryOps     atomic.Uint64 // Read commands accepted
	ConfigureOps atomic.Uint64 // Configure commands handled, failed ones included
	InstallOps   atomic.Uint64 // Database installs

	// Byte counters
	MaskBytes     atomic.Uint64 // Mask bytes received
	ResponseBytes atomic.Uint64 // Response bytes sent
	DatabaseBytes atomic.Uint64 // Database bytes copied to the device

	// Error counters
	QueryErrors     atomic.Uint64
	ConfigureErrors atomic.Uint64
	InstallErrors   atomic.Uint64

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative operation latency in nanoseconds
	OpCount        atomic.Uint64 // Total operations (for average latency calculation)

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of operations with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Lifecycle
	StartTime atomic.Int64 // Server start timestamp (UnixNano)
	StopTime  atomic.Int64 // Server stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordQuery records one read command
func (m *Metrics) RecordQuery(maskBytes, responseBytes uint64, latencyNs uint64, success bool) {
	m.QueryOps.Add(1)
	if success {
		m.MaskBytes.Add(maskBytes)
		m.ResponseBytes.Add(responseBytes)
	} else {
		m.QueryErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordConfigure records one configure command
func (m *Metrics) RecordConfigure(latencyNs uint64, success bool) {
	m.ConfigureOps.Add(1)
	if !success {
		m.ConfigureErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordInstall records one database install
func (m *Metrics) RecordInstall(bytes uint64, latencyNs uint64, success bool) {
	m.InstallOps.Add(1)
	if success {
		m.DatabaseBytes.Add(bytes)
	} else {
		m.InstallErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// recordLatency records operation latency and updates histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	// Update histogram buckets (cumulative)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the server as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time view of the counters with derived
// rates.
type MetricsSnapshot struct {
	QueryOps     uint64
	ConfigureOps uint64
	InstallOps   uint64

	MaskBytes     uint64
	ResponseBytes uint64
	DatabaseBytes uint64

	QueryErrors     uint64
	ConfigureErrors uint64
	InstallErrors   uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	QueriesPerSecond  float64
	ResponseBandwidth float64 // Bytes per second
	TotalOps          uint64
	ErrorRate         float64 // Percentage of failed operations
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		QueryOps:        m.QueryOps.Load(),
		ConfigureOps:    m.ConfigureOps.Load(),
		InstallOps:      m.InstallOps.Load(),
		MaskBytes:       m.MaskBytes.Load(),
		ResponseBytes:   m.ResponseBytes.Load(),
		DatabaseBytes:   m.DatabaseBytes.Load(),
		QueryErrors:     m.QueryErrors.Load(),
		ConfigureErrors: m.ConfigureErrors.Load(),
		InstallErrors:   m.InstallErrors.Load(),
	}

	snap.TotalOps = snap.QueryOps + snap.ConfigureOps + snap.InstallOps

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.QueriesPerSecond = float64(snap.QueryOps) / uptimeSeconds
		snap.ResponseBandwidth = float64(snap.ResponseBytes) / uptimeSeconds
	}

	totalErrors := snap.QueryErrors + snap.ConfigureErrors + snap.InstallErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	m.QueryOps.Store(0)
	m.ConfigureOps.Store(0)
	m.InstallOps.Store(0)
	m.MaskBytes.Store(0)
	m.ResponseBytes.Store(0)
	m.DatabaseBytes.Store(0)
	m.QueryErrors.Store(0)
	m.ConfigureErrors.Store(0)
	m.InstallErrors.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer interface allows pluggable metrics collection
type Observer interface {
	// ObserveQuery is called for each read command
	ObserveQuery(maskBytes, responseBytes uint64, latencyNs uint64, success bool)

	// ObserveConfigure is called for each configure command
	ObserveConfigure(latencyNs uint64, success bool)

	// ObserveInstall is called for each database install
	ObserveInstall(bytes uint64, latencyNs uint64, success bool)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveQuery(uint64, uint64, uint64, bool) {}
func (NoOpObserver) ObserveConfigure(uint64, bool)             {}
func (NoOpObserver) ObserveInstall(uint64, uint64, bool)       {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveQuery(maskBytes, responseBytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordQuery(maskBytes, responseBytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveConfigure(latencyNs uint64, success bool) {
	o.metrics.RecordConfigure(latencyNs, success)
}

func (o *MetricsObserver) ObserveInstall(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordInstall(bytes, latencyNs, success)
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
