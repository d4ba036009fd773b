package pir

import (
	"testing"
	"time"
)

func TestMetricsRecordQuery(t *testing.T) {
	m := NewMetrics()
	m.RecordQuery(128, 64, 1000, true)
	m.RecordQuery(128, 64, 2000, false)

	if got := m.QueryOps.Load(); got != 2 {
		t.Errorf("QueryOps = %d, want 2", got)
	}
	if got := m.MaskBytes.Load(); got != 128 {
		t.Errorf("MaskBytes = %d, want 128 (failed queries excluded)", got)
	}
	if got := m.ResponseBytes.Load(); got != 64 {
		t.Errorf("ResponseBytes = %d, want 64", got)
	}
	if got := m.QueryErrors.Load(); got != 1 {
		t.Errorf("QueryErrors = %d, want 1", got)
	}
}

func TestMetricsRecordInstallAndConfigure(t *testing.T) {
	m := NewMetrics()
	m.RecordInstall(65536, 5000, true)
	m.RecordInstall(0, 100, false)
	m.RecordConfigure(3000, true)

	if got := m.InstallOps.Load(); got != 2 {
		t.Errorf("InstallOps = %d, want 2", got)
	}
	if got := m.DatabaseBytes.Load(); got != 65536 {
		t.Errorf("DatabaseBytes = %d, want 65536", got)
	}
	if got := m.InstallErrors.Load(); got != 1 {
		t.Errorf("InstallErrors = %d, want 1", got)
	}
	if got := m.ConfigureOps.Load(); got != 1 {
		t.Errorf("ConfigureOps = %d, want 1", got)
	}
}

func TestMetricsSnapshotDerivedValues(t *testing.T) {
	m := NewMetrics()
	m.RecordQuery(16, 8, 1000, true)
	m.RecordQuery(16, 8, 1000, true)
	m.RecordConfigure(500, false)

	snap := m.Snapshot()
	if snap.TotalOps != 3 {
		t.Errorf("TotalOps = %d, want 3", snap.TotalOps)
	}
	if snap.AvgLatencyNs == 0 {
		t.Error("AvgLatencyNs should be non-zero")
	}
	wantRate := float64(1) / 3 * 100
	if snap.ErrorRate < wantRate-0.01 || snap.ErrorRate > wantRate+0.01 {
		t.Errorf("ErrorRate = %f, want ~%f", snap.ErrorRate, wantRate)
	}
	if snap.QueriesPerSecond <= 0 {
		t.Error("QueriesPerSecond should be positive")
	}
}

func TestMetricsLatencyHistogram(t *testing.T) {
	m := NewMetrics()
	m.RecordQuery(1, 1, 500, true)        // < 1us bucket
	m.RecordQuery(1, 1, 50_000, true)     // < 100us bucket
	m.RecordQuery(1, 1, 5_000_000, true)  // < 10ms bucket

	snap := m.Snapshot()
	if snap.LatencyHistogram[0] != 1 {
		t.Errorf("1us bucket = %d, want 1", snap.LatencyHistogram[0])
	}
	// Buckets are cumulative.
	if snap.LatencyHistogram[numLatencyBuckets-1] != 3 {
		t.Errorf("top bucket = %d, want 3", snap.LatencyHistogram[numLatencyBuckets-1])
	}
	if snap.LatencyP50Ns == 0 {
		t.Error("P50 should be non-zero")
	}
}

func TestMetricsStopFreezesUptime(t *testing.T) {
	m := NewMetrics()
	m.Stop()
	snap1 := m.Snapshot()
	time.Sleep(5 * time.Millisecond)
	snap2 := m.Snapshot()
	if snap1.UptimeNs != snap2.UptimeNs {
		t.Error("uptime should freeze after Stop")
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordQuery(1, 1, 1000, true)
	m.Reset()
	snap := m.Snapshot()
	if snap.QueryOps != 0 || snap.MaskBytes != 0 || snap.AvgLatencyNs != 0 {
		t.Errorf("counters survive reset: %+v", snap)
	}
}

func TestMetricsObserverWiring(t *testing.T) {
	m := NewMetrics()
	var obs Observer = NewMetricsObserver(m)
	obs.ObserveQuery(10, 20, 100, true)
	obs.ObserveConfigure(100, true)
	obs.ObserveInstall(30, 100, true)

	if m.QueryOps.Load() != 1 || m.ConfigureOps.Load() != 1 || m.InstallOps.Load() != 1 {
		t.Error("observer did not forward to metrics")
	}
}
