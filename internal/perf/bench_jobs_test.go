package perf

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/odyssey-erp/pettycash/internal/jobs"
	"github.com/odyssey-erp/pettycash/jobs"
)

type flakyRefresher struct {
	calls   atomic.Int64
	failNth int64
	delay   time.Duration
}

func (f *flakyRefresher) RefreshBalances(ctx context.Context) (int, error) {
	n := f.calls.Add(1)
	time.Sleep(f.delay)
	if f.failNth > 0 && n%f.failNth == 0 {
		return 0, errors.New("redis timeout")
	}
	return 4, nil
}

func TestBalanceRefreshThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	refresher := &flakyRefresher{failNth: 20, delay: 5 * time.Millisecond}
	job := jobs.NewBalanceRefreshJob(refresher, nil, metrics)

	task, err := jobs.NewBalanceRefreshTask("perf")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	failures := 0
	for i := 0; i < 60; i++ {
		if err := job.Handle(context.Background(), task); err != nil {
			failures++
		}
	}
	if failures != 3 {
		t.Fatalf("expected 3 injected failures, got %d", failures)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "pettycash_jobs_total", map[string]string{"job": jobs.TaskBalanceRefresh, "status": "success"})
	failure := metricValue(t, families, "pettycash_jobs_total", map[string]string{"job": jobs.TaskBalanceRefresh, "status": "failure"})
	if success+failure != 60 {
		t.Fatalf("expected 60 recorded runs, got %f", success+failure)
	}
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("refresh success ratio too low: %f", ratio)
	}

	refreshed := metricValue(t, families, "pettycash_balances_refreshed_total", nil)
	if refreshed != 4*success {
		t.Fatalf("expected %f refreshed balances, got %f", 4*success, refreshed)
	}

	mean := histogramMean(t, families, "pettycash_job_duration_seconds", map[string]string{"job": jobs.TaskBalanceRefresh})
	if mean > 0.5 {
		t.Fatalf("refresh duration above budget: %f", mean)
	}
}

func BenchmarkBalanceRefreshJob(b *testing.B) {
	job := jobs.NewBalanceRefreshJob(&flakyRefresher{}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task := asynq.NewTask(jobs.TaskBalanceRefresh, []byte(`{"reason":"bench"}`))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := job.Handle(context.Background(), task); err != nil {
			b.Fatal(err)
		}
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for key, want := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = lp.GetValue() == want
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
