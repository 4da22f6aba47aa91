// Package metrics exposes process instrumentation via
// prometheus/client_golang: job run counts/durations (Scheduler) and
// HTTP request latency (gin middleware).
package metrics

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xpanel_scheduler_job_runs_total",
		Help: "Total scheduled job invocations, by job name and outcome.",
	}, []string{"job", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xpanel_scheduler_job_duration_seconds",
		Help:    "Scheduled job run duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xpanel_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	nicBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xpanel_host_nic_bytes_total",
		Help: "Host NIC byte counters sampled from /proc/net/dev, by interface and direction.",
	}, []string{"interface", "direction"})
)

// ObserveJobRun records a scheduler job's outcome and duration.
func ObserveJobRun(name string, d time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	jobRuns.WithLabelValues(name, outcome).Inc()
	jobDuration.WithLabelValues(name).Observe(d.Seconds())
}

// ObserveHTTPRequest records one completed HTTP request.
func ObserveHTTPRequest(method, path, status string, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}

// SampleHostBandwidth reads /proc/net/dev and publishes per-interface
// rx/tx byte counters for the admin UI's live bandwidth graph. Absent
// or unparseable lines are skipped rather than failing the job.
func SampleHostBandwidth() error {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, ":") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		iface := strings.TrimSpace(parts[0])
		if iface == "" || iface == "lo" {
			continue
		}
		fields := strings.Fields(parts[1])
		if len(fields) < 9 {
			continue
		}
		rx, errRx := strconv.ParseFloat(fields[0], 64)
		tx, errTx := strconv.ParseFloat(fields[8], 64)
		if errRx == nil {
			nicBytes.WithLabelValues(iface, "rx").Set(rx)
		}
		if errTx == nil {
			nicBytes.WithLabelValues(iface, "tx").Set(tx)
		}
	}
	return scanner.Err()
}
