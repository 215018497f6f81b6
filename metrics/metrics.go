// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package metrics collects the Prometheus metrics of a single run and writes
them in the textfile format understood by node_exporter's textfile collector.
*/
package metrics

import (
	"context"
	"time"

	"github.com/siemens/blackdig/capture"
	"github.com/siemens/blackdig/geo"
	"github.com/siemens/blackdig/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics of a single run, registered with their own registry.
type Metrics struct {
	reg *prometheus.Registry

	Packets               prometheus.Counter
	PacketsWithoutAddress prometheus.Counter
	DecodeErrors          prometheus.Counter
	ObservedAddresses     prometheus.Gauge
	FlaggedAddresses      prometheus.Gauge
	Lookups               *prometheus.CounterVec
	LookupDuration        prometheus.Histogram
	AuditRecords          *prometheus.CounterVec
	LastRun               prometheus.Gauge
}

// New returns a new set of metrics with their own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Packets: factory.NewCounter(prometheus.CounterOpts{
			Name: "blackdig_packets_total",
			Help: "Total number of captured packets read",
		}),
		PacketsWithoutAddress: factory.NewCounter(prometheus.CounterOpts{
			Name: "blackdig_packets_without_address_total",
			Help: "Total number of captured packets without any address layer",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "blackdig_packet_decode_errors_total",
			Help: "Total number of captured packets that failed to decode",
		}),
		ObservedAddresses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blackdig_observed_addresses",
			Help: "Number of distinct addresses observed in the capture",
		}),
		FlaggedAddresses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blackdig_flagged_addresses",
			Help: "Number of observed addresses found on the blacklist",
		}),
		Lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "blackdig_lookups_total",
			Help: "Total number of geolocation lookups by outcome",
		}, []string{"outcome"}),
		LookupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "blackdig_lookup_duration_seconds",
			Help:    "Time taken by geolocation lookups",
			Buckets: prometheus.DefBuckets,
		}),
		AuditRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "blackdig_audit_records_total",
			Help: "Total number of audit records by write result",
		}, []string{"result"}),
		LastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blackdig_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveCapture records the capture reader's final counters.
func (m *Metrics) ObserveCapture(stats capture.Stats) {
	m.Packets.Add(float64(stats.Packets))
	m.PacketsWithoutAddress.Add(float64(stats.WithoutAddressLayer))
	m.DecodeErrors.Add(float64(stats.DecodeErrors))
}

// ObserveMatch records the numbers of observed and flagged addresses.
func (m *Metrics) ObserveMatch(observed, flagged int) {
	m.ObservedAddresses.Set(float64(observed))
	m.FlaggedAddresses.Set(float64(flagged))
}

// ObserveAppend records the result of appending an audit record.
func (m *Metrics) ObserveAppend(err error) {
	if err != nil {
		m.AuditRecords.WithLabelValues("failed").Inc()
		return
	}
	m.AuditRecords.WithLabelValues("written").Inc()
}

// ObserveLookup records the outcome and duration of a lookup.
func (m *Metrics) ObserveLookup(res types.EnrichmentResult, d time.Duration) {
	outcome := "success"
	if res.Failure != nil {
		outcome = string(res.Failure.Kind)
	}
	m.Lookups.WithLabelValues(outcome).Inc()
	m.LookupDuration.Observe(d.Seconds())
}

// WriteTextfile atomically writes the current metrics to the named file,
// stamping the run as finished now.
func (m *Metrics) WriteTextfile(path string) error {
	m.LastRun.SetToCurrentTime()
	return prometheus.WriteToTextfile(path, m.reg)
}

// instrumented measures the lookups of a Locator.
type instrumented struct {
	locator geo.Locator
	metrics *Metrics
}

// Instrument returns a Locator recording the outcome and duration of each
// lookup done by the specified Locator.
func (m *Metrics) Instrument(locator geo.Locator) geo.Locator {
	return &instrumented{locator: locator, metrics: m}
}

func (i *instrumented) Lookup(ctx context.Context, addr types.Address) types.EnrichmentResult {
	start := time.Now()
	res := i.locator.Lookup(ctx, addr)
	i.metrics.ObserveLookup(res, time.Since(start))
	return res
}
