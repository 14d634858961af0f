package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	otpcore "github.com/MrEthical07/otpcore"
	"github.com/MrEthical07/otpcore/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// metricsSource is the engine surface the exporter reads on each
// collection. *otpcore.Engine satisfies it.
type metricsSource interface {
	MetricsSnapshot() otpcore.MetricsSnapshot
	AuditDropped() uint64
}

// counterBinding ties one engine counter to its observable instrument.
type counterBinding struct {
	id   otpcore.MetricID
	inst metric.Int64ObservableCounter
}

// histogramBinding exposes one engine histogram as cumulative per-bound
// gauges plus a sample count, the same shape the prometheus exporter
// renders as text.
type histogramBinding struct {
	id      otpcore.MetricID
	bounds  [8]metric.Int64ObservableGauge
	samples metric.Int64ObservableGauge
}

// Exporter registers an observable instrument per engine metric and
// reads a fresh snapshot on every collection cycle.
type Exporter struct {
	source     metricsSource
	reg        metric.Registration
	counters   []counterBinding
	histograms []histogramBinding
	dropped    metric.Int64ObservableCounter
}

// NewExporter wires an engine to a meter.
func NewExporter(meter metric.Meter, engine *otpcore.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

// NewExporterFromSource is NewExporter for any snapshot source, which
// keeps tests independent of a full engine.
func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}

	var observables []metric.Observable
	if err := e.bindCounters(meter, &observables); err != nil {
		return nil, err
	}
	if err := e.bindHistograms(meter, &observables); err != nil {
		return nil, err
	}

	dropped, err := meter.Int64ObservableCounter(
		"otpcore_audit_dropped_total",
		metric.WithDescription("Audit events shed by dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit drop counter: %w", err)
	}
	e.dropped = dropped
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		e.observe(obs)
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.reg = reg
	return e, nil
}

func (e *Exporter) bindCounters(meter metric.Meter, observables *[]metric.Observable) error {
	e.counters = make([]counterBinding, 0, len(internaldefs.CounterDefs))
	for _, def := range internaldefs.CounterDefs {
		inst, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterBinding{id: def.ID, inst: inst})
		*observables = append(*observables, inst)
	}
	return nil
}

func (e *Exporter) bindHistograms(meter metric.Meter, observables *[]metric.Observable) error {
	e.histograms = make([]histogramBinding, 0, len(internaldefs.HistogramDefs))
	for _, def := range internaldefs.HistogramDefs {
		b := histogramBinding{id: def.ID}
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			gauge, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative bucket count at this bound."))
			if err != nil {
				return fmt.Errorf("create bucket gauge %s: %w", name, err)
			}
			b.bounds[i] = gauge
			*observables = append(*observables, gauge)
		}

		samples, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Total recorded samples."))
		if err != nil {
			return fmt.Errorf("create sample count gauge %s_count: %w", def.Name, err)
		}
		b.samples = samples
		*observables = append(*observables, samples)
		e.histograms = append(e.histograms, b)
	}
	return nil
}

// observe publishes one snapshot. Bucket gauges carry cumulative
// counts so the highest bound equals the sample count.
func (e *Exporter) observe(obs metric.Observer) {
	snap := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		obs.ObserveInt64(c.inst, int64(snap.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[h.id]))
		for i, v := range cumulative {
			obs.ObserveInt64(h.bounds[i], int64(v))
		}
		obs.ObserveInt64(h.samples, int64(cumulative[len(cumulative)-1]))
	}
	obs.ObserveInt64(e.dropped, int64(e.source.AuditDropped()))
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.reg == nil {
		return nil
	}
	return e.reg.Unregister()
}
