package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/sessiongate"
	"github.com/MrEthical07/sessiongate/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned when no Meter is supplied.
	ErrNilMeter = errors.New("nil meter")
	// ErrNilSource is returned when no metrics source is supplied.
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() sessiongate.MetricsSnapshot
	AuditDropped() uint64
}

// member is one engine counter inside an instrument family. An empty value means the family
// carries no attribute.
type member struct {
	id    sessiongate.MetricID
	value string
}

// family is one OTel counter whose data points are engine counters told apart by key.
type family struct {
	name    string
	unit    string
	desc    string
	key     string
	members []member
}

var families = []family{
	{
		name: "sessiongate.session.events", unit: "{event}", key: "event",
		desc: "Session lifecycle events.",
		members: []member{
			{sessiongate.MetricSessionCreated, "created"},
			{sessiongate.MetricSessionRefreshed, "refreshed"},
			{sessiongate.MetricSessionCookieInvalid, "cookie_invalid"},
			{sessiongate.MetricSessionNotFound, "not_found"},
			{sessiongate.MetricSessionLifetimeExceeded, "lifetime_exceeded"},
			{sessiongate.MetricSessionEstablished, "established"},
			{sessiongate.MetricLogout, "logout"},
			{sessiongate.MetricLogoutAll, "logout_all"},
		},
	},
	{
		name: "sessiongate.authorize.decisions", unit: "{decision}", key: "outcome",
		desc: "Authorization gate decisions.",
		members: []member{
			{sessiongate.MetricAuthorizeAllowed, "allowed"},
			{sessiongate.MetricAuthorizeDenied, "denied"},
		},
	},
	{
		name: "sessiongate.handshake.results", unit: "{handshake}", key: "outcome",
		desc: "Connection handshake results.",
		members: []member{
			{sessiongate.MetricHandshakeAuthenticated, "authenticated"},
			{sessiongate.MetricHandshakeRejected, "rejected"},
		},
	},
	{
		name: "sessiongate.connection.events", unit: "{event}", key: "event",
		desc: "Connection bind and unbind events.",
		members: []member{
			{sessiongate.MetricConnectionBound, "bound"},
			{sessiongate.MetricConnectionUnbound, "unbound"},
		},
	},
	{
		name: "sessiongate.device.mismatches", unit: "{mismatch}",
		desc:    "Device cookies that named a different user than the session.",
		members: []member{{id: sessiongate.MetricDeviceMismatch}},
	},
	{
		name: "sessiongate.store.errors", unit: "{error}",
		desc:    "Operations failed by a session store error.",
		members: []member{{id: sessiongate.MetricStoreUnavailable}},
	},
}

// latency maps engine histograms to OTel gauge names. OTel has no observable histogram, so
// each becomes a cumulative bucket gauge keyed by le plus a count gauge.
var latency = []struct {
	id   sessiongate.MetricID
	name string
	desc string
}{
	{sessiongate.MetricLoadLatency, "sessiongate.session.load.duration", "LoadSession latency."},
	{sessiongate.MetricHandshakeLatency, "sessiongate.handshake.duration", "Connection handshake latency."},
}

type point struct {
	id   sessiongate.MetricID
	opts metric.ObserveOption
}

type counterFamily struct {
	instrument metric.Int64ObservableCounter
	points     []point
}

type latencyGauge struct {
	id      sessiongate.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes engine metrics through observable OTel instruments.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []counterFamily
	latency      []latencyGauge
	auditDropped metric.Int64ObservableCounter
}

// bucketAttrs holds one le attribute option per engine bucket, +Inf last.
var bucketAttrs = func() []metric.ObserveOption {
	out := make([]metric.ObserveOption, 0, len(internaldefs.HistogramUpperBounds)+1)
	for _, bound := range internaldefs.HistogramUpperBounds {
		le := strconv.FormatFloat(bound, 'g', -1, 64)
		out = append(out, metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le))))
	}
	return append(out, metric.WithAttributeSet(attribute.NewSet(attribute.String("le", "+Inf"))))
}()

// NewOTelExporter registers instruments on meter that read from engine.
func NewOTelExporter(meter metric.Meter, engine *sessiongate.Engine) (*OTelExporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers instruments on meter that read from source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, f := range families {
		ins, err := meter.Int64ObservableCounter(f.name, metric.WithDescription(f.desc), metric.WithUnit(f.unit))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", f.name, err)
		}
		cf := counterFamily{instrument: ins, points: make([]point, 0, len(f.members))}
		for _, m := range f.members {
			p := point{id: m.id}
			if f.key != "" {
				p.opts = metric.WithAttributeSet(attribute.NewSet(attribute.String(f.key, m.value)))
			}
			cf.points = append(cf.points, p)
		}
		e.counters = append(e.counters, cf)
		observables = append(observables, ins)
	}

	for _, l := range latency {
		buckets, err := meter.Int64ObservableGauge(l.name+".bucket",
			metric.WithDescription(l.desc+" Cumulative count per upper bound in seconds."))
		if err != nil {
			return nil, fmt.Errorf("create gauge %s.bucket: %w", l.name, err)
		}
		count, err := meter.Int64ObservableGauge(l.name+".count", metric.WithDescription(l.desc+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("create gauge %s.count: %w", l.name, err)
		}
		e.latency = append(e.latency, latencyGauge{id: l.id, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	auditDropped, err := meter.Int64ObservableCounter("sessiongate.audit.dropped",
		metric.WithDescription(internaldefs.AuditDroppedHelp), metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for _, cf := range e.counters {
		for _, p := range cf.points {
			if p.opts == nil {
				o.ObserveInt64(cf.instrument, int64(snapshot.Counters[p.id]))
				continue
			}
			o.ObserveInt64(cf.instrument, int64(snapshot.Counters[p.id]), p.opts)
		}
	}

	for _, l := range e.latency {
		raw, ok := snapshot.Histograms[l.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, attrs := range bucketAttrs {
			o.ObserveInt64(l.buckets, int64(cumulative[i]), attrs)
		}
		o.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]))
	}

	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
