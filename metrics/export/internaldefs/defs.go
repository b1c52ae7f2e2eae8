package internaldefs

import (
	"github.com/MrEthical07/sessiongate"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   sessiongate.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine latency histogram to its exported name.
type HistogramDef struct {
	ID   sessiongate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: sessiongate.MetricSessionCreated, Name: "sessiongate_session_created_total", Help: "Anonymous sessions created."},
	{ID: sessiongate.MetricSessionRefreshed, Name: "sessiongate_session_refreshed_total", Help: "Rolling session expiry refreshes."},
	{ID: sessiongate.MetricSessionCookieInvalid, Name: "sessiongate_session_cookie_invalid_total", Help: "Session cookies that failed signature verification."},
	{ID: sessiongate.MetricSessionNotFound, Name: "sessiongate_session_not_found_total", Help: "Verified session cookies whose record was absent or expired."},
	{ID: sessiongate.MetricSessionLifetimeExceeded, Name: "sessiongate_session_lifetime_exceeded_total", Help: "Sessions dropped by the absolute lifetime cap."},
	{ID: sessiongate.MetricStoreUnavailable, Name: "sessiongate_store_unavailable_total", Help: "Operations failed by a session store error."},
	{ID: sessiongate.MetricAuthorizeAllowed, Name: "sessiongate_authorize_allowed_total", Help: "Authorization checks that allowed the request."},
	{ID: sessiongate.MetricAuthorizeDenied, Name: "sessiongate_authorize_denied_total", Help: "Authorization checks that denied the request."},
	{ID: sessiongate.MetricDeviceMismatch, Name: "sessiongate_device_mismatch_total", Help: "Device cookies that named a different user than the session."},
	{ID: sessiongate.MetricHandshakeAuthenticated, Name: "sessiongate_handshake_authenticated_total", Help: "Accepted connection handshakes."},
	{ID: sessiongate.MetricHandshakeRejected, Name: "sessiongate_handshake_rejected_total", Help: "Rejected connection handshakes."},
	{ID: sessiongate.MetricConnectionBound, Name: "sessiongate_connection_bound_total", Help: "Connections bound to a session."},
	{ID: sessiongate.MetricConnectionUnbound, Name: "sessiongate_connection_unbound_total", Help: "Connections unbound from a session."},
	{ID: sessiongate.MetricSessionEstablished, Name: "sessiongate_session_established_total", Help: "Sessions established for an authenticated user."},
	{ID: sessiongate.MetricLogout, Name: "sessiongate_logout_total", Help: "Single-session logouts."},
	{ID: sessiongate.MetricLogoutAll, Name: "sessiongate_logout_all_total", Help: "Forced logouts of every session of a user."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: sessiongate.MetricLoadLatency, Name: "sessiongate_load_latency_seconds", Help: "LoadSession latency."},
	{ID: sessiongate.MetricHandshakeLatency, Name: "sessiongate_handshake_latency_seconds", Help: "Connection handshake latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const (
	AuditDroppedName = "sessiongate_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramUpperBounds are the finite bucket bounds in seconds; the engine's last bucket is
// +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters without native
// histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
