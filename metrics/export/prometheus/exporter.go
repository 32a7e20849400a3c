// Package prometheus renders engine counters and histograms in Prometheus
// text exposition format. The exporter reads snapshots only; it never
// registers in a global registry and never mutates engine state. Callers
// mount Handler on their own mux.
package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tradegate/authcore"
)

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

type counterDef struct {
	id   authcore.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{authcore.MetricLoginSuccess, "authcore_login_success_total", "Successful logins."},
	{authcore.MetricLoginFailure, "authcore_login_failure_total", "Rejected login attempts."},
	{authcore.MetricLoginRateLimited, "authcore_login_rate_limited_total", "Logins rejected by the rate limiter hook."},
	{authcore.MetricRefreshSuccess, "authcore_refresh_success_total", "Successful refresh rotations."},
	{authcore.MetricRefreshFailure, "authcore_refresh_failure_total", "Failed refresh attempts, reuse excluded."},
	{authcore.MetricRefreshReuseDetected, "authcore_refresh_reuse_detected_total", "Superseded refresh tokens presented; each revoked a session."},
	{authcore.MetricRefreshRateLimited, "authcore_refresh_rate_limited_total", "Refreshes rejected by the rate limiter hook."},
	{authcore.MetricSessionCreated, "authcore_session_created_total", "Sessions opened by login."},
	{authcore.MetricSessionRevoked, "authcore_session_revoked_total", "Sessions transitioned to revoked."},
	{authcore.MetricLogout, "authcore_logout_total", "Single-session logouts."},
	{authcore.MetricLogoutAll, "authcore_logout_all_total", "Force-logout-all operations."},
	{authcore.MetricPasswordChangeSuccess, "authcore_password_change_success_total", "Completed password changes."},
	{authcore.MetricPasswordChangeFailure, "authcore_password_change_failure_total", "Rejected password changes."},
}

// Upper bounds in seconds for the validate latency histogram, matching the
// engine's fixed bucket layout.
var histogramBounds = [8]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// Exporter renders metrics snapshots in text exposition format.
type Exporter struct {
	source metricsSource
}

func NewExporter(engine *authcore.Engine) *Exporter {
	return &Exporter{source: engine}
}

// NewExporterFromSource builds an exporter over any snapshot provider, which
// keeps tests off a full engine.
func NewExporterFromSource(source metricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler returns an http.Handler serving the current exposition.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(e.Render()))
	})
}

func (e *Exporter) Render() string {
	if e == nil || e.source == nil {
		return ""
	}

	snapshot := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()

	var b strings.Builder
	b.Grow(8192)

	for _, def := range counterDefs {
		writeCounter(&b, def.name, def.help, snapshot.Counters[def.id])
	}

	if buckets, ok := snapshot.Histograms[authcore.MetricValidateLatency]; ok {
		writeHistogram(&b, "authcore_validate_latency_seconds",
			"Access token validation latency.", cumulative(buckets))
	}

	writeCounter(&b, "authcore_audit_dropped_total",
		"Audit events dropped under dispatcher backpressure.", dropped)

	return b.String()
}

func cumulative(buckets []uint64) [8]uint64 {
	var out [8]uint64
	var sum uint64
	for i := 0; i < len(out); i++ {
		if i < len(buckets) {
			sum += buckets[i]
		}
		out[i] = sum
	}
	return out
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" histogram\n")

	for i, le := range histogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	count := cumulative[len(cumulative)-1]
	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(count, 10))
	b.WriteByte('\n')

	// Per-observation durations are not retained in snapshots, so the sum
	// field is pinned at zero.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
