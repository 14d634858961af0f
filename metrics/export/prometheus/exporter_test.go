package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

	otpcore "github.com/MrEthical07/otpcore"
)

type stubSource struct {
	snapshot otpcore.MetricsSnapshot
	dropped  uint64
}

func (s *stubSource) MetricsSnapshot() otpcore.MetricsSnapshot { return s.snapshot }
func (s *stubSource) AuditDropped() uint64                     { return s.dropped }

func snapshotWith(counters map[otpcore.MetricID]uint64, latency []uint64) otpcore.MetricsSnapshot {
	s := otpcore.MetricsSnapshot{
		Counters:   counters,
		Histograms: map[otpcore.MetricID][]uint64{},
	}
	if latency != nil {
		s.Histograms[otpcore.MetricValidateLatency] = latency
	}
	return s
}

func TestRenderCounters(t *testing.T) {
	source := &stubSource{
		snapshot: snapshotWith(map[otpcore.MetricID]uint64{
			otpcore.MetricOTPRequested: 7,
			otpcore.MetricOTPVerified:  3,
		}, nil),
		dropped: 2,
	}

	out := NewExporterFromSource(source).Render()

	for _, want := range []string{
		"otpcore_otp_requested_total 7",
		"otpcore_otp_verified_total 3",
		"otpcore_refresh_success_total 0",
		"otpcore_audit_dropped_total 2",
		"# TYPE otpcore_otp_requested_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestRenderHistogramCumulative(t *testing.T) {
	source := &stubSource{
		snapshot: snapshotWith(nil, []uint64{4, 2, 0, 1, 0, 0, 0, 0}),
	}

	out := NewExporterFromSource(source).Render()

	for _, want := range []string{
		`otpcore_validate_latency_ms_bucket{le="5"} 4`,
		`otpcore_validate_latency_ms_bucket{le="10"} 6`,
		`otpcore_validate_latency_ms_bucket{le="50"} 7`,
		`otpcore_validate_latency_ms_bucket{le="+Inf"} 7`,
		"otpcore_validate_latency_ms_count 7",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestRenderEmptySource(t *testing.T) {
	out := NewExporterFromSource(&stubSource{snapshot: snapshotWith(nil, nil)}).Render()
	if out != "" {
		t.Fatalf("expected empty render, got:\n%s", out)
	}
}

func TestHandlerContentType(t *testing.T) {
	source := &stubSource{
		snapshot: snapshotWith(map[otpcore.MetricID]uint64{otpcore.MetricLogout: 1}, nil),
	}

	rec := httptest.NewRecorder()
	NewExporterFromSource(source).Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("content type = %q", got)
	}
	if !strings.Contains(rec.Body.String(), "otpcore_logout_total 1") {
		t.Fatalf("body missing counter:\n%s", rec.Body.String())
	}
}
