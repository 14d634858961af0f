// Package prometheus renders engine metrics in Prometheus text
// exposition format.
//
// [NewExporter] accepts an [otpcore.Engine] and exposes an
// [net/http.Handler] that renders all counters and histograms. Counter
// names are prefixed otpcore_*_total; the single histogram is
// otpcore_validate_latency_ms.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount
//     the Handler.
//   - Mutate engine state.
package prometheus
