// Package otel publishes authkit engine metrics through the OpenTelemetry
// metric API.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter.
// Each latency histogram becomes a "_bucket" gauge carrying an "le"
// attribute and a "_count" gauge; both are skipped while latency
// histograms are disabled. The caller owns the MeterProvider.
package otel
