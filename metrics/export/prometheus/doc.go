// Package prometheus exposes authkit engine metrics through client_golang.
//
// [Exporter] is a prometheus.Collector: register it with any registry, or
// mount [Exporter.Handler], which serves it from a private registry.
// Counters are named authkit_*_total; latency histograms are
// authkit_login_latency_seconds and authkit_validate_latency_seconds.
//
// The exporter reads engine snapshots on every scrape and never mutates
// engine state.
package prometheus
