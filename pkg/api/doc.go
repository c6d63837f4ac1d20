// Package api serves the operator HTTP surface: health and readiness
// probes, Prometheus metrics, and read-only diagnostics.
package api
