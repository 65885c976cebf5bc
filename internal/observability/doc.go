// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the control plane.
//
// Every playbook run, worker task, policy adaptation and canary report is
// recorded through Metrics. Metrics owns its registry so tests can build
// isolated instances.
package observability
