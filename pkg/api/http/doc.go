// Package http exposes the REST API for submitting, inspecting and
// cancelling runs, plus experiment assignment, worker pool introspection,
// health and Prometheus metrics.
package http
