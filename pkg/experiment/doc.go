// Package experiment routes callers to one of several orchestrator
// configurations (variants) by deterministic hash bucketing, and
// accumulates per-variant outcome metrics for comparative evaluation.
package experiment
