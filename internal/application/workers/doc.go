// Package workers provides the bounded worker pool used by the
// hierarchical process policy, plus a health monitor reporting pool status
// to logs and metrics.
package workers
