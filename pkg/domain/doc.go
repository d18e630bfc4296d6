// Package domain holds the core data model of the orchestration engine:
// tasks, the dependency graph with its lifecycle state machine, executor
// profiles, resilience configuration and run reports.
//
// Invariants enforced here:
//   - the dependency relation is acyclic (checked at construction time)
//   - task ids are unique and every referenced dependency exists
//   - lifecycle transitions follow pending -> ready -> running ->
//     {completed, failed}, with skipped reachable from pending/ready only
package domain
