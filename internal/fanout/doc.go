// Package fanout expands one due schedule occurrence into delivery-intent
// records, one per resolved group member.
//
// # Concepts
//
// A fan-out is represented as a job: resolve the group's current members,
// append one intent record per member to the store, report a Result. Jobs are
// submitted by the tick orchestrator and processed by a worker pool with rate
// limiting and bounded retry against the intent sink.
//
// # Delivery semantics
//
// Fan-out is the at-least-once boundary. A hard failure (resolver unavailable)
// leaves the schedule un-fired so the next tick retries it; per-contact append
// failures are logged and excluded without failing the job, because repeating
// the whole occurrence would duplicate delivery to the contacts that already
// got an intent. When not a single append succeeds there is nothing to
// duplicate, so the job fails hard and the occurrence is retried. An empty
// member list is a successful no-op.
//
// The service is safe to start/stop at runtime; jobs submitted while stopped
// are rejected rather than queued, since a missed occurrence is retried by the
// next tick anyway.
package fanout
