// Package tick is the periodic orchestrator of the delivery engine.
//
// # Overview
//
// On a fixed cron cadence (hourly by default) one tick enumerates every
// user, group, and enabled schedule in the store, asks the occurrence
// evaluator whether each schedule is due right now, submits due schedules to
// the fan-out service, and commits the per-schedule idempotency marker once
// fan-out reports success.
//
// # Concurrency contract
//
// At most one tick runs at a time: the cron trigger skips if the previous
// run is still executing. Fan-outs for independent schedules run concurrently
// on the fan-out worker pool. Within one schedule the order is strict:
// evaluate, fan out, then mark fired. The marker write is a compare-and-swap
// on the schedule's version token; losing the swap means another writer
// already fired the occurrence and is not an error.
//
// # Failure isolation
//
// One schedule's failure never aborts the tick. A hard fan-out failure leaves
// that schedule un-fired, to be retried on the next tick within the same hour
// window. A tick deadline may cut waiting short; markers already committed
// stand, and everything un-marked is picked up again next tick.
package tick
