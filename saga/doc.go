// Package saga is a durable workflow orchestration engine: it executes
// multi-step business processes as deterministic sagas composed of
// independently retryable activities.
//
// A workflow function re-runs from the top on every execution turn. Each
// activity call is assigned a sequence number in program order; calls whose
// outcome is already recorded in the instance history return synchronously
// without re-invocation, and the first unresolved call suspends the turn.
// The orchestrating turn itself is at-least-once — crashes and lease
// expiries simply cause a replay — while each activity's effect is recorded
// logically once under its (instanceID, seq) idempotency key.
package saga
