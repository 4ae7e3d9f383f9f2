// Package scheduler holds dispatch requests bound to a future instant and
// fires each exactly once.
//
// A registered job is written to storage as Pending before Register
// returns, then owns one timer. Firing moves the job through
// Pending -> Dispatching -> Completed/Failed; the transition out of
// Pending is compare-and-set, so a job can never fire twice even when a
// timer and the recovery sweep race. On startup, Pending rows are
// re-hydrated: future jobs get fresh timers and past-due jobs fire as soon
// as possible.
//
// There is no cancel API, no retry, and no repeat interval. A failed
// dispatch stays Failed, with the error on the job row, in the audit
// trail, and in the operational log.
package scheduler
