// Package dispatch delivers finalized payloads to their backends.
//
// A Backend wraps one transport (SMTP mail, a Discord channel, a Slack
// channel) behind a uniform Send and enforces its own send rate limit.
// The Dispatcher routes a payload to its backend, cleans up attachment
// spool files on every exit path, and reconciles the outcome into the
// audit trail. Both the immediate HTTP path and the scheduler go through the
// Dispatcher, so failures are handled the same way everywhere.
package dispatch
