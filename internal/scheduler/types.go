package scheduler

import (
	"errors"
	"time"

	"relayd/internal/relay"
)

// Config controls the scheduler service.
type Config struct {
	// Timezone is the fixed regional zone caller timestamps are
	// interpreted in. IANA name; defaults to Asia/Kolkata.
	Timezone string

	// SweepEvery is the recovery sweep interval (re-arm lost timers,
	// prune retired rows). Default 1m.
	SweepEvery time.Duration

	// Retention keeps terminal job rows around for diagnostics before the
	// sweep prunes them. Default 168h.
	Retention time.Duration
}

// DefaultTimezone matches the deployment the relay was built for.
const DefaultTimezone = "Asia/Kolkata"

var (
	// ErrInvalidTimestamp rejects anything that does not parse strictly as
	// "YYYY-MM-DD HH:MM" with valid calendar components.
	ErrInvalidTimestamp = errors.New("invalid timestamp, expected YYYY-MM-DD HH:MM")

	// ErrPastTimestamp rejects instants the clock has already passed.
	ErrPastTimestamp = errors.New("timestamp is in the past")

	// ErrStopped rejects registrations after Stop.
	ErrStopped = errors.New("scheduler stopped")
)

// Request is one scheduled-dispatch registration.
type Request struct {
	Actor   string
	Backend relay.BackendKind
	Payload relay.Payload

	// When is the caller-supplied local date-time string,
	// "YYYY-MM-DD HH:MM" in the service timezone. Seconds are always zero.
	When string
}

// Handle identifies a registered job for diagnostic inspection.
// There is no cancel or reschedule API.
type Handle struct {
	ID     string
	FireAt time.Time

	// Native is true when firing was deferred to the backend's remote
	// scheduling service and no local timer exists.
	Native bool
}

// JobInfo is a diagnostic snapshot of one job.
type JobInfo struct {
	ID      string
	FireAt  time.Time
	Backend relay.BackendKind
	Actor   string
	Status  string
	Error   string
}

// Snapshot is the scheduler's diagnostic state.
type Snapshot struct {
	Timezone string
	Active   []JobInfo
}
