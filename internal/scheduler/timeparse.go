package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// fireTimeLayout is the only accepted registration format. Seconds are
// always zero; sub-minute precision is not part of the request contract.
const fireTimeLayout = "2006-01-02 15:04"

// parseFireAt resolves the caller's local date-time string to an absolute
// instant in loc. It fails closed on any malformed or calendar-invalid
// component instead of slicing fixed offsets out of the string.
func parseFireAt(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) != len(fireTimeLayout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	t, err := time.ParseInLocation(fireTimeLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return t, nil
}
