package incident

import (
	"errors"
	"fmt"

	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// ErrIllegalTransition is returned when a status change is not a legal
// lifecycle step.
var ErrIllegalTransition = errors.New("illegal incident transition")

// Transition advances an incident's status. The lifecycle is
// open -> acknowledged -> resolved; re-applying the current status is an
// idempotent no-op. Anything else fails with ErrIllegalTransition.
// It reports whether the status actually changed.
func Transition(inc *telemetry.Incident, to telemetry.IncidentStatus) (bool, error) {
	if !telemetry.ValidStatus(to) {
		return false, fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, to)
	}
	if inc.Status == to {
		return false, nil
	}
	if !telemetry.CanTransition(inc.Status, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, inc.Status, to)
	}
	inc.Status = to
	return true, nil
}
