package operations

import (
	"errors"

	apperrors "featureflow/internal/errors"
)

// statusOf maps a run error onto its terminal status. Insufficient data is a
// skip, not a failure: the next trigger retries naturally.
func statusOf(err error) RunStatus {
	switch {
	case err == nil:
		return RunCompleted
	case errors.Is(err, ErrCoalesced):
		return RunCoalesced
	case apperrors.IsInsufficientData(err):
		return RunSkipped
	default:
		return RunFailed
	}
}

// errorType is the metric label for err.
func errorType(err error) string {
	if t := apperrors.TypeOf(err); t != "" {
		return string(t)
	}
	return "UNKNOWN"
}
