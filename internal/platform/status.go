package platform

import "strings"

// Status tables per platform. Keys are lower-case raw states.
var (
	airbyteStatuses = map[string]CanonicalStatus{
		"succeeded":  StatusSuccess,
		"failed":     StatusFailed,
		"cancelled":  StatusCancelled,
		"running":    StatusRunning,
		"pending":    StatusPending,
		"incomplete": StatusRunning,
	}

	// Maps to: Power Automate run properties.status.
	powerAutomateStatuses = map[string]CanonicalStatus{
		"succeeded": StatusSuccess,
		"failed":    StatusFailed,
		"cancelled": StatusCancelled,
		"running":   StatusRunning,
		"waiting":   StatusPending,
		"suspended": StatusPending,
	}

	// Maps to: TASK_HISTORY.STATE.
	snowflakeTaskStatuses = map[string]CanonicalStatus{
		"succeeded": StatusSuccess,
		"failed":    StatusFailed,
		"cancelled": StatusCancelled,
		"running":   StatusRunning,
		"executing": StatusRunning,
		"scheduled": StatusPending,
		"skipped":   StatusCancelled,
	}

	// Databricks life_cycle_state values for runs that have not finished.
	databricksInFlight = map[string]bool{
		"pending":           true,
		"queued":            true,
		"running":           true,
		"blocked":           true,
		"terminating":       true,
		"waiting_for_retry": true,
	}

	// Databricks result_state values, consulted only once a run terminated.
	databricksResults = map[string]CanonicalStatus{
		"success":   StatusSuccess,
		"failed":    StatusFailed,
		"timedout":  StatusFailed,
		"canceled":  StatusCancelled,
		"cancelled": StatusCancelled,
	}
)

// MapStatus translates a raw platform status into a CanonicalStatus.
// It never fails: anything unrecognized is StatusUnknown.
//
// Databricks accepts either a bare life_cycle_state or the composite
// "LIFECYCLE/RESULT" form, e.g. "TERMINATED/SUCCESS".
func MapStatus(kind PlatformKind, raw string) CanonicalStatus {
	key := normalizeKey(raw)
	switch kind {
	case KindAirbyte:
		return lookup(airbyteStatuses, key)
	case KindPowerAutomate:
		return lookup(powerAutomateStatuses, key)
	case KindSnowflakeTask:
		return lookup(snowflakeTaskStatuses, key)
	case KindDatabricks:
		lifecycle, result, _ := strings.Cut(key, "/")
		return MapDatabricksState(lifecycle, result)
	default:
		return StatusUnknown
	}
}

// MapDatabricksState resolves a Databricks run state pair. The lifecycle
// decides whether the run finished; only then does the result state matter.
func MapDatabricksState(lifecycle, result string) CanonicalStatus {
	lc := normalizeKey(lifecycle)
	switch {
	case lc == "terminated" || lc == "internal_error":
		return lookup(databricksResults, normalizeKey(result))
	case lc == "skipped":
		return StatusCancelled
	case databricksInFlight[lc]:
		return StatusRunning
	default:
		return StatusUnknown
	}
}

func lookup(table map[string]CanonicalStatus, key string) CanonicalStatus {
	if s, ok := table[key]; ok {
		return s
	}
	return StatusUnknown
}

func normalizeKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
