// Package common provides shared utilities across the application.
package common

import (
	"fmt"
	"time"
)

// StalenessResult contains the result of a staleness check.
type StalenessResult struct {
	// IsStale indicates whether the tracked state is stale and needs intervention.
	IsStale bool
	// StaleFor is how long the state has gone without evidence of progress.
	// Only meaningful when IsStale is true.
	StaleFor time.Duration
	// Reason provides a human-readable explanation for the staleness decision.
	Reason string
}

// CheckSyncStaleness determines whether a server's running sync should be
// considered abandoned. A sync with no recorded start time counts as stale;
// the row was either written before start tracking existed or by a process
// that died before recording it.
//
// The same check drives two decisions: the scheduler treats a stale sync as
// no obstacle to enqueueing a fresh one, and the reconciler marks the server
// failed so the next cycle can retry it.
func CheckSyncStaleness(lastSyncStarted *time.Time, now time.Time, threshold time.Duration) StalenessResult {
	if lastSyncStarted == nil {
		return StalenessResult{
			IsStale: true,
			Reason:  "sync has no recorded start time, assuming stale",
		}
	}

	elapsed := now.UTC().Sub(lastSyncStarted.UTC())
	if elapsed > threshold {
		return StalenessResult{
			IsStale:  true,
			StaleFor: elapsed,
			Reason: fmt.Sprintf("sync started %s ago, exceeds %s threshold",
				elapsed.Round(time.Second), threshold),
		}
	}

	return StalenessResult{
		Reason: fmt.Sprintf("sync started %s ago, within %s threshold",
			elapsed.Round(time.Second), threshold),
	}
}

// CheckRunStaleness determines whether an in-flight job run is dead based on
// its result row. A run is dead only when BOTH signals are silent: the row
// itself has not been updated within runThreshold, and the heartbeat is
// either missing or older than heartbeatThreshold. A fresh heartbeat keeps a
// long-running job alive even when the row is otherwise untouched.
//
// StaleFor reports the time since the last evidence of life (heartbeat if
// present, otherwise the row update).
func CheckRunStaleness(updatedAt time.Time, lastHeartbeat *time.Time, now time.Time, runThreshold, heartbeatThreshold time.Duration) StalenessResult {
	now = now.UTC()

	sinceUpdate := now.Sub(updatedAt.UTC())
	if sinceUpdate <= runThreshold {
		return StalenessResult{
			Reason: fmt.Sprintf("run updated %s ago, within %s threshold",
				sinceUpdate.Round(time.Second), runThreshold),
		}
	}

	if lastHeartbeat == nil {
		return StalenessResult{
			IsStale:  true,
			StaleFor: sinceUpdate,
			Reason: fmt.Sprintf("run updated %s ago with no heartbeat recorded",
				sinceUpdate.Round(time.Second)),
		}
	}

	sinceHeartbeat := now.Sub(lastHeartbeat.UTC())
	if sinceHeartbeat <= heartbeatThreshold {
		return StalenessResult{
			Reason: fmt.Sprintf("heartbeat %s ago, run is alive",
				sinceHeartbeat.Round(time.Second)),
		}
	}

	return StalenessResult{
		IsStale:  true,
		StaleFor: sinceHeartbeat,
		Reason: fmt.Sprintf("run updated %s ago, last heartbeat %s ago exceeds %s threshold",
			sinceUpdate.Round(time.Second), sinceHeartbeat.Round(time.Second), heartbeatThreshold),
	}
}
