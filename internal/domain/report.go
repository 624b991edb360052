/**
 * @description
 * This file defines the structured result of a backfill sync run. Outcomes are
 * returned to the caller instead of written into shared session state, so an
 * operator run, a scheduled run, and a dry run all produce the same report.
 */
package domain

import "time"

// SyncStatus classifies the outcome of one session during a sync run.
type SyncStatus string

const (
	SyncLinked SyncStatus = "LINKED"
	SyncCreate SyncStatus = "CREATE"
	SyncUpdate SyncStatus = "UPDATE"
	SyncSkip   SyncStatus = "SKIP"
	SyncError  SyncStatus = "ERROR"
)

// SyncOutcome is the per-item record in a sync run report.
type SyncOutcome struct {
	SessionID string     `json:"session_id"`
	Status    SyncStatus `json:"status"`
	Detail    string     `json:"detail,omitempty"`
}

// SyncReport is the full result of one sync run.
type SyncReport struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	DryRun     bool          `json:"dry_run"`
	Outcomes   []SyncOutcome `json:"outcomes"`
}

// Count returns how many outcomes carry the given status.
func (r *SyncReport) Count(status SyncStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}
