/**
 * @description
 * This file implements the operator-triggered backfill sync: a paginated walk
 * over historical checkout sessions, reconciling each one independently. One
 * failing session is recorded in the run report and never aborts its siblings;
 * the run is interruptible between items via the context.
 */
package app

import (
	"context"
	"log"

	"github.com/memberly/access-service/internal/domain"
	"github.com/memberly/access-service/pkg/stripeclient"
)

const syncPageSize = 100

// SyncOptions controls one backfill run.
type SyncOptions struct {
	// UpdateExisting re-ingests sessions already linked to a purchase.
	UpdateExisting bool
	// DryRun produces the full decision trace without writing anything.
	DryRun bool
	// Limit caps the number of sessions examined; zero means no cap.
	Limit int
	// CreatedSince restricts the listing to sessions created at or after the
	// given unix timestamp; zero means no restriction.
	CreatedSince int64
}

// RunSync walks historical sessions and reconciles each into purchase state.
// The returned report lists one outcome per examined session. A listing
// failure ends the run early but still returns the outcomes gathered so far.
func (s *Service) RunSync(ctx context.Context, opts SyncOptions) (*domain.SyncReport, error) {
	report := &domain.SyncReport{StartedAt: s.now(), DryRun: opts.DryRun}
	defer func() { report.FinishedAt = s.now() }()

	params := stripeclient.ListSessionsParams{Limit: syncPageSize, CreatedGTE: opts.CreatedSince}
	examined := 0

	for {
		if opts.Limit > 0 && opts.Limit-examined < params.Limit {
			params.Limit = opts.Limit - examined
		}
		page, err := s.provider.ListSessions(ctx, params)
		if err != nil {
			log.Printf("level=error component=sync msg=\"session listing failed\" starting_after=%s err=%v", params.StartingAfter, err)
			return report, err
		}

		for i := range page.Data {
			if ctx.Err() != nil {
				log.Printf("level=warn component=sync msg=\"run interrupted\" examined=%d err=%v", examined, ctx.Err())
				return report, ctx.Err()
			}
			report.Outcomes = append(report.Outcomes, s.syncOne(ctx, &page.Data[i], opts))
			examined++
			if opts.Limit > 0 && examined >= opts.Limit {
				s.logSyncSummary(report, examined)
				return report, nil
			}
		}

		if !page.HasMore || len(page.Data) == 0 {
			break
		}
		params.StartingAfter = page.Data[len(page.Data)-1].ID
	}

	s.logSyncSummary(report, examined)
	return report, nil
}

// syncOne reconciles a single session. Errors are captured into the outcome
// so the batch continues; the session id, user and scope context are logged
// where the failure happened.
func (s *Service) syncOne(ctx context.Context, sess *stripeclient.CheckoutSession, opts SyncOptions) domain.SyncOutcome {
	if !sess.Completed() {
		return domain.SyncOutcome{SessionID: sess.ID, Status: domain.SyncSkip, Detail: "session not completed/paid"}
	}

	_, outcome, err := s.ingestSession(ctx, sess, ingestOptions{
		updateExisting: opts.UpdateExisting,
		dryRun:         opts.DryRun,
		source:         "sync",
	})
	if err != nil {
		log.Printf("level=error component=sync msg=\"session reconcile failed\" session_id=%s err=%v", sess.ID, err)
	}
	return outcome
}

func (s *Service) logSyncSummary(report *domain.SyncReport, examined int) {
	log.Printf("level=info component=sync msg=\"run finished\" examined=%d created=%d updated=%d linked=%d skipped=%d errors=%d dry_run=%t",
		examined,
		report.Count(domain.SyncCreate),
		report.Count(domain.SyncUpdate),
		report.Count(domain.SyncLinked),
		report.Count(domain.SyncSkip),
		report.Count(domain.SyncError),
		report.DryRun,
	)
}
