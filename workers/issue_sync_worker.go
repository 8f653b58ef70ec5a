// workers/issue_sync_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ThirDecade2020/GitPaid/models"
	"github.com/ThirDecade2020/GitPaid/services"
)

// IssueSyncWorker is the webhook fallback: it periodically re-checks the
// issues behind claimed bounties and completes those whose issue has closed
// while the webhook delivery was missed. It runs the same completion path as
// the webhook, so the status guard makes the race between the two safe.
type IssueSyncWorker struct {
	Bounties *services.BountyService
	Verifier services.IssueVerifier
	Interval time.Duration
}

func NewIssueSyncWorker(bounties *services.BountyService, verifier services.IssueVerifier, interval time.Duration) *IssueSyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &IssueSyncWorker{Bounties: bounties, Verifier: verifier, Interval: interval}
}

// Start schedules the sync job and blocks until ctx is cancelled.
func (w *IssueSyncWorker) Start(ctx context.Context) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Printf("❌ [IssueSync] failed to create scheduler: %v", err)
		return
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.Interval),
		gocron.NewTask(func() {
			w.SyncOnce(ctx)
		}),
	)
	if err != nil {
		log.Printf("❌ [IssueSync] failed to schedule job: %v", err)
		return
	}

	sched.Start()
	log.Printf("Starting issue sync worker (every %s)...", w.Interval)

	<-ctx.Done()
	_ = sched.Shutdown()
	log.Println("Issue sync worker stopped.")
}

// SyncOnce runs a single pass over all claimed bounties.
func (w *IssueSyncWorker) SyncOnce(ctx context.Context) {
	bounties, err := w.Bounties.ListBounties(models.BountyStatusClaimed, "", "")
	if err != nil {
		log.Printf("❌ [IssueSync] failed to list claimed bounties: %v", err)
		return
	}
	if len(bounties) == 0 {
		return
	}

	log.Printf("[IssueSync] Checking %d claimed bounties...", len(bounties))

	for _, b := range bounties {
		closed, err := w.Verifier.IsIssueClosed(ctx, b.RepoOwner, b.RepoName, b.IssueNumber)
		if err != nil {
			// Upstream hiccup — the next tick retries the same bounty.
			log.Printf("❌ [IssueSync] issue check failed for %s/%s#%d: %v",
				b.RepoOwner, b.RepoName, b.IssueNumber, err)
			continue
		}
		if !closed {
			continue
		}

		if _, err := w.Bounties.Complete(ctx, b.CreatedByUserID, b.ID, true); err != nil {
			if services.KindOf(err) == services.ErrKindInvalidTransition {
				// Lost the race to a webhook or the user. Fine.
				continue
			}
			log.Printf("❌ [IssueSync] failed to complete bounty %s: %v", b.ID, err)
			continue
		}
		log.Printf("✅ [IssueSync] Completed bounty %s for closed issue %s/%s#%d",
			b.ID, b.RepoOwner, b.RepoName, b.IssueNumber)
	}
}
