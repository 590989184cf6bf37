/**
 * @description
 * Scheduled job implementations for the peer-network-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
)

// GroupFormer runs one auto-grouping pass.
type GroupFormer interface {
	AutoFormGroups(ctx context.Context) (*AutoGroupReport, error)
}

// ReviewLister reports transfers waiting for a reviewer.
type ReviewLister interface {
	ListPendingReviews(ctx context.Context, limit int) ([]*domain.Transaction, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	former     GroupFormer
	reviews    ReviewLister
	jobTimeout time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(former GroupFormer, reviews ReviewLister, logger *slog.Logger) *Jobs {
	return &Jobs{
		former:     former,
		reviews:    reviews,
		jobTimeout: 10 * time.Minute,
		staleAfter: 24 * time.Hour,
		logger:     logger,
	}
}

// FormGroups is the periodic auto-grouping job.
func (j *Jobs) FormGroups() {
	j.logger.Info("starting auto-grouping job")
	ctx, cancel := context.WithTimeout(context.Background(), j.jobTimeout)
	defer cancel()

	report, err := j.former.AutoFormGroups(ctx)
	if err != nil {
		j.logger.Error("auto-grouping job finished with errors", "error", err)
	}
	if report != nil {
		j.logger.Info("auto-grouping job finished", "created", report.Created, "updated", report.Updated, "members_added", report.MembersAdded)
	}
}

// ReportStaleReviews logs manual reviews that have been waiting longer than a day.
func (j *Jobs) ReportStaleReviews() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pending, err := j.reviews.ListPendingReviews(ctx, 500)
	if err != nil {
		j.logger.Error("failed to list pending reviews", "error", err)
		return
	}
	cutoff := time.Now().UTC().Add(-j.staleAfter)
	stale := 0
	for _, tx := range pending {
		if tx.CreatedAt.Before(cutoff) {
			stale++
			j.logger.Warn("manual review is stale", "transaction_id", tx.ID, "requester_id", tx.RequesterID, "created_at", tx.CreatedAt)
		}
	}
	if stale == 0 {
		j.logger.Info("no stale manual reviews", "pending", len(pending))
	}
}
