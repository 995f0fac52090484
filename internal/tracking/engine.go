package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"milestonetracker/api/internal/metrics"
	"milestonetracker/api/internal/rbac"
	"milestonetracker/api/internal/store"
)

const defaultProgressAttempts = 5

// Tx is the set of storage operations the engine runs inside one transaction.
type Tx interface {
	NotificationWriter
	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetMilestone(ctx context.Context, id string) (store.Milestone, error)
	TrackingExists(ctx context.Context, milestoneID, trackerID string) (bool, error)
	ConsumeQuota(ctx context.Context, trackerID string) (int, error)
	CreateTracking(ctx context.Context, milestoneID, trackerID string, at time.Time) error
	IncrementTrackingCount(ctx context.Context, milestoneID string) error
	SetProgress(ctx context.Context, id string, progress, expectedVersion int, at time.Time) error
	ListTrackingsByMilestone(ctx context.Context, milestoneID string) ([]store.Tracking, error)
	MarkTrackingNotified(ctx context.Context, milestoneID, trackerID string, at time.Time) error
	ResetQuota(ctx context.Context, trackerID string) (int, error)
}

// Repository runs fn atomically. Any error from fn discards every write fn made.
type Repository interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

type Engine struct {
	repo             Repository
	emitter          *Emitter
	logger           *zap.Logger
	now              func() time.Time
	progressAttempts int
}

func NewEngine(repo Repository, emitter *Emitter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = NewEmitter(logger)
	}
	return &Engine{
		repo:             repo,
		emitter:          emitter,
		logger:           logger,
		now:              utcNow,
		progressAttempts: defaultProgressAttempts,
	}
}

type TrackResult struct {
	MilestoneID string
	Remaining   int
}

// TrackMilestone records that the caller tracks the milestone, spends one unit
// of their daily allowance, bumps the milestone counter and notifies the owner.
// Either all of it happens or none of it does.
func (e *Engine) TrackMilestone(ctx context.Context, caller Caller, milestoneID string) (TrackResult, error) {
	if err := caller.require(rbac.ActionTrack); err != nil {
		e.recordTrack(err)
		return TrackResult{}, err
	}

	var result TrackResult
	err := e.repo.InTx(ctx, func(tx Tx) error {
		tracker, err := tx.GetUserByID(ctx, caller.ID)
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindUnauthenticated, "Unknown user")
		}
		if err != nil {
			return fmt.Errorf("load tracker: %w", err)
		}
		if tracker.Remaining <= 0 {
			return ErrQuotaExhausted
		}

		milestone, err := tx.GetMilestone(ctx, milestoneID)
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindNotFound, "Milestone not found")
		}
		if err != nil {
			return fmt.Errorf("load milestone: %w", err)
		}

		exists, err := tx.TrackingExists(ctx, milestone.ID, tracker.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyTracking
		}

		remaining, err := tx.ConsumeQuota(ctx, tracker.ID)
		if errors.Is(err, store.ErrQuotaExhausted) {
			return ErrQuotaExhausted
		}
		if err != nil {
			return err
		}

		now := e.now()
		if err := tx.CreateTracking(ctx, milestone.ID, tracker.ID, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrConflict
			}
			return err
		}
		if err := tx.IncrementTrackingCount(ctx, milestone.ID); err != nil {
			return err
		}

		if _, err := e.emitter.Emit(ctx, tx, milestone.OwnerID, store.KindNewTracker,
			"New Tracker", newTrackerMessage(tracker.Username, milestone.Name), milestone.ID); err != nil {
			return err
		}

		result = TrackResult{MilestoneID: milestone.ID, Remaining: remaining}
		return nil
	})
	e.recordTrack(err)
	if err != nil {
		return TrackResult{}, err
	}

	e.logger.Info("milestone tracked",
		zap.String("milestone_id", result.MilestoneID),
		zap.String("tracker_id", caller.ID),
		zap.Int("remaining", result.Remaining),
	)
	return result, nil
}

type ProgressResult struct {
	Milestone store.Milestone
	// Completed is true only when this update moved progress to 100 from below it.
	Completed bool
	Notified  int
}

// UpdateProgress sets the milestone progress. Crossing into 100 notifies every
// current tracker once; staying at 100 or moving down notifies no one.
func (e *Engine) UpdateProgress(ctx context.Context, caller Caller, milestoneID string, progress int) (ProgressResult, error) {
	if err := caller.require(rbac.ActionManageMilestone); err != nil {
		return ProgressResult{}, err
	}
	if progress < 0 || progress > 100 {
		return ProgressResult{}, newError(KindInvalidArgument, "Progress must be between 0 and 100")
	}

	for attempt := 1; ; attempt++ {
		result, err := e.applyProgress(ctx, caller, milestoneID, progress)
		if err == nil {
			metrics.IncrementProgressUpdate(result.Completed)
			e.logger.Info("milestone progress updated",
				zap.String("milestone_id", milestoneID),
				zap.Int("progress", progress),
				zap.Bool("completed", result.Completed),
				zap.Int("notified", result.Notified),
			)
			return result, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return ProgressResult{}, err
		}
		if attempt >= e.progressAttempts {
			return ProgressResult{}, fmt.Errorf("update progress after %d attempts: %w", attempt, err)
		}
		e.logger.Debug("progress update raced, retrying",
			zap.String("milestone_id", milestoneID),
			zap.Int("attempt", attempt),
		)
	}
}

func (e *Engine) applyProgress(ctx context.Context, caller Caller, milestoneID string, progress int) (ProgressResult, error) {
	var result ProgressResult
	err := e.repo.InTx(ctx, func(tx Tx) error {
		milestone, err := tx.GetMilestone(ctx, milestoneID)
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindNotFound, "Milestone not found")
		}
		if err != nil {
			return fmt.Errorf("load milestone: %w", err)
		}
		if milestone.OwnerID != caller.ID {
			return newError(KindForbidden, "Not authorized to update this milestone")
		}

		previous := milestone.Progress
		now := e.now()
		if err := tx.SetProgress(ctx, milestone.ID, progress, milestone.Version, now); err != nil {
			return err
		}
		milestone.Progress = progress
		milestone.Version++
		milestone.UpdatedAt = now

		result = ProgressResult{Milestone: milestone}
		if previous == 100 || progress != 100 {
			return nil
		}
		result.Completed = true

		trackings, err := tx.ListTrackingsByMilestone(ctx, milestone.ID)
		if err != nil {
			return err
		}
		for _, t := range trackings {
			if _, err := e.emitter.Emit(ctx, tx, t.TrackerID, store.KindMilestoneCompleted,
				"Milestone Completed", completedMessage(milestone.Name), milestone.ID); err != nil {
				return err
			}
			if err := tx.MarkTrackingNotified(ctx, milestone.ID, t.TrackerID, now); err != nil {
				return err
			}
		}
		result.Notified = len(trackings)
		return nil
	})
	return result, err
}

// ResetQuota restores the caller's remaining allowance to their daily limit.
func (e *Engine) ResetQuota(ctx context.Context, caller Caller) (int, error) {
	if err := caller.require(rbac.ActionResetQuota); err != nil {
		return 0, err
	}

	var remaining int
	err := e.repo.InTx(ctx, func(tx Tx) error {
		var err error
		remaining, err = tx.ResetQuota(ctx, caller.ID)
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindUnauthenticated, "Unknown user")
		}
		return err
	})
	if err != nil {
		return 0, err
	}

	metrics.IncrementQuotaReset()
	e.logger.Info("quota reset", zap.String("tracker_id", caller.ID), zap.Int("remaining", remaining))
	return remaining, nil
}

func (e *Engine) recordTrack(err error) {
	metrics.IncrementTrackOutcome(trackOutcome(err))
}

func trackOutcome(err error) string {
	if err == nil {
		return "tracked"
	}
	var terr *Error
	if !errors.As(err, &terr) {
		return "error"
	}
	switch terr.Kind {
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindAlreadyTracking:
		return "already_tracking"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindForbidden, KindUnauthenticated:
		return "forbidden"
	default:
		return "error"
	}
}
