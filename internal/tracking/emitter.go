package tracking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"milestonetracker/api/internal/metrics"
	"milestonetracker/api/internal/store"
	"milestonetracker/api/internal/util"
)

// NotificationWriter is where emitted notifications are persisted.
type NotificationWriter interface {
	InsertNotification(ctx context.Context, n store.Notification) error
}

// Emitter appends notification records. It does not check that the recipient exists.
type Emitter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewEmitter(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{logger: logger, now: utcNow}
}

func (e *Emitter) Emit(ctx context.Context, w NotificationWriter, recipientID, kind, title, message, relatedMilestoneID string) (store.Notification, error) {
	n := store.Notification{
		ID:                 util.NewID("ntf"),
		RecipientID:        recipientID,
		Title:              title,
		Message:            message,
		Kind:               kind,
		Read:               false,
		RelatedMilestoneID: relatedMilestoneID,
		CreatedAt:          e.now(),
	}
	if err := w.InsertNotification(ctx, n); err != nil {
		return store.Notification{}, fmt.Errorf("emit %s notification: %w", kind, err)
	}
	metrics.IncrementNotification(kind)
	e.logger.Debug("notification emitted",
		zap.String("notification_id", n.ID),
		zap.String("kind", kind),
		zap.String("recipient_id", recipientID),
	)
	return n, nil
}

func newTrackerMessage(trackerName, milestoneName string) string {
	return fmt.Sprintf("%s is now tracking your \"%s\" milestone.", trackerName, milestoneName)
}

func completedMessage(milestoneName string) string {
	return milestoneName + " has been marked as complete."
}

func utcNow() time.Time {
	return time.Now().UTC()
}
