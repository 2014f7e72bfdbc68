package payment

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventStore tracks which Stripe events have already been applied.
type EventStore interface {
	// MarkProcessed records the event ID and reports whether this call
	// was the first to do so. A false return means the event was
	// already handled and must be skipped.
	MarkProcessed(ctx context.Context, id, eventType string) (bool, error)
}

type eventStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewEventStore creates a new Stripe event idempotency store.
func NewEventStore(db *gorm.DB) EventStore {
	return &eventStore{db: db, now: time.Now}
}

func (s *eventStore) MarkProcessed(ctx context.Context, id, eventType string) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ProcessedEvent{
			ID:         id,
			Type:       eventType,
			ReceivedAt: s.now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
