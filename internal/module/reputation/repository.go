package reputation

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository defines the interface for reputation data access.
type Repository interface {
	// Get returns the user's reputation, creating a zero record on first access.
	Get(ctx context.Context, email string) (*Reputation, error)

	// AddContribution credits points to the user and bumps the counter for
	// the given contribution kind. Negative points are allowed (vote reversal)
	// but the total never drops below zero.
	AddContribution(ctx context.Context, email, kind string, points int) (*Reputation, error)

	// GrantBadges adds any badges the user does not already hold.
	GrantBadges(ctx context.Context, email string, badges []string) error
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository creates a new reputation repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

func (r *repository) Get(ctx context.Context, email string) (*Reputation, error) {
	var rep Reputation
	err := r.db.WithContext(ctx).
		Where(Reputation{Email: email}).
		Attrs(Reputation{Badges: "[]"}).
		FirstOrCreate(&rep).Error
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *repository) AddContribution(ctx context.Context, email, kind string, points int) (*Reputation, error) {
	var rep Reputation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(Reputation{Email: email}).
			Attrs(Reputation{Badges: "[]"}).
			FirstOrCreate(&rep).Error; err != nil {
			return err
		}

		rep.Points += points
		if rep.Points < 0 {
			rep.Points = 0
		}
		switch kind {
		case ContributionTrend:
			rep.TrendsSpotted++
		case ContributionStory:
			rep.SuccessfulPosts++
		}
		rep.LastContribution = r.now()

		return tx.Save(&rep).Error
	})
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *repository) GrantBadges(ctx context.Context, email string, badges []string) error {
	if len(badges) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rep Reputation
		if err := tx.Where(Reputation{Email: email}).
			Attrs(Reputation{Badges: "[]"}).
			FirstOrCreate(&rep).Error; err != nil {
			return err
		}

		held := rep.BadgeList()
		changed := false
		for _, badge := range badges {
			if !contains(held, badge) {
				held = append(held, badge)
				changed = true
			}
		}
		if !changed {
			return nil
		}

		rep.SetBadges(held)
		return tx.Save(&rep).Error
	})
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
