package trends

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrTrendNotFound indicates the trend does not exist.
var ErrTrendNotFound = errors.New("trend not found")

// ErrDuplicateVote indicates the user already cast this exact vote.
var ErrDuplicateVote = errors.New("already voted")

// Repository defines the interface for trend data access.
type Repository interface {
	Create(ctx context.Context, trend *Trend) error
	Get(ctx context.Context, id uuid.UUID) (*Trend, error)
	List(ctx context.Context, limit int) ([]Trend, error)

	// CastVote records or updates the caller's vote inside one
	// transaction and returns the updated trend. The point delta is
	// the new value for a first vote, or value minus the previous
	// value when the caller flips an existing vote.
	CastVote(ctx context.Context, trendID uuid.UUID, voterEmail string, value int) (*Trend, int, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new trend repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, trend *Trend) error {
	return r.db.WithContext(ctx).Create(trend).Error
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Trend, error) {
	var trend Trend
	err := r.db.WithContext(ctx).First(&trend, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTrendNotFound
		}
		return nil, err
	}
	return &trend, nil
}

func (r *repository) List(ctx context.Context, limit int) ([]Trend, error) {
	var trends []Trend
	err := r.db.WithContext(ctx).
		Order("points DESC, created_at DESC").
		Limit(limit).
		Find(&trends).Error
	if err != nil {
		return nil, err
	}
	return trends, nil
}

func (r *repository) CastVote(ctx context.Context, trendID uuid.UUID, voterEmail string, value int) (*Trend, int, error) {
	var trend Trend
	var delta int

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&trend, "id = ?", trendID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTrendNotFound
			}
			return err
		}

		var existing Vote
		err := tx.Where("trend_id = ? AND voter_email = ?", trendID, voterEmail).
			First(&existing).Error
		switch {
		case err == nil:
			if existing.Value == value {
				return ErrDuplicateVote
			}
			delta = value - existing.Value
			existing.Value = value
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			delta = value
			vote := Vote{TrendID: trendID, VoterEmail: voterEmail, Value: value}
			if err := tx.Create(&vote).Error; err != nil {
				return err
			}
		default:
			return err
		}

		trend.Points += delta
		return tx.Save(&trend).Error
	})
	if err != nil {
		return nil, 0, err
	}
	return &trend, delta, nil
}
