package stories

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/titleforge/server/internal/module/media"
	"github.com/titleforge/server/internal/module/reputation"
)

const listLimit = 100

// ErrInvalidStory indicates a story submission failed validation.
var ErrInvalidStory = errors.New("invalid story submission")

// SubmitInput carries a new success story.
type SubmitInput struct {
	Title     string
	TitleUsed string
	Platform  string
	Story     string
	Metrics   Metrics
}

// Service implements the success story board.
type Service struct {
	db         *gorm.DB
	images     *media.Store
	reputation reputation.Repository
	logger     *zap.Logger
}

// NewService creates a new story service.
func NewService(db *gorm.DB, images *media.Store, reputationRepo reputation.Repository, logger *zap.Logger) *Service {
	return &Service{
		db:         db,
		images:     images,
		reputation: reputationRepo,
		logger:     logger,
	}
}

// List returns stories, newest first.
func (s *Service) List(ctx context.Context) ([]SuccessStory, error) {
	var stories []SuccessStory
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(listLimit).
		Find(&stories).Error
	if err != nil {
		return nil, err
	}
	return stories, nil
}

// Submit validates and stores a story, credits the author and grants
// any badges the metrics earn.
func (s *Service) Submit(ctx context.Context, email string, input SubmitInput, image io.Reader, imageType string, imageSize int64) (*SuccessStory, error) {
	if input.Title == "" || input.TitleUsed == "" {
		return nil, fmt.Errorf("%w: title and titleUsed are required", ErrInvalidStory)
	}
	switch input.Platform {
	case "youtube", "instagram", "tiktok":
	default:
		return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidStory, input.Platform)
	}
	if input.Metrics.Views7d < 0 || input.Metrics.CTR < 0 || input.Metrics.Likes < 0 {
		return nil, fmt.Errorf("%w: metrics must not be negative", ErrInvalidStory)
	}

	story := &SuccessStory{
		AuthorEmail: email,
		Title:       input.Title,
		TitleUsed:   input.TitleUsed,
		Platform:    input.Platform,
		Story:       input.Story,
	}
	story.SetMetrics(input.Metrics)

	if image != nil {
		if s.images == nil {
			return nil, fmt.Errorf("%w: image uploads are not enabled", ErrInvalidStory)
		}
		url, err := s.images.Upload(ctx, "stories", imageType, image, imageSize)
		if err != nil {
			if errors.Is(err, media.ErrUnsupportedImageType) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidStory, err)
			}
			return nil, err
		}
		story.ImageURL = url
	}

	if err := s.db.WithContext(ctx).Create(story).Error; err != nil {
		return nil, err
	}

	if _, err := s.reputation.AddContribution(ctx, email, reputation.ContributionStory, reputation.StoryPoints); err != nil {
		s.logger.Warn("story reputation credit failed", zap.Error(err), zap.String("email", email))
	}
	if badges := input.Metrics.Badges(); len(badges) > 0 {
		if err := s.reputation.GrantBadges(ctx, email, badges); err != nil {
			s.logger.Warn("badge grant failed", zap.Error(err), zap.String("email", email))
		}
	}

	return story, nil
}
