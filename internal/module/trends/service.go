package trends

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/module/media"
	"github.com/titleforge/server/internal/module/reputation"
)

const listLimit = 100

// ErrInvalidSubmission indicates a trend submission failed validation.
var ErrInvalidSubmission = errors.New("invalid trend submission")

// ErrInvalidVote indicates a vote value other than +1 or -1.
var ErrInvalidVote = errors.New("vote value must be 1 or -1")

// Service implements the trend board.
type Service struct {
	repo       Repository
	images     *media.Store
	reputation reputation.Repository
	logger     *zap.Logger
}

// NewService creates a new trend service.
func NewService(repo Repository, images *media.Store, reputationRepo reputation.Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		images:     images,
		reputation: reputationRepo,
		logger:     logger,
	}
}

// List returns trends ordered by points descending.
func (s *Service) List(ctx context.Context) ([]Trend, error) {
	return s.repo.List(ctx, listLimit)
}

// Submit validates, stores and credits a new trend. The image is
// optional; a nil reader skips the upload.
func (s *Service) Submit(ctx context.Context, email string, input SubmitInput, image io.Reader, imageType string, imageSize int64) (*Trend, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidSubmission)
	}
	switch input.Platform {
	case "youtube", "instagram", "tiktok":
	default:
		return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidSubmission, input.Platform)
	}

	trend := &Trend{
		Title:          input.Title,
		Description:    input.Description,
		Platform:       input.Platform,
		SubmitterEmail: email,
	}

	if image != nil {
		if s.images == nil {
			return nil, fmt.Errorf("%w: image uploads are not enabled", ErrInvalidSubmission)
		}
		url, err := s.images.Upload(ctx, "trends", imageType, image, imageSize)
		if err != nil {
			if errors.Is(err, media.ErrUnsupportedImageType) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
			}
			return nil, err
		}
		trend.ImageURL = url
	}

	if err := s.repo.Create(ctx, trend); err != nil {
		return nil, err
	}

	if _, err := s.reputation.AddContribution(ctx, email, reputation.ContributionTrend, reputation.TrendPoints); err != nil {
		// The trend is in; losing the reputation credit is not worth
		// failing the request over.
		s.logger.Warn("trend reputation credit failed", zap.Error(err), zap.String("email", email))
	}

	return trend, nil
}

// Vote casts or flips the caller's vote and mirrors the point delta
// onto the submitter's reputation.
func (s *Service) Vote(ctx context.Context, email string, trendID uuid.UUID, value int) (*Trend, error) {
	if value != 1 && value != -1 {
		return nil, ErrInvalidVote
	}

	trend, delta, err := s.repo.CastVote(ctx, trendID, email, value)
	if err != nil {
		return nil, err
	}

	if trend.SubmitterEmail != email && delta != 0 {
		if _, err := s.reputation.AddContribution(ctx, trend.SubmitterEmail, reputation.ContributionVote, delta); err != nil {
			s.logger.Warn("vote reputation update failed",
				zap.Error(err), zap.String("submitter", trend.SubmitterEmail))
		}
	}

	return trend, nil
}
