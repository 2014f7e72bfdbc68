package generation

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/module/billing"
	"github.com/titleforge/server/internal/module/user"
	apperrors "github.com/titleforge/server/internal/shared/errors"
	"github.com/titleforge/server/internal/utils/metrics"
)

// Handler handles title generation requests.
type Handler struct {
	tracker  *billing.Tracker
	provider Provider
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewHandler creates a new generation handler.
func NewHandler(tracker *billing.Tracker, provider Provider, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		tracker:  tracker,
		provider: provider,
		metrics:  m,
		logger:   logger,
	}
}

// RegisterRoutes registers the generation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, rateLimit gin.HandlerFunc) {
	r.POST("/generate", rateLimit, h.Generate)
}

// GenerateRequest is the generation request payload.
type GenerateRequest struct {
	Description    string `json:"description" binding:"required,min=10,max=1000"`
	Platform       string `json:"platform" binding:"required"`
	TargetAudience string `json:"targetAudience" binding:"omitempty,max=200"`
}

// UsageInfo reports quota state after a successful generation.
type UsageInfo struct {
	Current   int `json:"current"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// GenerateResponse is the generation response payload.
type GenerateResponse struct {
	Titles []string  `json:"titles"`
	Usage  UsageInfo `json:"usage"`
}

// Generate handles a title generation request.
//
//	@Summary		Generate video titles
//	@Description	Generate five platform-optimized titles for a video description
//	@Tags			Generation
//	@Accept			json
//	@Produce		json
//	@Param			request	body		GenerateRequest	true	"Generation request"
//	@Success		200		{object}	GenerateResponse
//	@Failure		400		{object}	errors.ErrorResponse
//	@Failure		401		{object}	errors.ErrorResponse
//	@Failure		402		{object}	map[string]interface{}
//	@Failure		429		{object}	errors.ErrorResponse
//	@Router			/generate [post]
func (h *Handler) Generate(c *gin.Context) {
	email := user.EmailFromContext(c)
	if email == "" {
		appErr := apperrors.Unauthenticated()
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest("Please provide a description for your video")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	platform := Platform(req.Platform)
	if !platform.IsValid() {
		appErr := apperrors.BadRequest("Please select a valid platform")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	ctx := c.Request.Context()

	// The reset check must precede the quota check so stale usage from
	// a previous cycle never blocks a legitimate request.
	if err := h.tracker.EnsureMonthlyReset(ctx, email); err != nil {
		h.failStore(c, err)
		return
	}

	res, err := h.tracker.Reserve(ctx, email)
	if err != nil {
		var limitErr *billing.LimitReachedError
		if errors.As(err, &limitErr) {
			h.metrics.QuotaRejections.WithLabelValues(tierLabel(limitErr)).Inc()
			message := "Usage limit reached"
			if limitErr.IsMonthlyLimit {
				message = "Monthly generation limit reached"
			}
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error": gin.H{
					"code":    "QUOTA_EXCEEDED",
					"message": message,
				},
				"currentUsage":   limitErr.CurrentUsage,
				"limit":          limitErr.Limit,
				"needsPayment":   limitErr.NeedsPayment,
				"isMonthlyLimit": limitErr.IsMonthlyLimit,
			})
			return
		}
		h.failStore(c, err)
		return
	}

	start := time.Now()
	titles, err := h.provider.GenerateTitles(ctx, Request{
		Description:    req.Description,
		Platform:       platform,
		TargetAudience: req.TargetAudience,
	})
	h.metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		// Failed attempts must not consume quota.
		if relErr := h.tracker.Release(ctx, res); relErr != nil {
			h.logger.Error("quota release after provider failure failed",
				zap.String("email", email), zap.Error(relErr))
		}
		h.metrics.GenerationsTotal.WithLabelValues(string(platform), "failure").Inc()
		h.logger.Error("title generation failed",
			zap.String("platform", string(platform)), zap.Error(err))

		appErr := apperrors.ProviderFailure(err)
		appErr.Message = "Unable to generate titles. Please try again later."
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	h.tracker.Commit(ctx, res, billing.HistoryRecord{
		Timestamp:   time.Now().Unix(),
		Platform:    string(platform),
		Description: req.Description,
		Titles:      titles,
	})
	h.metrics.GenerationsTotal.WithLabelValues(string(platform), "success").Inc()

	c.JSON(http.StatusOK, GenerateResponse{
		Titles: titles,
		Usage: UsageInfo{
			Current:   res.NewUsage,
			Limit:     res.Limit,
			Remaining: res.Remaining(),
		},
	})
}

func (h *Handler) failStore(c *gin.Context, err error) {
	h.logger.Error("usage store unavailable", zap.Error(err))
	appErr := apperrors.Unavailable("Unable to check usage. Please try again.", err)
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

func tierLabel(e *billing.LimitReachedError) string {
	if e.IsMonthlyLimit {
		return string(billing.TierSubscriber)
	}
	return string(billing.TierFree)
}
