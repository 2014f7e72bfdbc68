package trends

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/module/user"
	apperrors "github.com/titleforge/server/internal/shared/errors"
)

const maxImageSize = 5 << 20

// Handler handles trend board requests.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new trend handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the trend endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	grp := r.Group("/trends")
	grp.GET("", h.List)
	grp.POST("", h.Submit)
	grp.POST("/:id/vote", h.Vote)
}

// List returns trends ordered by points descending.
func (h *Handler) List(c *gin.Context) {
	trends, err := h.service.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list trends", zap.Error(err))
		appErr := apperrors.Internal("Unable to load trends", err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": trends})
}

// Submit accepts a multipart trend submission with an optional image.
func (h *Handler) Submit(c *gin.Context) {
	email := user.EmailFromContext(c)

	input := SubmitInput{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Platform:    c.PostForm("platform"),
	}

	var (
		image     io.Reader
		imageType string
		imageSize int64
	)
	if file, err := c.FormFile("image"); err == nil {
		if file.Size > maxImageSize {
			appErr := apperrors.BadRequest("Image must be 5MB or smaller")
			c.JSON(appErr.StatusCode, appErr.ToResponse())
			return
		}
		f, err := file.Open()
		if err != nil {
			appErr := apperrors.BadRequest("Unreadable image upload")
			c.JSON(appErr.StatusCode, appErr.ToResponse())
			return
		}
		defer f.Close()
		image = f
		imageType = file.Header.Get("Content-Type")
		imageSize = file.Size
	}

	trend, err := h.service.Submit(c.Request.Context(), email, input, image, imageType, imageSize)
	if err != nil {
		if errors.Is(err, ErrInvalidSubmission) {
			appErr := apperrors.BadRequest(err.Error())
			c.JSON(appErr.StatusCode, appErr.ToResponse())
			return
		}
		h.logger.Error("submit trend", zap.Error(err), zap.String("email", email))
		appErr := apperrors.Internal("Unable to submit trend", err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	c.JSON(http.StatusCreated, trend)
}

// VoteRequest is the body for POST /trends/:id/vote.
type VoteRequest struct {
	Value int `json:"value" binding:"required"`
}

// Vote casts or flips the caller's vote on a trend.
func (h *Handler) Vote(c *gin.Context) {
	email := user.EmailFromContext(c)

	trendID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		appErr := apperrors.BadRequest("Invalid trend id")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest("value must be 1 or -1")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	trend, err := h.service.Vote(c.Request.Context(), email, trendID, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidVote):
			appErr := apperrors.BadRequest(err.Error())
			c.JSON(appErr.StatusCode, appErr.ToResponse())
		case errors.Is(err, ErrDuplicateVote):
			appErr := apperrors.BadRequest("You already cast this vote")
			c.JSON(appErr.StatusCode, appErr.ToResponse())
		case errors.Is(err, ErrTrendNotFound):
			appErr := apperrors.NotFound("trend")
			c.JSON(appErr.StatusCode, appErr.ToResponse())
		default:
			h.logger.Error("vote on trend", zap.Error(err), zap.String("email", email))
			appErr := apperrors.Internal("Unable to record vote", err)
			c.JSON(appErr.StatusCode, appErr.ToResponse())
		}
		return
	}

	c.JSON(http.StatusOK, trend)
}
