package stories

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/module/user"
	apperrors "github.com/titleforge/server/internal/shared/errors"
)

const maxImageSize = 5 << 20

// Handler handles success story requests.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new story handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the story endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	grp := r.Group("/stories")
	grp.GET("", h.List)
	grp.POST("", h.Submit)
}

// List returns stories, newest first.
func (h *Handler) List(c *gin.Context) {
	stories, err := h.service.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list stories", zap.Error(err))
		appErr := apperrors.Internal("Unable to load stories", err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"stories": stories})
}

// Submit accepts a multipart story submission with an optional image.
func (h *Handler) Submit(c *gin.Context) {
	email := user.EmailFromContext(c)

	views, _ := strconv.Atoi(c.PostForm("views7d"))
	ctr, _ := strconv.ParseFloat(c.PostForm("ctr"), 64)
	likes, _ := strconv.Atoi(c.PostForm("likes"))

	input := SubmitInput{
		Title:     c.PostForm("title"),
		TitleUsed: c.PostForm("titleUsed"),
		Platform:  c.PostForm("platform"),
		Story:     c.PostForm("story"),
		Metrics: Metrics{
			Views7d: views,
			CTR:     ctr,
			Likes:   likes,
		},
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

	story, err := h.service.Submit(c.Request.Context(), email, input, image, imageType, imageSize)
	if err != nil {
		if errors.Is(err, ErrInvalidStory) {
			appErr := apperrors.BadRequest(err.Error())
			c.JSON(appErr.StatusCode, appErr.ToResponse())
			return
		}
		h.logger.Error("submit story", zap.Error(err), zap.String("email", email))
		appErr := apperrors.Internal("Unable to submit story", err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	c.JSON(http.StatusCreated, story)
}
