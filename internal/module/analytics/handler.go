package analytics

import (
	"encoding/csv"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/module/user"
	apperrors "github.com/titleforge/server/internal/shared/errors"
)

// Handler handles analytics requests.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new analytics handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the analytics endpoint.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, limit gin.HandlerFunc) {
	r.GET("/analytics", limit, h.Get)
}

// Get returns the analytics report, or streams the history as CSV
// when format=csv is requested.
func (h *Handler) Get(c *gin.Context) {
	email := user.EmailFromContext(c)

	from, ok := parseDate(c.Query("from"))
	if !ok {
		appErr := apperrors.BadRequest("from must be YYYY-MM-DD")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	to, ok := parseDate(c.Query("to"))
	if !ok {
		appErr := apperrors.BadRequest("to must be YYYY-MM-DD")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	if !to.IsZero() {
		// Make the bound inclusive of the whole end day.
		to = to.Add(24*time.Hour - time.Second)
	}

	if c.Query("format") == "csv" {
		h.writeCSV(c, email, from, to)
		return
	}

	report, err := h.service.Report(c.Request.Context(), email, from, to)
	if err != nil {
		h.logger.Error("build analytics report", zap.Error(err), zap.String("email", email))
		appErr := apperrors.Unavailable("Unable to load analytics. Please try again.", err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *Handler) writeCSV(c *gin.Context, email string, from, to time.Time) {
	history, err := h.service.History(c.Request.Context(), email, from, to)
	if err != nil {
		h.logger.Error("load history for export", zap.Error(err), zap.String("email", email))
		appErr := apperrors.Unavailable("Unable to export history. Please try again.", err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="titleforge-history.csv"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"timestamp", "platform", "description", "titles"})
	for _, rec := range history {
		_ = w.Write([]string{
			time.Unix(rec.Timestamp, 0).UTC().Format(time.RFC3339),
			rec.Platform,
			rec.Description,
			strings.Join(rec.Titles, " | "),
		})
	}
	w.Flush()
}

func parseDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
