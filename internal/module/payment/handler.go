package payment

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/module/user"
	apperrors "github.com/titleforge/server/internal/shared/errors"
)

// Handler handles checkout, portal and verify requests.
type Handler struct {
	service *Service
	webhook *WebhookHandler
	logger  *zap.Logger
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service, webhook *WebhookHandler, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		webhook: webhook,
		logger:  logger,
	}
}

// RegisterRoutes registers the payment endpoints. All of them require
// a session and share the payment rate limit.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, paymentLimit gin.HandlerFunc) {
	grp := r.Group("/payments", paymentLimit)
	grp.POST("/checkout", h.Checkout)
	grp.POST("/portal", h.Portal)
	grp.POST("/verify", h.Verify)
}

// Checkout creates a Stripe Checkout session for the caller.
func (h *Handler) Checkout(c *gin.Context) {
	email := user.EmailFromContext(c)

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.PriceType.IsValid() {
		appErr := apperrors.BadRequest("priceType must be pay_per_use or subscription")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	url, err := h.service.CreateCheckout(c.Request.Context(), email, req.PriceType)
	if err != nil {
		h.logger.Error("create checkout session", zap.Error(err), zap.String("email", email))
		appErr := apperrors.Internal("Unable to start checkout. Please try again.", err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	c.JSON(http.StatusOK, CheckoutResponse{URL: url})
}

// Portal returns a billing-portal URL for the caller.
func (h *Handler) Portal(c *gin.Context) {
	email := user.EmailFromContext(c)

	url, err := h.service.CreatePortal(c.Request.Context(), email)
	if err != nil {
		h.logger.Error("create portal session", zap.Error(err), zap.String("email", email))
		appErr := apperrors.Internal("Unable to open the billing portal. Please try again.", err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	c.JSON(http.StatusOK, CheckoutResponse{URL: url})
}

// Verify checks a checkout session after the success redirect and
// applies the credit if the webhook has not landed yet.
func (h *Handler) Verify(c *gin.Context) {
	email := user.EmailFromContext(c)

	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest("sessionId is required")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	sess, err := h.service.GetCheckoutSession(c.Request.Context(), req.SessionID)
	if err != nil {
		appErr := apperrors.NotFound("checkout session")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	if checkoutEmail(sess) != email {
		appErr := apperrors.BadRequest("Session does not belong to this account")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	resp := VerifyResponse{
		Paid:      sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		PriceType: PriceType(sess.Metadata["priceType"]),
	}
	if resp.Paid {
		if err := h.webhook.ApplyCheckoutSession(c.Request.Context(), sess); err != nil {
			h.logger.Warn("verify could not apply credit",
				zap.Error(err), zap.String("session_id", sess.ID))
		} else {
			resp.Credited = true
		}
	}

	c.JSON(http.StatusOK, resp)
}
