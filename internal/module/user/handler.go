package user

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/module/reputation"
	"github.com/titleforge/server/internal/shared/config"
	apperrors "github.com/titleforge/server/internal/shared/errors"
)

const oauthStateTTL = 10 * time.Minute

// Handler handles authentication and user profile requests.
type Handler struct {
	provider   OAuthProvider
	repo       Repository
	jwtManager *JWTManager
	settings   *SettingsStore
	reputation reputation.Repository
	redis      redis.UniversalClient
	authCfg    *config.AuthConfig
	frontend   string
	logger     *zap.Logger
}

// NewHandler creates a new user handler.
func NewHandler(
	provider OAuthProvider,
	repo Repository,
	jwtManager *JWTManager,
	settings *SettingsStore,
	reputationRepo reputation.Repository,
	redisClient redis.UniversalClient,
	authCfg *config.AuthConfig,
	frontendURL string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		provider:   provider,
		repo:       repo,
		jwtManager: jwtManager,
		settings:   settings,
		reputation: reputationRepo,
		redis:      redisClient,
		authCfg:    authCfg,
		frontend:   frontendURL,
		logger:     logger,
	}
}

// RegisterAuthRoutes registers the OAuth sign-in routes.
func (h *Handler) RegisterAuthRoutes(r *gin.RouterGroup, authLimit gin.HandlerFunc) {
	google := r.Group("/auth/google")
	google.GET("/login", authLimit, h.Login)
	google.GET("/callback", h.Callback)
	r.POST("/auth/logout", h.Logout)
}

// RegisterUserRoutes registers the settings and reputation routes.
func (h *Handler) RegisterUserRoutes(r *gin.RouterGroup, settingsLimit gin.HandlerFunc) {
	grp := r.Group("/user")
	grp.GET("/settings", h.GetSettings)
	grp.PUT("/settings", settingsLimit, h.PutSettings)
	grp.GET("/reputation", h.GetReputation)
}

func respondError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

func stateKey(state string) string {
	return "oauth:state:" + state
}

// Login starts the Google OAuth flow.
func (h *Handler) Login(c *gin.Context) {
	state := uuid.NewString()
	if err := h.redis.Set(c.Request.Context(), stateKey(state), "1", oauthStateTTL).Err(); err != nil {
		h.logger.Error("store oauth state", zap.Error(err))
		respondError(c, apperrors.Unavailable("Unable to start sign-in. Please try again.", err))
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, h.provider.GetAuthURL(state))
}

// Callback completes the Google OAuth flow and issues a session cookie.
func (h *Handler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	state := c.Query("state")
	if state == "" {
		respondError(c, apperrors.BadRequest("Missing state parameter"))
		return
	}
	if err := h.consumeState(c, state); err != nil {
		respondError(c, apperrors.BadRequest("Invalid or expired state"))
		return
	}

	code := c.Query("code")
	if code == "" {
		respondError(c, apperrors.BadRequest("Missing authorization code"))
		return
	}

	token, err := h.provider.Exchange(ctx, code)
	if err != nil {
		h.logger.Warn("oauth exchange failed", zap.Error(err))
		respondError(c, apperrors.BadRequest("Sign-in failed. Please try again."))
		return
	}

	info, err := h.provider.GetUserInfo(ctx, token)
	if err != nil {
		h.logger.Warn("fetch oauth user info failed", zap.Error(err))
		respondError(c, apperrors.BadRequest("Sign-in failed. Please try again."))
		return
	}

	u := &User{
		Email:         info.Email,
		Name:          info.Name,
		AvatarURL:     info.AvatarURL,
		OAuthProvider: "google",
		OAuthID:       info.ID,
	}
	if err := h.repo.Upsert(ctx, u); err != nil {
		h.logger.Error("upsert user", zap.Error(err), zap.String("email", info.Email))
		respondError(c, apperrors.Internal("Sign-in failed. Please try again.", err))
		return
	}

	session, expiresAt, err := h.jwtManager.GenerateSessionToken(u)
	if err != nil {
		h.logger.Error("issue session token", zap.Error(err))
		respondError(c, apperrors.Internal("Sign-in failed. Please try again.", err))
		return
	}

	h.setSessionCookie(c, session, int(time.Until(expiresAt).Seconds()))
	c.Redirect(http.StatusTemporaryRedirect, h.frontend)
}

// Logout clears the session cookie.
func (h *Handler) Logout(c *gin.Context) {
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Signed out"})
}

func (h *Handler) consumeState(c *gin.Context, state string) error {
	val, err := h.redis.GetDel(c.Request.Context(), stateKey(state)).Result()
	if err != nil {
		return err
	}
	if val == "" {
		return errors.New("unknown state")
	}
	return nil
}

func (h *Handler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.authCfg.CookieName, value, maxAge, "/", h.authCfg.CookieDomain, h.authCfg.CookieSecure, true)
}

// GetSettings returns the caller's settings.
func (h *Handler) GetSettings(c *gin.Context) {
	email := EmailFromContext(c)

	settings, err := h.settings.Get(c.Request.Context(), email)
	if err != nil {
		h.logger.Error("load settings", zap.Error(err), zap.String("email", email))
		respondError(c, apperrors.Unavailable("Unable to load settings. Please try again.", err))
		return
	}
	c.JSON(http.StatusOK, settings)
}

// PutSettings validates and stores the caller's settings.
func (h *Handler) PutSettings(c *gin.Context) {
	email := EmailFromContext(c)

	var settings Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		respondError(c, apperrors.BadRequest("Invalid settings payload"))
		return
	}

	if err := h.settings.Put(c.Request.Context(), email, &settings); err != nil {
		if errors.Is(err, ErrInvalidSettings) {
			respondError(c, apperrors.BadRequest(err.Error()))
			return
		}
		h.logger.Error("store settings", zap.Error(err), zap.String("email", email))
		respondError(c, apperrors.Unavailable("Unable to save settings. Please try again.", err))
		return
	}
	c.JSON(http.StatusOK, settings)
}

// GetReputation returns the caller's community reputation.
func (h *Handler) GetReputation(c *gin.Context) {
	email := EmailFromContext(c)

	rep, err := h.reputation.Get(c.Request.Context(), email)
	if err != nil {
		h.logger.Error("load reputation", zap.Error(err), zap.String("email", email))
		respondError(c, apperrors.Internal("Unable to load reputation", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"points":           rep.Points,
		"trendsSpotted":    rep.TrendsSpotted,
		"successfulPosts":  rep.SuccessfulPosts,
		"badges":           rep.BadgeList(),
		"lastContribution": rep.LastContribution,
	})
}
