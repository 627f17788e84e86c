package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/auth/provider"
	"github.com/kelvinguchu/t3clone-sub002/internal/auth/resolver"
	"github.com/kelvinguchu/t3clone-sub002/internal/logger"
	"github.com/kelvinguchu/t3clone-sub002/internal/session"

	"github.com/gin-gonic/gin"
)

const authSessionTTL = 24 * time.Hour

// Handler drives sign-in. Every successful authentication, regardless
// of path, runs the anonymous-session claim so the visitor's prior
// threads and rate spend follow them into the account.
type Handler struct {
	providers         *provider.Registry
	authSessions      session.AuthStore
	resolver          resolver.Resolver
	sessions          *session.Manager
	credentialService CredentialService
	hashSalt          string
}

// CredentialService is the email/password sign-in dependency.
type CredentialService interface {
	Register(ctx context.Context, email, password string) (string, error)
	Authenticate(ctx context.Context, email, password string) (string, error)
}

func NewHandler(
	registry *provider.Registry,
	authSessions session.AuthStore,
	identityResolver resolver.Resolver,
	sessions *session.Manager,
	credentials CredentialService,
	hashSalt string,
) *Handler {
	return &Handler{
		providers:         registry,
		authSessions:      authSessions,
		resolver:          identityResolver,
		sessions:          sessions,
		credentialService: credentials,
		hashSalt:          hashSalt,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/oauth/login/:provider", h.login)
	r.GET("/oauth/callback/:provider", h.callback)
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/logout", h.Logout)
}

func (h *Handler) login(c *gin.Context) {
	providerName := c.Param("provider")

	p, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown oauth provider",
		})
		return
	}

	state := generateState(c)
	_, codeChallenge := generatePKCE(c)

	authURL := p.AuthCodeURL(state, codeChallenge)
	c.Redirect(http.StatusFound, authURL)
}

func (h *Handler) callback(c *gin.Context) {
	providerName := c.Param("provider")

	p, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown oauth provider",
		})
		return
	}

	if !validateState(c) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "invalid state",
		})
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("oidc callback returned error", map[string]any{
			"provider": providerName,
			"error":    errParam,
			"desc":     c.Query("error_description"),
		})
		c.Redirect(http.StatusFound, "/login")
		return
	}

	code := c.Query("code")
	if code == "" {
		logger.Error("oidc callback missing code and error", nil)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	codeVerifier := getPKCEVerifier(c)
	if codeVerifier == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "missing pkce verifier",
		})
		return
	}

	identity, err := p.ExchangeCode(c.Request.Context(), code, codeVerifier)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "authentication failed",
		})
		return
	}

	userID, err := h.resolver.Resolve(c.Request.Context(), identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to resolve user",
		})
		return
	}

	if err := h.establishSession(c, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to persist session",
		})
		return
	}

	h.claimAnonymous(c, userID)

	c.JSON(http.StatusOK, gin.H{
		"status": "authenticated",
	})
}

// establishSession creates the authenticated server-side session and
// issues its cookie.
func (h *Handler) establishSession(c *gin.Context, userID string) error {
	sessionID, err := session.GenerateID()
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(authSessionTTL)

	if err := h.authSessions.Create(c.Request.Context(), session.AuthSession{
		SessionID: sessionID,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}); err != nil {
		return err
	}

	session.SetAuthCookie(c.Writer, sessionID, expiresAt, session.CookieOptions{
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// claimAnonymous migrates the caller's anonymous session, if any, into
// the freshly authenticated identity. Best-effort: a failed claim must
// never fail the sign-in.
func (h *Handler) claimAnonymous(c *gin.Context, userID string) {
	anonID := ""
	if cookie, err := c.Request.Cookie(session.AnonCookieName); err == nil {
		anonID = cookie.Value
	}

	ipHash := session.HashIdentifier(c.ClientIP(), h.hashSalt)

	if anonID == "" && ipHash == "" {
		return
	}

	result, err := h.sessions.Claim(c.Request.Context(), anonID, ipHash, userID)
	if err != nil {
		logger.Warn("anonymous session claim failed", map[string]any{
			"user":  userID,
			"error": err.Error(),
		})
		return
	}

	if !result.AlreadyClaimed {
		logger.Info("anonymous session claimed", map[string]any{
			"user":    userID,
			"threads": result.ThreadsClaimed,
		})
	}

	session.ClearAnonCookie(c.Writer, session.CookieOptions{
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) Logout(c *gin.Context) {
	cookie, err := c.Request.Cookie(session.AuthCookieName)
	if err == nil && cookie.Value != "" {
		_ = h.authSessions.Delete(c.Request.Context(), cookie.Value)
	}

	session.ClearAuthCookie(c.Writer, session.CookieOptions{
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
