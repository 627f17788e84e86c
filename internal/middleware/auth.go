package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/session"
)

// unexported, collision-proof context key
type userIDContextKeyType struct{}

var userIDKey = userIDContextKeyType{}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

type AuthMiddleware struct {
	Store session.AuthStore
}

func NewAuthMiddleware(store session.AuthStore) *AuthMiddleware {
	return &AuthMiddleware{Store: store}
}

// resolve loads and validates the authenticated session from the
// request cookie. Empty userID means unauthenticated.
func (a *AuthMiddleware) resolve(r *http.Request) string {
	cookie, err := r.Cookie(session.AuthCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}

	sess, err := a.Store.Get(r.Context(), cookie.Value)
	if err != nil || sess == nil {
		return ""
	}

	if time.Now().After(sess.ExpiresAt) {
		_ = a.Store.Delete(r.Context(), cookie.Value)
		return ""
	}

	return sess.UserID
}

func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := a.resolve(r)
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches the user ID when a valid session cookie is
// present and lets the request continue either way. The chat-turn
// endpoint serves both anonymous and signed-in callers.
func (a *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := a.resolve(r); userID != "" {
			r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
		}
		next.ServeHTTP(w, r)
	})
}
