package session

import (
	"net/http"
	"time"
)

const (
	// AuthCookieName carries the authenticated session id. HttpOnly,
	// __Host- scoped.
	AuthCookieName = "__Host-session"

	// AnonCookieName carries the anonymous session id. Deliberately
	// readable by client script, with a rolling max-age refreshed on
	// every successful session read.
	AnonCookieName = "chat_session"
)

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	Path     string
	HttpOnly bool
	Secure   bool
	SameSite http.SameSite
	Domain   string // should usually be empty for __Host- cookies
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/" // required for __Host-
	}
	return o
}

// SetAuthCookie issues the authenticated session cookie.
func SetAuthCookie(w http.ResponseWriter, sessionID string, expiresAt time.Time, opts CookieOptions) {
	opts = opts.normalize()
	opts.HttpOnly = true

	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    sessionID,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  expiresAt,
		HttpOnly: opts.HttpOnly,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// ClearAuthCookie removes the authenticated session cookie.
func ClearAuthCookie(w http.ResponseWriter, opts CookieOptions) {
	opts = opts.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    "",
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// SetAnonCookie issues (or refreshes) the anonymous session cookie
// with the full rolling window.
func SetAnonCookie(w http.ResponseWriter, sessionID string, opts CookieOptions) {
	opts = opts.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    sessionID,
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   int(DefaultTTL.Seconds()),
		HttpOnly: false, // client script reads this id
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// ClearAnonCookie removes the anonymous session cookie.
func ClearAnonCookie(w http.ResponseWriter, opts CookieOptions) {
	opts = opts.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    "",
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   -1,
		HttpOnly: false,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}
