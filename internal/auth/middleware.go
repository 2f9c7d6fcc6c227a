package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/codeguides/internal/identity"
	"github.com/sakif/codeguides/internal/respond"
)

// CookieName is the cookie the frontend may send instead of a Bearer header.
const CookieName = "accesstoken"

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. If you use a plain string like
// context.WithValue(ctx, "account", a), ANY package that knows the string
// can read or shadow your value. Using a package-private type prevents
// collisions: only THIS package can create a key of type contextKey.
type contextKey string

const accountKey contextKey = "account"

// AccountResolver turns an access token into the account that owns it.
// identity.Provider satisfies it; tests pass a small fake.
type AccountResolver interface {
	GetUser(ctx context.Context, accessToken string) (*identity.Account, error)
}

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the token from the Authorization header ("Bearer <token>") and
// falls back to the "accesstoken" cookie. The identity provider decides
// whether the token is valid; the resulting account is stored in the
// request context. A missing or rejected token stops the chain with 401.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware is a function that takes an http.Handler and returns a new
// http.Handler. The new handler "wraps" the original:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // ... do stuff before the handler ...
//	        next.ServeHTTP(w, r)
//	        // ... do stuff after the handler ...
//	    })
//	}
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(resolver AccountResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				respond.Fail(w, http.StatusUnauthorized, "Access token required", "MISSING_TOKEN")
				return
			}

			account, err := resolver.GetUser(r.Context(), token)
			if err != nil || account == nil || account.ID == "" {
				respond.Fail(w, http.StatusUnauthorized, "Invalid or expired token", "INVALID_TOKEN")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}

// WithAccount returns a copy of ctx carrying a.
func WithAccount(ctx context.Context, a *identity.Account) context.Context {
	return context.WithValue(ctx, accountKey, a)
}

// AccountFromContext retrieves the authenticated account from the request context.
//
// Returns (nil, false) if the request is anonymous.
//
// Usage in handlers:
//
//	account, ok := auth.AccountFromContext(r.Context())
//	if !ok {
//	    // anonymous user
//	}
func AccountFromContext(ctx context.Context) (*identity.Account, bool) {
	a, ok := ctx.Value(accountKey).(*identity.Account)
	return a, ok && a != nil && a.ID != ""
}

// TokenFromRequest returns the bearer token of r, or the accesstoken cookie
// when no Authorization header is present. It returns "" when neither is set.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		// http.ErrNoCookie means the cookie isn't present, the request is anonymous
		return ""
	}
	return cookie.Value
}

// SetSessionCookie mirrors the access token into the accesstoken cookie.
//
// HttpOnly keeps JavaScript from reading it; SameSite=Lax still sends it on
// the top-level navigation that follows the confirm redirect.
func SetSessionCookie(w http.ResponseWriter, token string, maxAge int, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the accesstoken cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
