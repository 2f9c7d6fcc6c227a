package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/auth"
	"github.com/sakif/codeguides/internal/identity"
	"github.com/sakif/codeguides/internal/model"
	"github.com/sakif/codeguides/internal/respond"
	"github.com/sakif/codeguides/internal/service"
)

// SignupService is the part of service.SignupService the auth handler uses.
type SignupService interface {
	RequestSignup(ctx context.Context, req service.SignupRequest) (string, error)
	Confirm(ctx context.Context, tokenHash, linkType string) (*service.ConfirmResult, error)
	Login(ctx context.Context, email, password string) (*identity.Session, error)
	Profile(ctx context.Context, accountID string) (*model.User, error)
}

// AuthHandler serves signup, magic-link confirmation and login.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignup  → stage profile data, have the provider email a link
//   - HandleConfirm → the emailed link lands here; redirect to the frontend
//   - HandleLogin   → password login, JSON token + cookie
//   - HandleLogout  → clear the cookie
//   - HandleMe      → the logged-in user's profile
//
// SESSION COOKIE:
// Login and a successful confirmation both set the "accesstoken" cookie and
// also hand the token to the frontend (JSON body or redirect query), so
// browser clients can use the cookie and API clients the Bearer header.
type AuthHandler struct {
	errorWriter
	signups      SignupService
	frontendURL  string
	secureCookie bool
}

func NewAuthHandler(signups SignupService, frontendURL string, dev bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		errorWriter:  errorWriter{logger: logger, dev: dev},
		signups:      signups,
		frontendURL:  frontendURL,
		secureCookie: !dev,
	}
}

type signupRequest struct {
	Email      string     `json:"email"`
	Password   string     `json:"password"`
	Name       string     `json:"name"`
	Profession model.Tags `json:"profession"`
	Bio        *string    `json:"bio"`
	// Both spellings are in use by clients.
	ProfilePicture      *string `json:"profilePicture"`
	ProfilePictureSnake *string `json:"profile_picture"`
}

// HandleSignup stages a signup.
//
// HTTP: POST /api/auth/signup
// REQUEST BODY: {"email","password","name","profession"?,"bio"?,"profilePicture"?}
// RESPONSE: {"success":true,"message":"...","data":{"tempId":"..."}}
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err, "Failed to process signup")
		return
	}

	picture := req.ProfilePicture
	if picture == nil {
		picture = req.ProfilePictureSnake
	}

	tempID, err := h.signups.RequestSignup(r.Context(), service.SignupRequest{
		Email:          req.Email,
		Password:       req.Password,
		Name:           req.Name,
		Profession:     req.Profession,
		Bio:            req.Bio,
		ProfilePicture: picture,
	})
	if err != nil {
		h.writeError(w, r, err, "Failed to process signup")
		return
	}

	respond.OK(w, http.StatusOK, "Magic link sent successfully! Please check your email.",
		map[string]string{"tempId": tempID})
}

// HandleConfirm is the target of the emailed link.
//
// HTTP: GET /api/auth/confirm?token_hash=...&type=signup
//
// It never answers with JSON: the user clicked a link in their mail client,
// so every outcome is a 302 to {FRONTEND_URL}/confirm with the result in the
// query string.
func (h *AuthHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokenHash := q.Get("token_hash")
	if tokenHash == "" {
		h.redirectError(w, r, "Invalid or expired magic link")
		return
	}

	res, err := h.signups.Confirm(r.Context(), tokenHash, q.Get("type"))
	if err != nil {
		switch {
		case errors.Is(err, apperror.ErrInvalidLink):
			h.redirectError(w, r, "Invalid or expired magic link")
		case errors.Is(err, apperror.ErrSignupDataMissing):
			h.redirectError(w, r, "Signup data not found. Please sign up again.")
		default:
			h.logger.ErrorContext(r.Context(), "confirm failed", slog.String("error", err.Error()))
			h.redirectError(w, r, "Failed to confirm account")
		}
		return
	}

	h.setSession(w, res.AccessToken, res.ExpiresAt)

	v := url.Values{}
	v.Set("access_token", res.AccessToken)
	v.Set("status", "success")
	if res.Outcome == service.ExistingLogin {
		v.Set("message", "Login successful")
		v.Set("existing", "true")
	} else {
		v.Set("message", "Account created successfully")
		v.Set("new", "true")
	}
	http.Redirect(w, r, h.frontendURL+"/confirm?"+v.Encode(), http.StatusFound)
}

func (h *AuthHandler) redirectError(w http.ResponseWriter, r *http.Request, message string) {
	v := url.Values{}
	v.Set("status", "error")
	v.Set("message", message)
	http.Redirect(w, r, h.frontendURL+"/confirm?"+v.Encode(), http.StatusFound)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin exchanges email + password for a session.
//
// HTTP: POST /api/auth/login
// RESPONSE: {"success":true,"message":"Login successful","data":{"access_token":"..."}}
//
// An email without a profile is a 404 with a hint to sign up, before the
// identity provider is asked anything.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err, "Failed to process login")
		return
	}

	session, err := h.signups.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, apperror.ErrUserNotFound) {
			respond.Fail(w, http.StatusNotFound, err.Error(), "User not found")
			return
		}
		h.writeError(w, r, err, "Failed to process login")
		return
	}

	h.setSession(w, session.AccessToken, session.ExpiresAt)
	respond.OK(w, http.StatusOK, "Login successful", map[string]string{"access_token": session.AccessToken})
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /api/auth/logout
//
// Tokens are stateless, so this only stops the browser from sending it.
// The token stays valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.secureCookie)
	respond.OK(w, http.StatusOK, "Logged out successfully", nil)
}

// profileView is the shape of GET /api/auth/user/me.
type profileView struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	Profession     []string `json:"profession"`
	Bio            *string  `json:"bio"`
	ProfilePicture *string  `json:"profile_picture"`
}

// HandleMe returns the authenticated user's profile.
//
// HTTP: GET /api/auth/user/me
// Auth: Required (RequireAuth puts the account in the context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "User not authenticated", "NOT_AUTHENTICATED")
		return
	}

	user, err := h.signups.Profile(r.Context(), account.ID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			respond.Fail(w, http.StatusNotFound, "User profile not found", "PROFILE_NOT_FOUND")
			return
		}
		h.writeError(w, r, err, "Failed to get user profile")
		return
	}

	profession := user.Profession
	if profession == nil {
		profession = []string{}
	}
	respond.OK(w, http.StatusOK, "User profile retrieved successfully", profileView{
		ID:             user.ID,
		Email:          user.Email,
		Name:           user.Name,
		Profession:     profession,
		Bio:            user.Bio,
		ProfilePicture: user.ProfilePicture,
	})
}

func (h *AuthHandler) setSession(w http.ResponseWriter, token string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge <= 0 {
		return
	}
	auth.SetSessionCookie(w, token, maxAge, h.secureCookie)
}
