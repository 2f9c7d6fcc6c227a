// Package gotrue is an identity.Provider backed by a hosted GoTrue-compatible
// auth API (the service behind Supabase Auth).
//
// ENDPOINTS USED:
//
//	POST /auth/v1/signup                     → register + send confirmation email
//	POST /auth/v1/verify                     → exchange a link's token_hash for a session
//	POST /auth/v1/token?grant_type=password  → password login
//	GET  /auth/v1/user                       → who does this access token belong to?
//
// Every request carries the project's anon key in the "apikey" header. The
// /user call additionally authenticates as the end user: its Bearer header
// comes from an oauth2.StaticTokenSource wrapping the caller's access token.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/codeguides/internal/identity"
)

var _ identity.Provider = (*Client)(nil)

type Client struct {
	baseURL    string
	apiKey     string
	redirectTo string
	http       *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRedirectTo sets the URL the confirmation email links back to.
func WithRedirectTo(u string) Option {
	return func(c *Client) { c.redirectTo = u }
}

func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gotrue: invalid base URL %q", baseURL)
	}
	if apiKey == "" {
		return nil, errors.New("gotrue: api key is required")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// apiError is GoTrue's error body. Older releases use error/error_description,
// newer ones code/error_code/msg.
type apiError struct {
	Status           int    `json:"-"`
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Err              string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e *apiError) Error() string {
	msg := e.Msg
	for _, s := range []string{e.Message, e.ErrorDescription, e.Err} {
		if msg == "" {
			msg = s
		}
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("gotrue: %s (status %d)", msg, e.Status)
}

type user struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type sessionResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	ExpiresAt   int64  `json:"expires_at"`
	User        *user  `json:"user"`
}

func (s *sessionResponse) session() (*identity.Session, error) {
	if s.AccessToken == "" || s.User == nil || s.User.ID == "" {
		return nil, errors.New("gotrue: response has no session")
	}
	expires := time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	if s.ExpiresAt > 0 {
		expires = time.Unix(s.ExpiresAt, 0)
	}
	return &identity.Session{
		AccessToken: s.AccessToken,
		ExpiresAt:   expires,
		Account:     identity.Account{ID: s.User.ID, Email: strings.ToLower(s.User.Email)},
	}, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string) error {
	path := "/auth/v1/signup"
	if c.redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(c.redirectTo)
	}

	err := c.do(ctx, c.http, http.MethodPost, path, map[string]string{
		"email":    email,
		"password": password,
	}, nil)

	var apiErr *apiError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode == "user_already_exists" || apiErr.ErrorCode == "email_exists") {
		return identity.ErrAlreadyRegistered
	}
	return err
}

func (c *Client) VerifyOTP(ctx context.Context, tokenHash, linkType string) (*identity.Session, error) {
	if tokenHash == "" || !identity.ValidLinkType(linkType) {
		return nil, identity.ErrInvalidLink
	}
	if linkType == "" {
		linkType = identity.LinkTypeSignup
	}

	var resp sessionResponse
	err := c.do(ctx, c.http, http.MethodPost, "/auth/v1/verify", map[string]string{
		"type":       linkType,
		"token_hash": tokenHash,
	}, &resp)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return nil, identity.ErrInvalidLink
		}
		return nil, err
	}
	return resp.session()
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	var resp sessionResponse
	err := c.do(ctx, c.http, http.MethodPost, "/auth/v1/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.ErrorCode == "email_not_confirmed":
				return nil, identity.ErrEmailNotConfirmed
			case apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized:
				return nil, identity.ErrInvalidCredentials
			}
		}
		return nil, err
	}
	return resp.session()
}

// GetUser asks the provider who owns accessToken.
//
// oauth2.NewClient returns an *http.Client whose transport adds
// "Authorization: Bearer <token>" to every request. Passing our own client
// through the oauth2.HTTPClient context key makes it wrap our transport.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*identity.Account, error) {
	if accessToken == "" {
		return nil, identity.ErrInvalidToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	userClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	var u user
	if err := c.do(ctx, userClient, http.MethodGet, "/auth/v1/user", nil, &u); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return nil, identity.ErrInvalidToken
		}
		return nil, err
	}
	if u.ID == "" {
		return nil, identity.ErrInvalidToken
	}
	return &identity.Account{ID: u.ID, Email: strings.ToLower(u.Email)}, nil
}

// do sends a JSON request and decodes a 2xx JSON response into out.
// Non-2xx responses come back as *apiError.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gotrue: encoding request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("gotrue: building request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("gotrue: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gotrue: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{}
		_ = json.Unmarshal(raw, apiErr)
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gotrue: decoding response: %w", err)
	}
	return nil
}
