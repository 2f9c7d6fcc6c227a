// Package local is the built-in identity provider.
//
// Accounts and one-time links live in our own database; sessions are HS256
// JWTs from auth.TokenService. It mirrors the hosted provider's behaviour
// closely enough that the signup flow cannot tell the two apart:
//
//	SignUp             → account (unconfirmed) + emailed link
//	VerifyOTP          → link consumed once, account confirmed, session issued
//	SignInWithPassword → confirmed account + matching password → session
//	GetUser            → JWT validated, account returned
//
// LINK TOKENS:
// The emailed URL carries a random 32-byte token. Only its SHA-256 is
// stored, so a leaked auth_links table cannot be replayed.
package local

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/auth"
	"github.com/sakif/codeguides/internal/identity"
	"github.com/sakif/codeguides/internal/mailer"
	"github.com/sakif/codeguides/internal/model"
	"github.com/sakif/codeguides/internal/repository"
)

var _ identity.Provider = (*Provider)(nil)

// DefaultLinkTTL is how long an emailed link stays valid.
const DefaultLinkTTL = 15 * time.Minute

type Provider struct {
	repo      repository.AuthRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	mail      mailer.Mailer
	publicURL string
	linkTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Options groups the provider's collaborators.
type Options struct {
	Repo      repository.AuthRepository
	Tokens    *auth.TokenService
	Passwords *auth.PasswordService
	Mailer    mailer.Mailer
	// PublicURL is the externally reachable base URL of this API; the
	// confirmation link points at {PublicURL}/api/auth/confirm.
	PublicURL string
	LinkTTL   time.Duration
	Logger    *slog.Logger
}

func New(opts Options) (*Provider, error) {
	if opts.Repo == nil || opts.Tokens == nil || opts.Passwords == nil || opts.Mailer == nil {
		return nil, errors.New("local: repo, tokens, passwords and mailer are required")
	}
	if _, err := url.Parse(opts.PublicURL); err != nil || opts.PublicURL == "" {
		return nil, fmt.Errorf("local: invalid public URL %q", opts.PublicURL)
	}
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = DefaultLinkTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Provider{
		repo:      opts.Repo,
		tokens:    opts.Tokens,
		passwords: opts.Passwords,
		mail:      opts.Mailer,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		linkTTL:   opts.LinkTTL,
		logger:    opts.Logger,
		now:       time.Now,
	}, nil
}

// SignUp creates an unconfirmed account, or refreshes the password of one
// that was never confirmed, and emails a fresh confirmation link.
//
// A confirmed account gets a fresh link too, so a signup whose profile data
// was lost can be restarted. Its password is not touched here: the new hash
// rides on the link and is applied by VerifyOTP, after the owner of the
// inbox has followed it.
func (p *Provider) SignUp(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	hash, err := p.passwords.Hash(password)
	if err != nil {
		return fmt.Errorf("local: hashing password: %w", err)
	}

	account, err := p.repo.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		if account.Confirmed() {
			return p.sendLink(ctx, account, identity.LinkTypeSignup, hash)
		}
		if err := p.repo.UpdatePassword(ctx, account.ID, hash); err != nil {
			return fmt.Errorf("local: updating password: %w", err)
		}
	case errors.Is(err, apperror.ErrNotFound):
		account = &model.AuthAccount{Email: email, PasswordHash: hash}
		if err := p.repo.CreateAccount(ctx, account); err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				return identity.ErrAlreadyRegistered
			}
			return fmt.Errorf("local: creating account: %w", err)
		}
	default:
		return fmt.Errorf("local: looking up account: %w", err)
	}

	return p.sendLink(ctx, account, identity.LinkTypeSignup, "")
}

func (p *Provider) sendLink(ctx context.Context, account *model.AuthAccount, linkType, pendingHash string) error {
	token, err := newLinkToken()
	if err != nil {
		return err
	}

	if err := p.repo.CreateLink(ctx, &model.AuthLink{
		TokenHash:    hashToken(token),
		AccountID:    account.ID,
		Type:         linkType,
		PasswordHash: pendingHash,
		ExpiresAt:    p.now().Add(p.linkTTL),
	}); err != nil {
		return fmt.Errorf("local: storing link: %w", err)
	}

	q := url.Values{}
	q.Set("token_hash", token)
	q.Set("type", linkType)
	link := p.publicURL + "/api/auth/confirm?" + q.Encode()

	msg := mailer.Message{
		To:      account.Email,
		Subject: "Confirm your signup",
		Body: "Follow this link to confirm your account:\n\n" + link +
			"\n\nThe link expires in " + p.linkTTL.String() + ".",
	}
	if err := p.mail.Send(ctx, msg); err != nil {
		return fmt.Errorf("local: sending link: %w", err)
	}

	p.logger.InfoContext(ctx, "confirmation link sent", slog.String("accountID", account.ID))
	return nil
}

// VerifyOTP consumes the link and returns a session for its account.
// "email" is accepted as an alias of "signup".
func (p *Provider) VerifyOTP(ctx context.Context, tokenHash, linkType string) (*identity.Session, error) {
	if tokenHash == "" || !identity.ValidLinkType(linkType) {
		return nil, identity.ErrInvalidLink
	}
	if linkType == "" || linkType == identity.LinkTypeEmail {
		linkType = identity.LinkTypeSignup
	}

	now := p.now()
	link, err := p.repo.ConsumeLink(ctx, hashToken(tokenHash), linkType, now)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, identity.ErrInvalidLink
		}
		return nil, fmt.Errorf("local: consuming link: %w", err)
	}

	account, err := p.repo.GetAccountByID(ctx, link.AccountID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, identity.ErrInvalidLink
		}
		return nil, fmt.Errorf("local: loading account: %w", err)
	}

	if err := p.repo.ConfirmAccount(ctx, account.ID, now); err != nil {
		return nil, fmt.Errorf("local: confirming account: %w", err)
	}
	if link.PasswordHash != "" {
		if err := p.repo.UpdatePassword(ctx, account.ID, link.PasswordHash); err != nil {
			return nil, fmt.Errorf("local: applying new password: %w", err)
		}
	}

	return p.session(account)
}

// SignInWithPassword checks the password of a confirmed account.
//
// An unknown email still pays for one bcrypt comparison, so response time
// does not reveal which emails have accounts.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	account, err := p.repo.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			_ = p.passwords.VerifyDummy(password)
			return nil, identity.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("local: looking up account: %w", err)
	}

	if err := p.passwords.Verify(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, identity.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("local: verifying password: %w", err)
	}
	if !account.Confirmed() {
		return nil, identity.ErrEmailNotConfirmed
	}

	return p.session(account)
}

// GetUser validates a session token. Tokens are self-contained, so no
// database lookup is needed.
func (p *Provider) GetUser(_ context.Context, accessToken string) (*identity.Account, error) {
	claims, err := p.tokens.Validate(accessToken)
	if err != nil {
		return nil, identity.ErrInvalidToken
	}
	return &identity.Account{ID: claims.Subject, Email: claims.Email}, nil
}

// PurgeExpiredLinks deletes links past their expiry. The sweeper runs it
// alongside the temp signup sweep.
func (p *Provider) PurgeExpiredLinks(ctx context.Context) (int64, error) {
	n, err := p.repo.DeleteExpiredLinks(ctx, p.now())
	if err != nil {
		return 0, fmt.Errorf("local: purging links: %w", err)
	}
	return n, nil
}

func (p *Provider) session(account *model.AuthAccount) (*identity.Session, error) {
	token, expires, err := p.tokens.Generate(account.ID, account.Email)
	if err != nil {
		return nil, fmt.Errorf("local: issuing session: %w", err)
	}
	return &identity.Session{
		AccessToken: token,
		ExpiresAt:   expires,
		Account:     identity.Account{ID: account.ID, Email: account.Email},
	}, nil
}

func newLinkToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("local: generating link token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
