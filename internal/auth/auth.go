// Package auth runs the browser OAuth consent flow and hands out token
// sources backed by the durable credential store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"

	"github.com/joshsymonds/awayreply/internal/store"
)

const stateTTL = 10 * time.Minute

var (
	ErrMissingCode  = errors.New("authorization code missing")
	ErrInvalidState = errors.New("unknown or expired state")
)

// TokenStore persists tokens per account.
type TokenStore interface {
	LoadToken(ctx context.Context, account string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, account string, tok *oauth2.Token) error
}

// Scopes requested on the consent screen: read the mailbox and modify labels.
func Scopes() []string {
	return []string{gmail.GmailReadonlyScope, gmail.GmailModifyScope}
}

// NewConfig builds the Google OAuth client configuration.
func NewConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes(),
		Endpoint:     google.Endpoint,
	}
}

// Authenticator owns the consent flow for a single account.
type Authenticator struct {
	Config  *oauth2.Config
	Store   TokenStore
	Account string
	Logger  *slog.Logger
	Clock   func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time // state -> issued at
}

func NewAuthenticator(cfg *oauth2.Config, st TokenStore, account string, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		Config:  cfg,
		Store:   st,
		Account: account,
		Logger:  logger,
		Clock:   time.Now,
		pending: map[string]time.Time{},
	}
}

// AuthURL returns the consent URL. Offline access and a forced prompt make
// Google return a refresh token on every exchange.
func (a *Authenticator) AuthURL() string {
	state := uuid.NewString()

	a.mu.Lock()
	now := a.Clock()
	for s, issued := range a.pending {
		if now.Sub(issued) > stateTTL {
			delete(a.pending, s)
		}
	}
	a.pending[state] = now
	a.mu.Unlock()

	return a.Config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (a *Authenticator) consumeState(state string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	issued, ok := a.pending[state]
	if !ok {
		return false
	}
	delete(a.pending, state)
	return a.Clock().Sub(issued) <= stateTTL
}

// Exchange trades an authorization code for a token and stores it.
func (a *Authenticator) Exchange(ctx context.Context, state, code string) error {
	if code == "" {
		return ErrMissingCode
	}
	if !a.consumeState(state) {
		return ErrInvalidState
	}
	tok, err := a.Config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if err := a.Store.SaveToken(ctx, a.Account, tok); err != nil {
		return err
	}
	a.Logger.InfoContext(ctx, "stored credentials", "account", a.Account, "expiry", tok.Expiry)
	return nil
}

// Authorized reports whether a credential is held for the account.
func (a *Authenticator) Authorized(ctx context.Context) (bool, error) {
	_, err := a.Store.LoadToken(ctx, a.Account)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TokenSource returns a source for the stored credential, or ok=false when
// the account has not been authorized yet.
func (a *Authenticator) TokenSource(ctx context.Context) (oauth2.TokenSource, bool, error) {
	tok, err := a.Store.LoadToken(ctx, a.Account)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	base := a.Config.TokenSource(context.WithoutCancel(ctx), tok)
	ps := &persistingSource{
		base:    base,
		store:   a.Store,
		account: a.Account,
		last:    tok,
		logger:  a.Logger,
	}
	return oauth2.ReuseTokenSource(tok, ps), true, nil
}

// persistingSource refreshes through base and writes every new token back to
// the store so a restart picks up the latest credential.
type persistingSource struct {
	base    oauth2.TokenSource
	store   TokenStore
	account string
	logger  *slog.Logger

	mu   sync.Mutex
	last *oauth2.Token
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != nil && tok.AccessToken == p.last.AccessToken {
		return tok, nil
	}
	if tok.RefreshToken == "" && p.last != nil {
		tok.RefreshToken = p.last.RefreshToken
	}
	if err := p.store.SaveToken(context.Background(), p.account, tok); err != nil {
		p.logger.Error("persist refreshed token", "account", p.account, "error", err)
	} else {
		p.logger.Info("refreshed credentials", "account", p.account, "expiry", tok.Expiry)
	}
	p.last = tok
	return tok, nil
}
