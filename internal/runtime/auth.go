// internal/runtime/auth.go
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	gc "github.com/joshsymonds/awayreply/internal/gmail"
)

// TokenSourcer yields the held credential; ok is false when none is held.
type TokenSourcer interface {
	TokenSource(ctx context.Context) (oauth2.TokenSource, bool, error)
}

// TokenSourceClients builds a Gmail client from whatever credential the
// TokenSourcer holds at call time.
type TokenSourceClients struct {
	Tokens TokenSourcer
	// Options are appended to the service options; tests point the endpoint
	// at a local server.
	Options []option.ClientOption
}

func (s TokenSourceClients) Client(ctx context.Context) (gc.Client, bool, error) {
	ts, ok, err := s.Tokens.TokenSource(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load credentials: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, s.Options...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, false, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGoogleAPIClient(svc), true, nil
}

// StaticSource always hands out the same client.
type StaticSource struct{ C gc.Client }

func (s StaticSource) Client(context.Context) (gc.Client, bool, error) { return s.C, true, nil }

// NewLocalCredClient authorizes through a gmailctl config directory
// (credentials.json + token.json) instead of the web flow.
func NewLocalCredClient(ctx context.Context, cfgDir string) (gc.Client, error) {
	// modify covers reading, sending and relabelling
	svc, err := (localcred.Provider{}).ServiceWithScopes(ctx, cfgDir, gmail.GmailModifyScope)
	if err != nil {
		return nil, err
	}
	return NewGoogleAPIClient(svc), nil
}

// NewLogger returns a text logger on stderr at the named level
// (debug, info, warn, error). Unknown names fall back to info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func DefaultLogger() *slog.Logger {
	return NewLogger("info")
}
