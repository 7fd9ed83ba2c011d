package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dvloznov/networth-sync/internal/logger"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// AuthorizeFunc obtains a fresh token from the user.
type AuthorizeFunc func(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)

// TokenSource builds an installed-app token source from the OAuth client in
// credentialsFile. A cached token in tokenFile is reused and refreshed; when
// there is none, authorize is run and the result is cached. A nil authorize
// uses the loopback browser flow.
func TokenSource(ctx context.Context, credentialsFile, tokenFile string, authorize AuthorizeFunc) (oauth2.TokenSource, error) {
	log := logger.FromContext(ctx)

	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("TokenSource: reading client credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("TokenSource: parsing client credentials: %w", err)
	}

	tok, err := loadToken(tokenFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("token_file", tokenFile).Msg("Ignoring unreadable token cache")
		}
		if authorize == nil {
			authorize = LoopbackAuthorize
		}
		tok, err = authorize(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("TokenSource: authorizing: %w", err)
		}
		if err := saveToken(tokenFile, tok); err != nil {
			return nil, fmt.Errorf("TokenSource: %w", err)
		}
		log.Info().Str("token_file", tokenFile).Msg("Cached spreadsheet authorization")
	}

	return &persistingTokenSource{
		base: cfg.TokenSource(context.WithoutCancel(ctx), tok),
		path: tokenFile,
		last: tok.AccessToken,
	}, nil
}

// persistingTokenSource writes refreshed tokens back to the cache.
type persistingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := saveToken(p.path, tok); err != nil {
			return nil, err
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}

// LoopbackAuthorize prints the consent URL and waits for the redirect on a
// local listener.
func LoopbackAuthorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("starting loopback listener: %w", err)
	}

	c := *cfg
	c.RedirectURL = "http://" + ln.Addr().String() + "/"
	state := uuid.NewString()

	codes := make(chan string, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("state") != state || q.Get("code") == "" {
				http.Error(w, "invalid authorization response", http.StatusBadRequest)
				return
			}
			fmt.Fprintln(w, "Authorization complete. You can close this window.")
			select {
			case codes <- q.Get("code"):
			default:
			}
		}),
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	authURL := c.AuthCodeURL(state, oauth2.AccessTypeOffline)
	log := logger.FromContext(ctx)
	log.Info().Str("url", authURL).Msg("Open this URL to authorize spreadsheet access")
	fmt.Fprintf(os.Stderr, "\nAuthorize spreadsheet access:\n\n  %s\n\n", authURL)

	var code string
	select {
	case code = <-codes:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tok, err := c.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%s holds no token", path)
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating token dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing token cache: %w", err)
	}
	return nil
}
