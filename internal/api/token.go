package api

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// refreshMargin is how long before expiry a cached installation token is replaced
const refreshMargin = 5 * time.Minute

// ErrNoCredentials is returned when neither a personal token nor app
// credentials are configured
var ErrNoCredentials = errors.New("no GitHub credentials configured")

// AppCredentials identify a GitHub App installation
type AppCredentials struct {
	AppID          int64
	InstallationID int64
	PrivateKeyPEM  []byte
}

// mintFunc creates a new installation token
type mintFunc func(ctx context.Context) (token string, expiresAt time.Time, err error)

// InstallationTokenSource caches one installation token and replaces it
// shortly before it expires. Each client owns its own source.
type InstallationTokenSource struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	mint mintFunc
	now  func() time.Time
}

// Token returns the cached token, refreshing it when it is missing or
// within five minutes of expiry.
func (s *InstallationTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" || !s.now().Before(s.expiresAt.Add(-refreshMargin)) {
		if err := s.refresh(); err != nil {
			return nil, err
		}
	}
	return &oauth2.Token{AccessToken: s.token, TokenType: "Bearer", Expiry: s.expiresAt}, nil
}

func (s *InstallationTokenSource) refresh() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	token, expiresAt, err := s.mint(ctx)
	if err != nil {
		return fmt.Errorf("failed to mint installation token: %w", err)
	}
	s.token = token
	s.expiresAt = expiresAt
	return nil
}

// newInstallationTokenSource builds a source that exchanges an app JWT for
// installation tokens against baseURL (empty for api.github.com).
func newInstallationTokenSource(creds AppCredentials, baseURL string, transport http.RoundTripper) (*InstallationTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(creds.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}

	src := &InstallationTokenSource{now: time.Now}
	src.mint = func(ctx context.Context) (string, time.Time, error) {
		appJWT, err := signAppJWT(creds.AppID, key, src.now())
		if err != nil {
			return "", time.Time{}, err
		}
		client, err := newRESTClient(&http.Client{Transport: transport}, baseURL)
		if err != nil {
			return "", time.Time{}, err
		}
		tok, _, err := client.WithAuthToken(appJWT).Apps.CreateInstallationToken(ctx, creds.InstallationID, nil)
		if err != nil {
			return "", time.Time{}, err
		}
		return tok.GetToken(), tok.GetExpiresAt().Time, nil
	}
	return src, nil
}

// signAppJWT creates the short-lived JWT GitHub expects from an app
func signAppJWT(appID int64, key *rsa.PrivateKey, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		// Backdated to tolerate clock drift
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    strconv.FormatInt(appID, 10),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign app JWT: %w", err)
	}
	return signed, nil
}

// tokenSource picks the static token when one is configured, else the app
// installation token source.
func tokenSource(opts Options, transport http.RoundTripper) (oauth2.TokenSource, error) {
	if opts.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}), nil
	}
	if opts.App != nil {
		return newInstallationTokenSource(*opts.App, opts.BaseURL, transport)
	}
	return nil, ErrNoCredentials
}

// newRESTClient creates a go-github client, pointed at baseURL when given
func newRESTClient(httpClient *http.Client, baseURL string) (*github.Client, error) {
	client := github.NewClient(httpClient)
	if baseURL == "" {
		return client, nil
	}
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	client.BaseURL = u
	return client, nil
}
