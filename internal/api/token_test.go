package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestInstallationTokenRefreshesBeforeExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mints := 0
	src := &InstallationTokenSource{
		now: func() time.Time { return now },
		mint: func(context.Context) (string, time.Time, error) {
			mints++
			return "token-" + string(rune('0'+mints)), now.Add(time.Hour), nil
		},
	}

	tok, err := src.Token()
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "token-1" || mints != 1 {
		t.Fatalf("first token = %q after %d mints", tok.AccessToken, mints)
	}

	// Still more than five minutes left
	now = now.Add(54 * time.Minute)
	if tok, _ = src.Token(); tok.AccessToken != "token-1" || mints != 1 {
		t.Errorf("token = %q after %d mints, want cached", tok.AccessToken, mints)
	}

	// Exactly five minutes before expiry
	now = now.Add(time.Minute)
	if tok, _ = src.Token(); tok.AccessToken != "token-2" || mints != 2 {
		t.Errorf("token = %q after %d mints, want refreshed", tok.AccessToken, mints)
	}
}

func TestSignAppJWT(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	signed, err := signAppJWT(42, key, now)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := jwt.ParseWithClaims(signed, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatal(err)
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	if claims.Issuer != "42" {
		t.Errorf("issuer = %q", claims.Issuer)
	}
	if !claims.IssuedAt.Time.Before(now) || claims.ExpiresAt.Time.After(now.Add(10*time.Minute)) {
		t.Errorf("iat=%v exp=%v", claims.IssuedAt, claims.ExpiresAt)
	}
}

func TestAppInstallationTokenIsUsedForRequests(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	var minted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/installations/99/access_tokens":
			minted.Add(1)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token":      "ghs_installation",
				"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			})
		case "/repos/acme/widgets":
			if got := r.Header.Get("Authorization"); got != "Bearer ghs_installation" {
				t.Errorf("Authorization = %q", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 10, "full_name": "acme/widgets"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := NewGitHubClient(Options{
		App:     &AppCredentials{AppID: 1, InstallationID: 99, PrivateKeyPEM: keyPEM},
		BaseURL: srv.URL,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}

	for range 3 {
		repo, err := client.GetRepository(context.Background(), "acme", "widgets")
		if err != nil {
			t.Fatal(err)
		}
		if repo.ID != 10 {
			t.Errorf("repo = %+v", repo)
		}
	}
	if got := minted.Load(); got != 1 {
		t.Errorf("minted %d tokens, want 1 cached token", got)
	}
}

func TestStaticTokenWinsOverApp(t *testing.T) {
	ts, err := tokenSource(Options{Token: "pat", App: &AppCredentials{PrivateKeyPEM: []byte("not a key")}}, http.DefaultTransport)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "pat" {
		t.Errorf("token = %q", tok.AccessToken)
	}
}
