package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/procurelabs/spachat/internal/store"
)

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestGetOrCreateUserIDIsStable(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := GetOrCreateUserID(ctx, repo)
	if err != nil {
		t.Fatalf("GetOrCreateUserID failed: %v", err)
	}
	if first == "" {
		t.Fatal("expected non-empty user ID")
	}

	second, err := GetOrCreateUserID(ctx, repo)
	if err != nil {
		t.Fatalf("GetOrCreateUserID failed: %v", err)
	}
	if first != second {
		t.Errorf("user ID not stable: %q vs %q", first, second)
	}
}

func TestStaticTokenProvider(t *testing.T) {
	t.Parallel()

	tok, err := Static("dev-token").Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "dev-token" {
		t.Errorf("Token = %q", tok)
	}
}

func TestOAuthProviderFetchesAndCaches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-1" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unsupported_grant_type"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "issued-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	p := NewOAuthProvider(OAuthConfig{
		TokenURL:     srv.URL,
		ClientID:     "client-1",
		ClientSecret: "secret",
		RefreshSkew:  time.Minute,
	}, nil)

	ctx := context.Background()
	tok, err := p.Token(ctx)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "issued-token" {
		t.Errorf("Token = %q", tok)
	}

	// Second call is served from the in-memory cache.
	if _, err := p.Token(ctx); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("token endpoint called %d times, want 1", got)
	}
}

func TestOAuthProviderSurfacesEndpointError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
	}))
	defer srv.Close()

	p := NewOAuthProvider(OAuthConfig{TokenURL: srv.URL, ClientID: "x", ClientSecret: "y"}, nil)
	if _, err := p.Token(context.Background()); err == nil {
		t.Error("expected error from rejecting token endpoint")
	}
}

func TestOAuthProviderPersistsCredential(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "persisted-token",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	p := NewOAuthProvider(OAuthConfig{TokenURL: srv.URL, ClientID: "x", ClientSecret: "y"}, repo)
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	cred, err := repo.GetCredential(context.Background(), "gateway")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if cred == nil || cred.Token != "persisted-token" {
		t.Errorf("credential not persisted: %+v", cred)
	}
}
