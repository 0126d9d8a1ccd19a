package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/procurelabs/spachat/internal/domain"
	"github.com/procurelabs/spachat/internal/store"
)

const credentialKey = "gateway"

// OAuthConfig configures the client-credentials token provider.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// RefreshSkew is subtracted from the token lifetime so a token is
	// never presented moments before it expires.
	RefreshSkew time.Duration
}

// OAuthProvider obtains bearer tokens from an OAuth2 token endpoint using
// the client-credentials grant, caching them in memory and, when a
// repository is supplied, across process restarts.
type OAuthProvider struct {
	cfg  OAuthConfig
	http *resty.Client
	repo store.Repository // optional

	mu     sync.Mutex
	cached *domain.Credential
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type tokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewOAuthProvider creates a token provider. repo may be nil to disable
// persistent caching.
func NewOAuthProvider(cfg OAuthConfig, repo store.Repository) *OAuthProvider {
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = time.Minute
	}
	return &OAuthProvider{
		cfg: cfg,
		http: resty.New().
			SetTimeout(10 * time.Second).
			SetHeader("Accept", "application/json"),
		repo: repo,
	}
}

// Token returns a valid bearer token, fetching a fresh one when the cached
// token is missing or inside the refresh skew.
func (p *OAuthProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && !p.cached.Expired(p.cfg.RefreshSkew) {
		return p.cached.Token, nil
	}

	if p.repo != nil {
		cred, err := p.repo.GetCredential(ctx, credentialKey)
		if err == nil && cred != nil && !cred.Expired(p.cfg.RefreshSkew) {
			p.cached = cred
			return cred.Token, nil
		}
	}

	cred, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	p.cached = cred

	if p.repo != nil {
		if err := p.repo.PutCredential(ctx, cred); err != nil {
			// Cache miss on next restart is the only consequence.
			return cred.Token, nil
		}
	}
	return cred.Token, nil
}

func (p *OAuthProvider) fetch(ctx context.Context) (*domain.Credential, error) {
	var ok tokenResponse
	var bad tokenError

	resp, err := p.http.R().
		SetContext(ctx).
		SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&ok).
		SetError(&bad).
		Post(p.cfg.TokenURL)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	if resp.IsError() {
		if bad.Error != "" {
			return nil, fmt.Errorf("token endpoint rejected request: %s (%s)", bad.Error, bad.ErrorDescription)
		}
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
	}
	if ok.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access_token")
	}

	expiresIn := ok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	return &domain.Credential{
		Key:       credentialKey,
		Token:     ok.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
		UpdatedAt: time.Now(),
	}, nil
}
