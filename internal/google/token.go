package google

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"clinicdesk/backend/internal/cache"
	"clinicdesk/backend/internal/domain"
)

const (
	tokenCacheKey      = "google_access_token"
	tokenRefreshMargin = 60 * time.Second
	assertionLifetime  = time.Hour
)

type TokenConfig struct {
	Email         string
	PrivateKeyPEM string
	TokenURL      string
	Scope         string
}

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (t cachedToken) usable(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt.Add(-tokenRefreshMargin))
}

// TokenProvider exchanges a signed service-account assertion for a short-lived
// bearer token and caches it in memory and through the injected cache store
// (file-backed in production) so the exchange cost amortizes across requests
// and process lifetimes. Token failure is never fatal here; callers treat it
// as "calendar unreachable". No retries: retry policy belongs to the caller.
type TokenProvider struct {
	cfg   TokenConfig
	hc    *http.Client
	cache cache.Store
	now   func() time.Time

	mu  sync.Mutex
	key *rsa.PrivateKey
	tok cachedToken
}

func NewTokenProvider(cfg TokenConfig, store cache.Store) *TokenProvider {
	if store == nil {
		store = cache.NewMemory()
	}
	return &TokenProvider{
		cfg:   cfg,
		hc:    &http.Client{Timeout: 10 * time.Second},
		cache: store,
		now:   time.Now,
	}
}

func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.tok.usable(now) {
		return p.tok.AccessToken, nil
	}

	if data, ok := p.cache.Get(tokenCacheKey); ok {
		var t cachedToken
		if json.Unmarshal(data, &t) == nil && t.usable(now) {
			p.tok = t
			return t.AccessToken, nil
		}
	}

	tok, err := p.exchange(ctx)
	if err != nil {
		return "", err
	}
	p.tok = tok
	if data, err := json.Marshal(tok); err == nil {
		p.cache.Set(tokenCacheKey, data, tok.ExpiresAt.Sub(now))
	}
	return tok.AccessToken, nil
}

func (p *TokenProvider) exchange(ctx context.Context) (cachedToken, error) {
	if p.cfg.Email == "" || p.cfg.PrivateKeyPEM == "" || p.cfg.TokenURL == "" {
		return cachedToken{}, domain.Errorf(domain.CodeCalendarNotConfigured, "service account credentials missing")
	}

	if p.key == nil {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(p.cfg.PrivateKeyPEM))
		if err != nil {
			return cachedToken{}, domain.WrapError(domain.CodeCalendarAuthFailed, err, "parse service account key")
		}
		p.key = key
	}

	now := p.now()
	claims := jwt.MapClaims{
		"iss":   p.cfg.Email,
		"scope": p.cfg.Scope,
		"aud":   p.cfg.TokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.key)
	if err != nil {
		return cachedToken{}, domain.WrapError(domain.CodeCalendarAuthFailed, err, "sign assertion")
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return cachedToken{}, domain.WrapError(domain.CodeCalendarAuthFailed, err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.hc.Do(req)
	if err != nil {
		return cachedToken{}, domain.WrapError(domain.CodeCalendarAuthFailed, err, "token exchange")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return cachedToken{}, domain.WrapError(domain.CodeCalendarAuthFailed, err, "read token response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return cachedToken{}, domain.Errorf(domain.CodeCalendarAuthFailed, "token endpoint returned %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.AccessToken == "" {
		return cachedToken{}, domain.Errorf(domain.CodeCalendarAuthFailed, "malformed token response")
	}
	if out.ExpiresIn <= 0 {
		out.ExpiresIn = int(assertionLifetime / time.Second)
	}

	return cachedToken{
		AccessToken: out.AccessToken,
		ExpiresAt:   now.Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}
