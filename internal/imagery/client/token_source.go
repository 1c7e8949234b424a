package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fieldscope/fieldscope/internal/config"
	imagerydomain "github.com/fieldscope/fieldscope/internal/imagery/domain"
	obsmetrics "github.com/fieldscope/fieldscope/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// refreshMargin is how close to expiry a cached token is still trusted.
const refreshMargin = 60 * time.Second

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenSource caches one bearer token for the imagery service and
// refreshes it with a client-credential grant. Concurrent callers share
// a single refresh per expiry window.
type TokenSource struct {
	cfg        config.ImageryConfig
	httpClient *http.Client
	log        *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

func NewTokenSource(cfg config.ImageryConfig, httpClient *http.Client, log *zap.Logger) *TokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &TokenSource{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log.Named("imagery.token"),
	}
}

func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	token, expiresAt := t.token, t.expiresAt
	t.mu.Unlock()

	if token != "" && time.Until(expiresAt) > refreshMargin {
		return token, nil
	}

	refreshed, err, _ := t.group.Do("token", func() (any, error) {
		// Re-check under the flight: another caller may have refreshed
		// while this one waited.
		t.mu.Lock()
		token, expiresAt := t.token, t.expiresAt
		t.mu.Unlock()
		if token != "" && time.Until(expiresAt) > refreshMargin {
			return token, nil
		}
		return t.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return refreshed.(string), nil
}

func (t *TokenSource) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.expiresAt = time.Time{}
	t.mu.Unlock()
}

func (t *TokenSource) refresh(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", t.cfg.ClientID)
	form.Set("client_secret", t.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", imagerydomain.ErrTokenUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		obsmetrics.Pipeline().IncTokenRefresh("error")
		return "", fmt.Errorf("%w: %v", imagerydomain.ErrTokenUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		obsmetrics.Pipeline().IncTokenRefresh("error")
		return "", fmt.Errorf("%w: token endpoint returned %d", imagerydomain.ErrTokenUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		obsmetrics.Pipeline().IncTokenRefresh("error")
		return "", fmt.Errorf("%w: %v", imagerydomain.ErrTokenUnavailable, err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		obsmetrics.Pipeline().IncTokenRefresh("error")
		return "", fmt.Errorf("%w: malformed token response", imagerydomain.ErrTokenUnavailable)
	}

	// Keep the cached lifetime shorter than the real one.
	ttl := time.Duration(tr.ExpiresIn)*time.Second - refreshMargin
	if ttl <= 0 {
		ttl = refreshMargin
	}

	t.mu.Lock()
	t.token = tr.AccessToken
	t.expiresAt = time.Now().Add(ttl)
	t.mu.Unlock()

	obsmetrics.Pipeline().IncTokenRefresh("ok")
	t.log.Debug("bearer token refreshed", zap.Duration("ttl", ttl))
	return tr.AccessToken, nil
}
