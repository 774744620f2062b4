package nationbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blakemizelle/nationgate/internal/config"
)

var tokenRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nationbuilder_token_requests_total",
		Help: "Total token endpoint requests by grant type and outcome",
	},
	[]string{"grant_type", "outcome"},
)

// TokenResponse is the parsed answer from the NationBuilder token
// endpoint. ExpiresAt is stamped once at receipt so later checks compare
// against an absolute time instead of re-deriving it from expires_in.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`

	ExpiresAt time.Time `json:"-"`
}

// TokenClient performs the two token endpoint grants against a nation's
// OAuth endpoint. It never retries; retry policy belongs to the caller.
type TokenClient struct {
	clientID     string
	clientSecret string
	redirectURI  string
	http         *http.Client
	baseURL      func(slug string) string
}

func NewTokenClient(cfg *config.Config) *TokenClient {
	domain := cfg.NBDomain
	return &TokenClient{
		clientID:     cfg.NBClientID,
		clientSecret: cfg.NBClientSecret,
		redirectURI:  cfg.NBRedirectURI,
		http:         &http.Client{Timeout: 15 * time.Second},
		baseURL: func(slug string) string {
			return fmt.Sprintf("https://%s.%s", slug, domain)
		},
	}
}

// ExchangeCode trades an authorization code plus its PKCE verifier for a
// token pair.
func (c *TokenClient) ExchangeCode(ctx context.Context, slug, code, verifier string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.redirectURI},
		"client_id":     {c.clientID},
		"code_verifier": {verifier},
	}
	if c.clientSecret != "" {
		form.Set("client_secret", c.clientSecret)
	}
	return c.requestToken(ctx, slug, form)
}

// Refresh trades a refresh token for a fresh token pair.
func (c *TokenClient) Refresh(ctx context.Context, slug, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
	}
	if c.clientSecret != "" {
		form.Set("client_secret", c.clientSecret)
	}
	return c.requestToken(ctx, slug, form)
}

func (c *TokenClient) requestToken(ctx context.Context, slug string, form url.Values) (*TokenResponse, error) {
	grant := form.Get("grant_type")

	// Once the request is sent the provider may rotate tokens whether or
	// not we stick around for the answer, so the exchange must run to
	// completion even if the caller's context is cancelled.
	ctx = context.WithoutCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL(slug)+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		tokenRequestsTotal.WithLabelValues(grant, "error").Inc()
		return nil, fmt.Errorf("post token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tokenRequestsTotal.WithLabelValues(grant, "error").Inc()
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		tokenRequestsTotal.WithLabelValues(grant, "rejected").Inc()
		return nil, &TokenExchangeError{Status: resp.StatusCode, Body: truncateBody(body)}
	}

	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		tokenRequestsTotal.WithLabelValues(grant, "malformed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" || tok.ExpiresIn <= 0 {
		tokenRequestsTotal.WithLabelValues(grant, "malformed").Inc()
		return nil, fmt.Errorf("%w: missing access_token, refresh_token or expires_in", ErrMalformedResponse)
	}

	tok.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	tokenRequestsTotal.WithLabelValues(grant, "ok").Inc()
	return &tok, nil
}
