package nationbuilder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/blakemizelle/nationgate/internal/config"
	"github.com/blakemizelle/nationgate/internal/model"
)

// InstallationStore is the credential persistence the gateway reads
// through. Implemented by core.InstallationService.
type InstallationStore interface {
	FindActive(ctx context.Context, slug string) (*model.Installation, error)
	ApplyRefresh(ctx context.Context, inst *model.Installation, tok *TokenResponse) (*model.Installation, error)
	TouchLastUsed(ctx context.Context, slug string)
}

// TokenRefresher is the refresh grant, implemented by TokenClient.
type TokenRefresher interface {
	Refresh(ctx context.Context, slug, refreshToken string) (*TokenResponse, error)
}

// Client is the authenticated gateway to the NationBuilder resource API.
// It keeps the nation's tokens valid around every call: refreshing ahead
// of expiry, and retrying exactly once after a 401.
type Client struct {
	store   InstallationStore
	tokens  TokenRefresher
	http    *http.Client
	baseURL func(slug string) string

	// refreshBuffer is how close to expiry a token must be before the
	// gateway refreshes it ahead of use.
	refreshBuffer time.Duration

	// refreshGroup collapses concurrent refreshes per nation so one
	// refresh token is never presented to the provider twice at once.
	refreshGroup singleflight.Group
}

func NewClient(store InstallationStore, tokens TokenRefresher, cfg *config.Config) *Client {
	domain := cfg.NBDomain
	return &Client{
		store:         store,
		tokens:        tokens,
		http:          &http.Client{Timeout: 15 * time.Second},
		refreshBuffer: model.DefaultRefreshBuffer,
		baseURL: func(slug string) string {
			return fmt.Sprintf("https://%s.%s", slug, domain)
		},
	}
}

// Get issues an authenticated GET and returns the raw JSON body.
func (c *Client) Get(ctx context.Context, slug, path string) (json.RawMessage, error) {
	return c.Call(ctx, slug, http.MethodGet, path, nil)
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, slug, path string, body any) (json.RawMessage, error) {
	return c.Call(ctx, slug, http.MethodPost, path, body)
}

// Call performs one authenticated request against the nation's API.
// Returns ErrNotInstalled when the nation has no active installation, and
// *APIError for any non-2xx answer that survives the single 401 retry.
func (c *Client) Call(ctx context.Context, slug, method, path string, body any) (json.RawMessage, error) {
	inst, err := c.store.FindActive(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("find installation: %w", err)
	}
	if inst == nil {
		return nil, ErrNotInstalled
	}

	if inst.ExpiringSoon(c.refreshBuffer) {
		inst, err = c.refreshInstallation(ctx, slug, false)
		if err != nil {
			return nil, err
		}
	}

	status, respBody, err := c.do(ctx, inst, method, path, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		// The provider is the ground truth on token validity, so refresh
		// even if the proactive check just passed. One retry only.
		inst, err = c.refreshInstallation(ctx, slug, true)
		if err != nil {
			return nil, err
		}
		status, respBody, err = c.do(ctx, inst, method, path, body)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status >= 300 {
		return nil, &APIError{Status: status, Body: truncateBody(respBody)}
	}

	c.store.TouchLastUsed(ctx, slug)
	return json.RawMessage(respBody), nil
}

// refreshInstallation refreshes the nation's tokens, serialized per slug.
// Callers that arrive while a refresh is in flight wait for it and share
// its result. A non-forced refresh is skipped when the re-read shows a
// concurrent caller already produced a fresh token.
func (c *Client) refreshInstallation(ctx context.Context, slug string, force bool) (*model.Installation, error) {
	// The flight runs on the winning caller's context. Once the provider
	// rotates the pair the new refresh token must reach the store even if
	// that caller is gone, so the whole flight is detached from
	// cancellation, not just the exchange.
	ctx = context.WithoutCancel(ctx)

	v, err, _ := c.refreshGroup.Do(slug, func() (any, error) {
		inst, err := c.store.FindActive(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("find installation: %w", err)
		}
		if inst == nil {
			return nil, ErrNotInstalled
		}
		if !force && !inst.ExpiringSoon(c.refreshBuffer) {
			return inst, nil
		}

		tok, err := c.tokens.Refresh(ctx, slug, inst.RefreshToken)
		if err != nil {
			// Leave the installation active; a transient provider failure
			// must not destroy recoverable credentials.
			return nil, fmt.Errorf("refresh tokens: %w", err)
		}

		updated, err := c.store.ApplyRefresh(ctx, inst, tok)
		if err != nil {
			return nil, fmt.Errorf("persist refreshed tokens: %w", err)
		}
		return updated, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Installation), nil
}

func (c *Client) do(ctx context.Context, inst *model.Installation, method, path string, body any) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL(inst.NationSlug)+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create api request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+inst.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("api request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read api response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}
