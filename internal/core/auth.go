package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"

	"github.com/blakemizelle/nationgate/internal/config"
	"github.com/blakemizelle/nationgate/internal/model"
	"github.com/blakemizelle/nationgate/internal/nationbuilder"
)

// ErrCSRFMismatch means the callback's state parameter did not match the
// one stored for this attempt. The callback is rejected and never retried.
var ErrCSRFMismatch = errors.New("oauth state mismatch")

// ErrMissingSessionData means the correlation data for the attempt is
// gone: the session expired, or the callback arrived without a prior
// authorization request.
var ErrMissingSessionData = errors.New("missing oauth session data")

// Correlation keys written by BeginAuthorization and consumed by
// CompleteCallback.
const (
	CorrelationVerifier = "code_verifier"
	CorrelationState    = "oauth_state"
	CorrelationNation   = "nation_slug"
)

// CorrelationStore holds one authorization attempt's secrets across the
// redirect round trip. The caller supplies it (in practice the request's
// cookie session); the core only needs set, get and delete.
type CorrelationStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// TokenExchanger is the authorization-code grant, implemented by
// nationbuilder.TokenClient.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, slug, code, verifier string) (*nationbuilder.TokenResponse, error)
}

// AuthService drives the authorize → callback → persist flow for one
// nation at a time.
type AuthService struct {
	installations *InstallationService
	tokens        TokenExchanger
	clientID      string
	redirectURI   string
	scopes        string
	domain        string
}

func NewAuthService(installations *InstallationService, tokens TokenExchanger, cfg *config.Config) *AuthService {
	return &AuthService{
		installations: installations,
		tokens:        tokens,
		clientID:      cfg.NBClientID,
		redirectURI:   cfg.NBRedirectURI,
		scopes:        cfg.NBScopes,
		domain:        cfg.NBDomain,
	}
}

// BeginAuthorization generates the attempt's PKCE pair and CSRF state,
// stashes them in the correlation store, and returns the nation's
// authorization URL to redirect the user to.
func (s *AuthService) BeginAuthorization(slug string, corr CorrelationStore) (string, error) {
	pkce, err := generatePKCE()
	if err != nil {
		return "", err
	}
	state, err := generateState()
	if err != nil {
		return "", err
	}

	corr.Set(CorrelationVerifier, pkce.Verifier)
	corr.Set(CorrelationState, state)
	corr.Set(CorrelationNation, slug)

	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {s.clientID},
		"redirect_uri":          {s.redirectURI},
		"scope":                 {s.scopes},
		"state":                 {state},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {"S256"},
	}

	return fmt.Sprintf("https://%s.%s/oauth/authorize?%s", slug, s.domain, params.Encode()), nil
}

// CompleteCallback verifies the returning redirect, exchanges the code
// and persists the installation. The attempt's verifier and state are
// purged whatever the outcome, so a replayed callback always fails; the
// nation slug stays in the store for the caller's session.
func (s *AuthService) CompleteCallback(ctx context.Context, corr CorrelationStore, code, state string) (*model.Installation, error) {
	storedState, haveState := corr.Get(CorrelationState)
	verifier, haveVerifier := corr.Get(CorrelationVerifier)
	slug, haveSlug := corr.Get(CorrelationNation)

	corr.Delete(CorrelationState)
	corr.Delete(CorrelationVerifier)

	if !haveState || !haveVerifier || !haveSlug {
		return nil, ErrMissingSessionData
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(storedState)) != 1 {
		return nil, ErrCSRFMismatch
	}

	tok, err := s.tokens.ExchangeCode(ctx, slug, code, verifier)
	if err != nil {
		return nil, fmt.Errorf("exchange code for %s: %w", slug, err)
	}

	inst, err := s.installations.CreateOrReactivate(ctx, slug, tok)
	if err != nil {
		return nil, fmt.Errorf("persist installation: %w", err)
	}
	return inst, nil
}

// Logout uninstalls the nation. Idempotent: logging out a nation that is
// not installed is not an error.
func (s *AuthService) Logout(ctx context.Context, slug string) error {
	return s.installations.MarkUninstalled(ctx, slug)
}
