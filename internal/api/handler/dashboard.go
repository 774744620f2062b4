package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/blakemizelle/nationgate/internal/api/response"
	"github.com/blakemizelle/nationgate/internal/api/session"
	"github.com/blakemizelle/nationgate/internal/core"
	"github.com/blakemizelle/nationgate/internal/nationbuilder"
)

// NationGateway is the authenticated API surface the dashboard reads
// through. Implemented by nationbuilder.Client.
type NationGateway interface {
	Get(ctx context.Context, slug, path string) (json.RawMessage, error)
}

type Dashboard struct {
	gateway  NationGateway
	sessions *session.Store
}

func NewDashboard(gateway NationGateway, sessions *session.Store) *Dashboard {
	return &Dashboard{gateway: gateway, sessions: sessions}
}

// Show fetches the signed-in person from the session's nation. Calls
// through the gateway, so tokens are refreshed as needed on the way.
func (h *Dashboard) Show(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Load(r)
	slug, ok := sess.Get(core.CorrelationNation)
	if !ok {
		response.WriteError(w, http.StatusUnauthorized, "no nation session")
		return
	}

	me, err := h.gateway.Get(r.Context(), slug, "/api/v2/signups/me")
	if err != nil {
		if errors.Is(err, nationbuilder.ErrNotInstalled) {
			http.Redirect(w, r, "/?nation="+slug, http.StatusFound)
			return
		}
		var exchangeErr *nationbuilder.TokenExchangeError
		if errors.As(err, &exchangeErr) {
			// A 4xx here means the provider rejected the refresh token
			// itself; only a fresh authorization can recover.
			if exchangeErr.Status >= 400 && exchangeErr.Status < 500 {
				zerolog.Ctx(r.Context()).Warn().Str("nation", slug).Msg("refresh token rejected, reauthorization required")
				http.Redirect(w, r, "/?nation="+slug, http.StatusFound)
				return
			}
			zerolog.Ctx(r.Context()).Warn().Int("status", exchangeErr.Status).Str("nation", slug).Msg("token refresh failed")
			response.WriteError(w, http.StatusBadGateway, "token refresh failed")
			return
		}
		var apiErr *nationbuilder.APIError
		if errors.As(err, &apiErr) {
			zerolog.Ctx(r.Context()).Warn().Int("status", apiErr.Status).Str("nation", slug).Msg("nation api error")
			response.WriteError(w, http.StatusBadGateway, "nation api request failed")
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("nation", slug).Msg("dashboard fetch failed")
		response.WriteError(w, http.StatusInternalServerError, "dashboard fetch failed")
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"nation": slug,
		"signup": me,
	})
}
