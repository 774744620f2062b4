package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/blakemizelle/nationgate/internal/api/request"
	"github.com/blakemizelle/nationgate/internal/api/response"
	"github.com/blakemizelle/nationgate/internal/api/session"
	"github.com/blakemizelle/nationgate/internal/core"
	"github.com/blakemizelle/nationgate/internal/model"
	"github.com/blakemizelle/nationgate/internal/nationbuilder"
)

type OAuth struct {
	authSvc  *core.AuthService
	instSvc  *core.InstallationService
	sessions *session.Store
}

func NewOAuth(authSvc *core.AuthService, instSvc *core.InstallationService, sessions *session.Store) *OAuth {
	return &OAuth{authSvc: authSvc, instSvc: instSvc, sessions: sessions}
}

// Install begins the authorization flow for ?nation=. A nation that is
// already installed skips the provider round trip and lands on the
// dashboard directly.
func (h *OAuth) Install(w http.ResponseWriter, r *http.Request) {
	slug, err := request.NationSlug(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	inst, err := h.instSvc.FindAny(r.Context(), slug)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("nation", slug).Msg("installation lookup failed")
		response.WriteError(w, http.StatusInternalServerError, "installation lookup failed")
		return
	}

	sess := h.sessions.Load(r)

	if inst != nil && inst.Status == model.StatusActive {
		sess.Set(core.CorrelationNation, slug)
		if err := h.sessions.Save(w, sess); err != nil {
			response.WriteError(w, http.StatusInternalServerError, "session write failed")
			return
		}
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	if inst != nil {
		zerolog.Ctx(r.Context()).Info().Str("nation", slug).Msg("uninstalled nation starting reinstall")
	}

	authURL, err := h.authSvc.BeginAuthorization(slug, sess)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("nation", slug).Msg("begin authorization failed")
		response.WriteError(w, http.StatusInternalServerError, "begin authorization failed")
		return
	}
	if err := h.sessions.Save(w, sess); err != nil {
		response.WriteError(w, http.StatusInternalServerError, "session write failed")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles the provider's redirect back. Forged, replayed or
// stale callbacks fail here and are never retried.
func (h *OAuth) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		zerolog.Ctx(r.Context()).Warn().Str("oauth_error", errCode).Msg("authorization denied by provider")
		response.WriteError(w, http.StatusBadRequest, "authorization denied: "+errCode)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		response.WriteError(w, http.StatusBadRequest, "missing code or state parameter")
		return
	}

	sess := h.sessions.Load(r)
	inst, err := h.authSvc.CompleteCallback(r.Context(), sess, code, state)

	// The attempt's secrets were purged either way; persist that before
	// any status is written.
	if saveErr := h.sessions.Save(w, sess); saveErr != nil {
		response.WriteError(w, http.StatusInternalServerError, "session write failed")
		return
	}

	if err != nil {
		log := zerolog.Ctx(r.Context())
		switch {
		case errors.Is(err, core.ErrMissingSessionData):
			response.WriteError(w, http.StatusBadRequest, "no authorization attempt in progress")
		case errors.Is(err, core.ErrCSRFMismatch):
			log.Warn().Msg("oauth state mismatch")
			response.WriteError(w, http.StatusForbidden, "state verification failed")
		default:
			var exchangeErr *nationbuilder.TokenExchangeError
			if errors.As(err, &exchangeErr) {
				log.Warn().Int("status", exchangeErr.Status).Msg("token exchange rejected")
				response.WriteError(w, http.StatusBadGateway, "token exchange failed")
				return
			}
			log.Error().Err(err).Msg("callback failed")
			response.WriteError(w, http.StatusInternalServerError, "authorization could not be completed")
		}
		return
	}

	zerolog.Ctx(r.Context()).Info().Str("nation", inst.NationSlug).Msg("nation installed")
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// Uninstall deactivates the nation's installation. Idempotent.
func (h *OAuth) Uninstall(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Load(r)

	slug, ok := sess.Get(core.CorrelationNation)
	if !ok {
		var err error
		slug, err = request.NationSlug(r)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "no nation in session or query")
			return
		}
	}

	if err := h.authSvc.Logout(r.Context(), slug); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("nation", slug).Msg("uninstall failed")
		response.WriteError(w, http.StatusInternalServerError, "uninstall failed")
		return
	}

	sess.Delete(core.CorrelationNation)
	if err := h.sessions.Save(w, sess); err != nil {
		response.WriteError(w, http.StatusInternalServerError, "session write failed")
		return
	}

	zerolog.Ctx(r.Context()).Info().Str("nation", slug).Msg("nation uninstalled")
	response.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "uninstalled",
		"nation": slug,
	})
}
