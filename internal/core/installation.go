package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/blakemizelle/nationgate/internal/crypto"
	"github.com/blakemizelle/nationgate/internal/model"
	"github.com/blakemizelle/nationgate/internal/nationbuilder"
)

const installationColumns = `id, nation_slug, access_token, refresh_token, expires_at, token_type, granted_scope, status, installed_at, last_used_at, uninstalled_at, created_at, updated_at`

// InstallationService is the only writer of installation rows. Tokens are
// encrypted with the service key before they reach the database and
// decrypted on the way out.
type InstallationService struct {
	db  DB
	key []byte
}

func NewInstallationService(db DB, tokenKey []byte) *InstallationService {
	return &InstallationService{db: db, key: tokenKey}
}

// FindActive returns the nation's active installation, or nil when the
// nation is not installed (or was uninstalled).
func (s *InstallationService) FindActive(ctx context.Context, slug string) (*model.Installation, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+installationColumns+` FROM installations WHERE nation_slug = $1 AND status = $2`,
		slug, model.StatusActive)
	return s.scanOne(row, slug)
}

// FindAny returns the nation's installation regardless of status, or nil.
func (s *InstallationService) FindAny(ctx context.Context, slug string) (*model.Installation, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+installationColumns+` FROM installations WHERE nation_slug = $1`, slug)
	return s.scanOne(row, slug)
}

// CreateOrReactivate stores the result of a successful code exchange. A
// single upsert keyed on nation_slug makes duplicate callback deliveries
// converge on one row: a fresh nation gets a new active row, an
// uninstalled one flips back to active with its tokens replaced, and an
// already-active one just gets new tokens. installed_at is absent from
// the conflict update, so reactivation keeps the original install time.
func (s *InstallationService) CreateOrReactivate(ctx context.Context, slug string, tok *nationbuilder.TokenResponse) (*model.Installation, error) {
	access, refresh, err := s.sealTokens(tok)
	if err != nil {
		return nil, err
	}

	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	now := time.Now()
	row := s.db.QueryRow(ctx,
		`INSERT INTO installations (id, nation_slug, access_token, refresh_token, expires_at, token_type, granted_scope, status, installed_at, last_used_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (nation_slug) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			token_type = EXCLUDED.token_type,
			granted_scope = EXCLUDED.granted_scope,
			status = EXCLUDED.status,
			uninstalled_at = NULL,
			last_used_at = EXCLUDED.last_used_at,
			updated_at = EXCLUDED.updated_at
		 RETURNING `+installationColumns,
		uuid.New().String(), slug, access, refresh, tok.ExpiresAt, tokenType, tok.Scope,
		model.StatusActive, now, now, now, now)

	inst, err := s.scanRow(row)
	if err != nil {
		return nil, fmt.Errorf("upsert installation %s: %w", slug, err)
	}
	return inst, nil
}

// ApplyRefresh overwrites the token pair and expiry after a refresh grant.
func (s *InstallationService) ApplyRefresh(ctx context.Context, inst *model.Installation, tok *nationbuilder.TokenResponse) (*model.Installation, error) {
	access, refresh, err := s.sealTokens(tok)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tag, err := s.db.Exec(ctx,
		`UPDATE installations SET access_token = $1, refresh_token = $2, expires_at = $3, last_used_at = $4, updated_at = $4
		 WHERE nation_slug = $5 AND status = $6`,
		access, refresh, tok.ExpiresAt, now, inst.NationSlug, model.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("update tokens for %s: %w", inst.NationSlug, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("installation %s is no longer active", inst.NationSlug)
	}

	updated := *inst
	updated.AccessToken = tok.AccessToken
	updated.RefreshToken = tok.RefreshToken
	updated.ExpiresAt = tok.ExpiresAt
	updated.LastUsedAt = now
	updated.UpdatedAt = now
	return &updated, nil
}

// MarkUninstalled soft-deletes the installation: tokens and timestamps
// stay in place, only the status flips. Uninstalling a nation that is
// already uninstalled, or was never installed, is a no-op.
func (s *InstallationService) MarkUninstalled(ctx context.Context, slug string) error {
	now := time.Now()
	_, err := s.db.Exec(ctx,
		`UPDATE installations SET status = $1, uninstalled_at = $2, updated_at = $2
		 WHERE nation_slug = $3 AND status = $4`,
		model.StatusUninstalled, now, slug, model.StatusActive)
	if err != nil {
		return fmt.Errorf("uninstall %s: %w", slug, err)
	}
	return nil
}

// TouchLastUsed bumps last_used_at. Failures are logged and swallowed so
// a bookkeeping write never fails the API call that triggered it.
func (s *InstallationService) TouchLastUsed(ctx context.Context, slug string) {
	_, err := s.db.Exec(ctx,
		`UPDATE installations SET last_used_at = $1 WHERE nation_slug = $2`,
		time.Now(), slug)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("nation", slug).Msg("touch last_used_at failed")
	}
}

func (s *InstallationService) sealTokens(tok *nationbuilder.TokenResponse) (access, refresh string, err error) {
	access, err = crypto.Encrypt([]byte(tok.AccessToken), s.key)
	if err != nil {
		return "", "", fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err = crypto.Encrypt([]byte(tok.RefreshToken), s.key)
	if err != nil {
		return "", "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	return access, refresh, nil
}

func (s *InstallationService) scanOne(row pgx.Row, slug string) (*model.Installation, error) {
	inst, err := s.scanRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get installation %s: %w", slug, err)
	}
	return inst, nil
}

func (s *InstallationService) scanRow(row pgx.Row) (*model.Installation, error) {
	var inst model.Installation
	err := row.Scan(&inst.ID, &inst.NationSlug, &inst.AccessToken, &inst.RefreshToken,
		&inst.ExpiresAt, &inst.TokenType, &inst.Scope, &inst.Status,
		&inst.InstalledAt, &inst.LastUsedAt, &inst.UninstalledAt, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}

	access, err := crypto.Decrypt(inst.AccessToken, s.key)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, err := crypto.Decrypt(inst.RefreshToken, s.key)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	inst.AccessToken = string(access)
	inst.RefreshToken = string(refresh)
	return &inst, nil
}
