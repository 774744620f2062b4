package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/blakemizelle/nationgate/internal/api/session"
	"github.com/blakemizelle/nationgate/internal/config"
	"github.com/blakemizelle/nationgate/internal/core"
	"github.com/blakemizelle/nationgate/internal/crypto"
	"github.com/blakemizelle/nationgate/internal/model"
	"github.com/blakemizelle/nationgate/internal/nationbuilder"
)

// fakeDB implements core.DB with plug-in behavior per test.
type fakeDB struct {
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execSQL      []string
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	if f.execFunc != nil {
		return f.execFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected Query")
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.queryRowFunc != nil {
		return f.queryRowFunc(ctx, sql, args...)
	}
	return noRow()
}

type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

func noRow() pgx.Row {
	return rowFunc(func(dest ...any) error { return pgx.ErrNoRows })
}

// sealedRow is a database row for inst with its tokens encrypted under
// key, the way they are stored.
func sealedRow(t *testing.T, key []byte, inst model.Installation) pgx.Row {
	t.Helper()
	access, err := crypto.Encrypt([]byte(inst.AccessToken), key)
	require.NoError(t, err)
	refresh, err := crypto.Encrypt([]byte(inst.RefreshToken), key)
	require.NoError(t, err)

	return rowFunc(func(dest ...any) error {
		*dest[0].(*string) = inst.ID
		*dest[1].(*string) = inst.NationSlug
		*dest[2].(*string) = access
		*dest[3].(*string) = refresh
		*dest[4].(*time.Time) = inst.ExpiresAt
		*dest[5].(*string) = inst.TokenType
		*dest[6].(*string) = inst.Scope
		*dest[7].(*string) = inst.Status
		*dest[8].(*time.Time) = inst.InstalledAt
		*dest[9].(*time.Time) = inst.LastUsedAt
		*dest[10].(**time.Time) = inst.UninstalledAt
		*dest[11].(*time.Time) = inst.CreatedAt
		*dest[12].(*time.Time) = inst.UpdatedAt
		return nil
	})
}

// stubExchanger implements core.TokenExchanger and records the exchange.
type stubExchanger struct {
	calls    int
	slug     string
	code     string
	verifier string
	tok      *nationbuilder.TokenResponse
	err      error
}

func (s *stubExchanger) ExchangeCode(ctx context.Context, slug, code, verifier string) (*nationbuilder.TokenResponse, error) {
	s.calls++
	s.slug, s.code, s.verifier = slug, code, verifier
	if s.err != nil {
		return nil, s.err
	}
	return s.tok, nil
}

type testEnv struct {
	db       *fakeDB
	exch     *stubExchanger
	sessions *session.Store
	oauth    *OAuth
	key      []byte
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := &config.Config{
		NBClientID:    "client-123",
		NBRedirectURI: "https://app.example.com/oauth/callback",
		NBScopes:      "default",
		NBDomain:      "nationbuilder.com",
	}

	db := &fakeDB{}
	exch := &stubExchanger{
		tok: &nationbuilder.TokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			Scope:        "default",
			ExpiresIn:    3600,
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}

	services := core.NewServices(db, exch, cfg, key)
	sessions := session.NewStore(key)

	return &testEnv{
		db:       db,
		exch:     exch,
		sessions: sessions,
		oauth:    NewOAuth(services.Auth, services.Installation, sessions),
		key:      key,
	}
}

// mintSessionCookie produces a valid session cookie holding values.
func mintSessionCookie(t *testing.T, store *session.Store, values map[string]string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	s := store.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	for k, v := range values {
		s.Set(k, v)
	}
	require.NoError(t, store.Save(rec, s))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

// sessionFromResponse decrypts the session cookie the handler wrote.
func sessionFromResponse(store *session.Store, rec *httptest.ResponseRecorder) *session.Session {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return store.Load(r)
}

func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}
