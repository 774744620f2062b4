package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blakemizelle/nationgate/internal/crypto"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewStore(key)
}

func requestWithCookie(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestSession_RoundTrip(t *testing.T) {
	st := testStore(t)

	s := st.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	s.Set("nation_slug", "acme")
	s.Set("oauth_state", "abc123")

	rec := httptest.NewRecorder()
	require.NoError(t, st.Save(rec, s))

	loaded := st.Load(requestWithCookie(rec))
	slug, ok := loaded.Get("nation_slug")
	require.True(t, ok)
	assert.Equal(t, "acme", slug)
	state, ok := loaded.Get("oauth_state")
	require.True(t, ok)
	assert.Equal(t, "abc123", state)
}

func TestSession_MissingCookieIsEmpty(t *testing.T) {
	st := testStore(t)

	s := st.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	_, ok := s.Get("nation_slug")
	assert.False(t, ok)
}

func TestSession_TamperedCookieIsEmpty(t *testing.T) {
	st := testStore(t)

	s := st.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	s.Set("nation_slug", "acme")
	rec := httptest.NewRecorder()
	require.NoError(t, st.Save(rec, s))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	c := rec.Result().Cookies()[0]
	c.Value = "x" + c.Value
	r.AddCookie(c)

	loaded := st.Load(r)
	_, ok := loaded.Get("nation_slug")
	assert.False(t, ok)
}

func TestSession_WrongKeyIsEmpty(t *testing.T) {
	st := testStore(t)

	s := st.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	s.Set("nation_slug", "acme")
	rec := httptest.NewRecorder()
	require.NoError(t, st.Save(rec, s))

	other := testStore(t)
	loaded := other.Load(requestWithCookie(rec))
	_, ok := loaded.Get("nation_slug")
	assert.False(t, ok)
}

func TestSession_ExpiredIsEmpty(t *testing.T) {
	st := testStore(t)
	st.ttl = -time.Minute

	s := st.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	s.Set("nation_slug", "acme")
	rec := httptest.NewRecorder()
	require.NoError(t, st.Save(rec, s))

	// Restore a sane TTL so only the stored expiry matters.
	st.ttl = DefaultTTL
	loaded := st.Load(requestWithCookie(rec))
	_, ok := loaded.Get("nation_slug")
	assert.False(t, ok)
}

func TestSession_CookieAttributes(t *testing.T) {
	st := testStore(t)

	s := st.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	s.Set("nation_slug", "acme")
	rec := httptest.NewRecorder()
	require.NoError(t, st.Save(rec, s))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, CookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, "/", c.Path)
	assert.NotContains(t, c.Value, "acme", "session values are never stored in the clear")
}

func TestSession_SaveEmptyClearsCookie(t *testing.T) {
	st := testStore(t)

	s := st.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	s.Set("nation_slug", "acme")
	s.Delete("nation_slug")

	rec := httptest.NewRecorder()
	require.NoError(t, st.Save(rec, s))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.Empty(t, cookies[0].Value)
}
