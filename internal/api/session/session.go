package session

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/blakemizelle/nationgate/internal/core"
	"github.com/blakemizelle/nationgate/internal/crypto"
)

const (
	// CookieName is the browser cookie the encrypted session rides in.
	CookieName = "nationgate_session"

	// DefaultTTL bounds how long an authorization attempt's correlation
	// data stays valid. A callback arriving later finds an empty session
	// and is rejected.
	DefaultTTL = 15 * time.Minute
)

// Store seals session data into an AES-GCM encrypted cookie. The browser
// carries the ciphertext; only holders of the key can read or mint it.
type Store struct {
	key []byte
	ttl time.Duration
}

func NewStore(key []byte) *Store {
	return &Store{key: key, ttl: DefaultTTL}
}

// Session is one request's decrypted session values. It satisfies
// core.CorrelationStore so the OAuth flow can stash its verifier and
// state here across the redirect round trip.
type Session struct {
	values map[string]string
}

var _ core.CorrelationStore = (*Session)(nil)

func (s *Session) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key, value string) {
	s.values[key] = value
}

func (s *Session) Delete(key string) {
	delete(s.values, key)
}

type payload struct {
	Values    map[string]string `json:"v"`
	ExpiresAt time.Time         `json:"exp"`
}

// Load decrypts the request's session cookie. A missing, tampered or
// expired cookie yields a fresh empty session, never an error: the
// flows downstream treat absent correlation data as the failure.
func (st *Store) Load(r *http.Request) *Session {
	empty := &Session{values: map[string]string{}}

	c, err := r.Cookie(CookieName)
	if err != nil {
		return empty
	}

	raw, err := crypto.Decrypt(c.Value, st.key)
	if err != nil {
		return empty
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return empty
	}
	if time.Now().After(p.ExpiresAt) {
		return empty
	}
	if p.Values == nil {
		return empty
	}

	return &Session{values: p.Values}
}

// Save seals the session back into the response cookie. An empty
// session clears the cookie instead.
func (st *Store) Save(w http.ResponseWriter, s *Session) error {
	if len(s.values) == 0 {
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
		return nil
	}

	raw, err := json.Marshal(payload{
		Values:    s.values,
		ExpiresAt: time.Now().Add(st.ttl),
	})
	if err != nil {
		return err
	}

	sealed, err := crypto.Encrypt(raw, st.key)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sealed,
		Path:     "/",
		MaxAge:   int(st.ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
