package model

import "time"

const (
	// DefaultRefreshBuffer is how long before expiry a token counts as
	// expiring soon and gets refreshed ahead of use.
	DefaultRefreshBuffer = 30 * time.Minute
)

const (
	StatusActive      = "active"
	StatusUninstalled = "uninstalled"
)

// Installation is one nation's stored OAuth credentials. There is exactly
// one row per nation_slug; uninstalling flips the status rather than
// deleting the row, so a later re-install reactivates the same record.
type Installation struct {
	ID            string     `json:"id"`
	NationSlug    string     `json:"nation_slug"`
	AccessToken   string     `json:"-"`
	RefreshToken  string     `json:"-"`
	ExpiresAt     time.Time  `json:"expires_at"`
	TokenType     string     `json:"token_type"`
	Scope         string     `json:"scope"`
	Status        string     `json:"status"`
	InstalledAt   time.Time  `json:"installed_at"`
	LastUsedAt    time.Time  `json:"last_used_at"`
	UninstalledAt *time.Time `json:"uninstalled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Expired reports whether the access token's lifetime has passed.
func (i *Installation) Expired() bool {
	return i.expiredAt(time.Now())
}

func (i *Installation) expiredAt(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

// ExpiringSoon reports whether the access token expires within buffer.
func (i *Installation) ExpiringSoon(buffer time.Duration) bool {
	return i.expiringSoonAt(time.Now(), buffer)
}

func (i *Installation) expiringSoonAt(now time.Time, buffer time.Duration) bool {
	return !i.ExpiresAt.After(now.Add(buffer))
}

// Active reports whether the installation is usable: status active and
// the access token not yet expired.
func (i *Installation) Active() bool {
	return i.Status == StatusActive && !i.Expired()
}
