package domain

import (
	"time"
)

// FileEntry is one row of the remote file manifest. The manifest is a
// transient snapshot: each listing response replaces the whole list.
type FileEntry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	URL      string    `json:"url"`
}

// Identity is the stable anonymous device identity used as the userId on
// outbound chat and ping commands.
type Identity struct {
	UserID    string
	CreatedAt time.Time
}

// Credential is a cached bearer token for the gateway, keyed by the token
// endpoint it was issued from.
type Credential struct {
	Key       string
	Token     string
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the credential is past its expiry, with a safety
// margin so a token is never presented moments before it lapses.
func (c *Credential) Expired(skew time.Duration) bool {
	return time.Now().Add(skew).After(c.ExpiresAt)
}
