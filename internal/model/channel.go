package model

import (
	"strings"
	"time"
)

// PatternWildcard matches any substring (possibly empty) of a channel name.
const PatternWildcard = "%"

// Channel is a named topic with a matching pattern, an enabled flag and
// zero or more webhook targets.
type Channel struct {
	ID          string    `json:"id"`
	Pattern     string    `json:"pattern"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	WebhookURLs []string  `json:"webhook_urls"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Matches reports whether the channel's pattern accepts the literal name.
func (c *Channel) Matches(name string) bool {
	return MatchPattern(c.Pattern, name)
}

// MatchPattern reports whether a literal channel name is accepted by a
// pattern. A pattern without wildcards matches only itself; each "%"
// matches any run of characters, so "room:%" accepts "room:1" and
// "room:abc" but not "rooms:1".
func MatchPattern(pattern, name string) bool {
	if !strings.Contains(pattern, PatternWildcard) {
		return pattern == name
	}

	parts := strings.Split(pattern, PatternWildcard)

	// First segment is anchored at the start, last at the end.
	if !strings.HasPrefix(name, parts[0]) {
		return false
	}
	name = name[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(name, last) {
		return false
	}
	name = name[:len(name)-len(last)]

	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(name, part)
		if idx < 0 {
			return false
		}
		name = name[idx+len(part):]
	}
	return true
}

// CreateChannelRequest is the admin payload for creating a channel.
type CreateChannelRequest struct {
	Pattern     string   `json:"pattern"`
	Description string   `json:"description"`
	Enabled     *bool    `json:"enabled"`
	WebhookURLs []string `json:"webhook_urls"`
}

// UpdateChannelRequest carries a partial update; nil fields are untouched.
type UpdateChannelRequest struct {
	Pattern     *string   `json:"pattern"`
	Description *string   `json:"description"`
	Enabled     *bool     `json:"enabled"`
	WebhookURLs *[]string `json:"webhook_urls"`
}
