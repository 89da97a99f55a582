package domain

import (
	"strings"
	"time"
)

// Bookmark is a single saved URL as persisted by the bookmark store.
// The store is the only party allowed to assign ID and CreatedAt.
type Bookmark struct {
	// ─────────────────────────────
	// Identity (store-assigned)
	// ─────────────────────────────

	// ID is the opaque unique identifier.
	// Assigned by the store at creation time, never by a client.
	ID string `json:"id"`

	// OwnerID is the identity the bookmark belongs to.
	// Set from the authenticated session, never accepted from a client payload.
	OwnerID string `json:"owner_id"`

	// ─────────────────────────────
	// User-supplied content
	// ─────────────────────────────

	// Title is the display string. Non-empty at submission.
	Title string `json:"title"`

	// URL is stored verbatim. See Link for the navigable form.
	// Example: example.com
	URL string `json:"url"`

	// ─────────────────────────────
	// Metadata
	// ─────────────────────────────

	// CreatedAt is assigned by the store and drives list ordering.
	CreatedAt time.Time `json:"created_at"`
}

// BookmarkRef identifies a bookmark without carrying its content.
// Delete events only know the old row's id.
type BookmarkRef struct {
	ID string `json:"id"`
}

// Newer reports whether a sorts before b in a created_at-descending list.
// Equal timestamps fall back to the id so the order is total.
func Newer(a, b Bookmark) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Link returns the navigable target for a stored url.
// Values without an http or https scheme get an https:// prefix.
// The stored value is never rewritten; this is display-time only.
func Link(raw string) string {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}
