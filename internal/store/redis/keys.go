package redis

const (
	// KeyPrefixBookmark is the prefix for bookmark record keys
	KeyPrefixBookmark = "smartmarks:bookmark:"
	// KeyPrefixOwner is the prefix for per-owner index keys
	KeyPrefixOwner = "smartmarks:owner:"
)

// BookmarkKey returns the Redis key holding a bookmark record
func BookmarkKey(id string) string {
	return KeyPrefixBookmark + id
}

// OwnerBookmarksKey returns the sorted set of an owner's bookmark IDs,
// scored by created_at in unix milliseconds
func OwnerBookmarksKey(ownerID string) string {
	return KeyPrefixOwner + ownerID + ":bookmarks"
}
