package models

// Guild is a chat community acting as the top-level tenant boundary.
// Guilds are created lazily on first reference and identified by the
// opaque ID assigned by the chat platform.
type Guild struct {
	ID string
}
