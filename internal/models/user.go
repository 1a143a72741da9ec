package models

// User is a chat identity referenced by issues as creator or assignee.
// Like guilds, users are upserted on first reference with the platform's
// opaque ID and never carry local profile data.
type User struct {
	ID string
}
