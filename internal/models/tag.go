package models

import "time"

// MaxTagNameLen is the longest allowed tag name.
const MaxTagNameLen = 50

// Tag is a label owned by a single project; names are unique within the
// project. Tags attach to issues many-to-many.
type Tag struct {
	ID        string
	ProjectID string
	Name      string
	CreatedAt time.Time
}
