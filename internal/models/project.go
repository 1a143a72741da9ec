package models

import "time"

// MaxProjectNameLen is the longest allowed project name.
const MaxProjectNameLen = 100

// Project is a named issue-tracking workspace scoped to one guild.
// Deleting a project cascades to its issues, tags, and statuses.
type Project struct {
	ID          string
	GuildID     string
	Name        string
	Description string
	Statuses    []*Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
