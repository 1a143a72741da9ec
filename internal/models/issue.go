package models

import "time"

// MaxIssueTitleLen is the longest allowed issue title.
const MaxIssueTitleLen = 255

// Issue is a tracked issue belonging to one project.
//
// ID is the internal, globally unique key. DisplayID is the human-facing
// per-project sequential number, starting at 1 and never reused, even
// after deletion. Status always references a status row of the same
// project. ClosedAt is set when the issue transitions into a
// CLOSED-category status and cleared when it transitions back out.
type Issue struct {
	ID          string
	ProjectID   string
	DisplayID   int
	Title       string
	Description string
	StatusID    string
	CreatorID   string
	Status      *Status
	Assignees   []string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

// Closed reports whether the issue is currently in a closed state.
func (i *Issue) Closed() bool {
	return i.ClosedAt != nil
}
