package models

import "time"

// StatusCategory classifies a status as open-like or closed-like.
// The category drives closed_at bookkeeping on issues.
type StatusCategory string

const (
	StatusCategoryOpen   StatusCategory = "OPEN"
	StatusCategoryClosed StatusCategory = "CLOSED"
)

// Valid reports whether c is a known category.
func (c StatusCategory) Valid() bool {
	return c == StatusCategoryOpen || c == StatusCategoryClosed
}

// MaxStatusNameLen is the longest allowed status name.
const MaxStatusNameLen = 50

// Status is a workflow state owned by a single project. Names are unique
// (case-sensitive) within the project. Position orders statuses for
// display and determines which OPEN status new issues default to: the
// one with the lowest position.
type Status struct {
	ID          string
	ProjectID   string
	Name        string
	Description string
	Category    StatusCategory
	Position    int
	CreatedAt   time.Time
}
