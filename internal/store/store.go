package store

import (
	"context"
	"errors"

	"github.com/joescharf/issuebot/internal/models"
)

// Sentinel errors returned by Store implementations. Callers match with
// errors.Is and translate into their own error types at the boundary.
var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness or foreign-key constraint rejected
	// the write (duplicate name, delete of a still-referenced row).
	ErrConflict = errors.New("conflict")
	// ErrBusy means the database was locked by a concurrent writer and
	// the operation may be retried.
	ErrBusy = errors.New("database busy")
)

// IssueListFilter specifies filters for listing issues.
type IssueListFilter struct {
	ProjectID  string
	StatusName string
	Category   models.StatusCategory
	AssigneeID string
	Tag        string
}

// Store defines the persistence interface for issuebot.
//
// Multi-step mutations (project creation with status seeding, issue
// creation with display-number allocation, assignment appends) are
// atomic: they either fully commit or leave no trace.
type Store interface {
	// Guilds and users (lazy upsert; idempotent)
	EnsureGuild(ctx context.Context, guildID string) error
	EnsureUser(ctx context.Context, userID string) error
	DeleteGuild(ctx context.Context, guildID string) error

	// Projects
	CreateProject(ctx context.Context, p *models.Project, statuses []*models.Status) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, guildID, name string) (*models.Project, error)
	ListProjects(ctx context.Context, guildID string) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Statuses
	CreateStatus(ctx context.Context, st *models.Status) error
	GetStatus(ctx context.Context, id string) (*models.Status, error)
	GetStatusByName(ctx context.Context, projectID, name string) (*models.Status, error)
	ListStatuses(ctx context.Context, projectID string) ([]*models.Status, error)
	DeleteStatus(ctx context.Context, id string) error
	// DefaultOpenStatus returns the OPEN-category status with the lowest
	// position, or ErrNotFound if the project has no OPEN status.
	DefaultOpenStatus(ctx context.Context, projectID string) (*models.Status, error)

	// Tags
	CreateTag(ctx context.Context, tag *models.Tag) error
	GetTagByName(ctx context.Context, projectID, name string) (*models.Tag, error)
	ListTags(ctx context.Context, projectID string) ([]*models.Tag, error)
	DeleteTag(ctx context.Context, id string) error
	TagIssue(ctx context.Context, issueID, tagID string) error
	UntagIssue(ctx context.Context, issueID, tagID string) error

	// Issues
	// CreateIssue allocates issue.DisplayID inside the insert transaction.
	CreateIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	// GetIssueByDisplayID eagerly loads status, assignees, and tags.
	// Returns ErrNotFound when no such display number exists.
	GetIssueByDisplayID(ctx context.Context, projectID string, displayID int) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error)
	UpdateIssue(ctx context.Context, issue *models.Issue) error
	NextIssueNumber(ctx context.Context, projectID string) (int, error)

	// Assignees
	// AddAssignee reports whether the user was newly added; adding an
	// existing assignee is a no-op that does not touch updated_at.
	AddAssignee(ctx context.Context, issueID, userID string) (bool, error)
	RemoveAssignee(ctx context.Context, issueID, userID string) (bool, error)
	GetAssignees(ctx context.Context, issueID string) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
