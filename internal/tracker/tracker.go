package tracker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joescharf/issuebot/internal/models"
	"github.com/joescharf/issuebot/internal/store"
)

// Default status set seeded into every new project. CreateIssue relies
// on "Open" being the lowest-position OPEN status.
var defaultStatusSeed = []struct {
	name     string
	category models.StatusCategory
}{
	{"Open", models.StatusCategoryOpen},
	{"In Progress", models.StatusCategoryOpen},
	{"Resolved", models.StatusCategoryClosed},
	{"Closed", models.StatusCategoryClosed},
}

// DefaultStatuses returns a fresh copy of the seed status set.
func DefaultStatuses() []*models.Status {
	statuses := make([]*models.Status, len(defaultStatusSeed))
	for i, seed := range defaultStatusSeed {
		statuses[i] = &models.Status{
			Name:     seed.name,
			Category: seed.category,
			Position: i + 1,
		}
	}
	return statuses
}

// Service is the issue lifecycle core. It validates input, enforces the
// seeding and numbering policies, and translates store failures into the
// typed errors of this package. The store is the sole arbiter of
// consistency; Service holds no in-process locks.
type Service struct {
	store      store.Store
	now        func() time.Time
	maxRetries uint64
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxRetries bounds retries of busy-signature store failures.
func WithMaxRetries(n uint64) Option {
	return func(s *Service) { s.maxRetries = n }
}

// New creates a Service over the given store.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:      st,
		now:        func() time.Time { return time.Now().UTC() },
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// retryBusy runs op, retrying with exponential backoff while it fails
// with the store's busy signature. Everything else is permanent.
func (s *Service) retryBusy(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrBusy) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx))
}

func validateName(field, name string, max int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &ValidationError{Field: field, Reason: "must not be empty"}
	}
	if len(name) > max {
		return "", &ValidationError{Field: field, Reason: "too long"}
	}
	return name, nil
}

// --- Guilds and users ---

// EnsureGuild registers a guild on first reference. Idempotent.
func (s *Service) EnsureGuild(ctx context.Context, guildID string) error {
	if err := s.store.EnsureGuild(ctx, guildID); err != nil {
		return &StoreError{Op: "ensure guild", Err: err}
	}
	return nil
}

// EnsureUser registers a user on first reference. Idempotent.
func (s *Service) EnsureUser(ctx context.Context, userID string) error {
	if err := s.store.EnsureUser(ctx, userID); err != nil {
		return &StoreError{Op: "ensure user", Err: err}
	}
	return nil
}

// DeleteGuild removes a guild and, transitively, all of its projects.
func (s *Service) DeleteGuild(ctx context.Context, guildID string) error {
	err := s.store.DeleteGuild(ctx, guildID)
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Kind: "guild", Ref: guildID}
	}
	if err != nil {
		return &StoreError{Op: "delete guild", Err: err}
	}
	return nil
}

// --- Projects ---

// CreateProject creates a project in the guild and atomically seeds the
// default status set, so the project can accept issues immediately. The
// name must be unique within the guild (case-sensitive).
func (s *Service) CreateProject(ctx context.Context, guildID, name, description string) (*models.Project, error) {
	name, err := validateName("project name", name, models.MaxProjectNameLen)
	if err != nil {
		return nil, err
	}

	if err := s.EnsureGuild(ctx, guildID); err != nil {
		return nil, err
	}

	// Optimistic duplicate check; the UNIQUE constraint catches races.
	if _, err := s.store.GetProjectByName(ctx, guildID, name); err == nil {
		return nil, &ConflictError{Kind: "project", Name: name}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, &StoreError{Op: "check project name", Err: err}
	}

	p := &models.Project{
		GuildID:     guildID,
		Name:        name,
		Description: description,
	}
	err = s.retryBusy(ctx, func() error {
		return s.store.CreateProject(ctx, p, DefaultStatuses())
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, &ConflictError{Kind: "project", Name: name}
	}
	if err != nil {
		return nil, &StoreError{Op: "create project", Err: err}
	}
	return p, nil
}

// FindProjectByName resolves a project within a guild, with its status
// set eagerly attached.
func (s *Service) FindProjectByName(ctx context.Context, guildID, name string) (*models.Project, error) {
	p, err := s.store.GetProjectByName(ctx, guildID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "project", Ref: name}
	}
	if err != nil {
		return nil, &StoreError{Op: "find project", Err: err}
	}
	return p, nil
}

// ListProjectsByGuild lists a guild's projects ordered by name.
func (s *Service) ListProjectsByGuild(ctx context.Context, guildID string) ([]*models.Project, error) {
	projects, err := s.store.ListProjects(ctx, guildID)
	if err != nil {
		return nil, &StoreError{Op: "list projects", Err: err}
	}
	return projects, nil
}

// EditProject renames a project and/or replaces its description. Empty
// arguments leave the corresponding field unchanged; at least one must
// be given. Renames collide with existing names like CreateProject.
func (s *Service) EditProject(ctx context.Context, projectID, newName, newDescription string) (*models.Project, error) {
	if newName == "" && newDescription == "" {
		return nil, &ValidationError{Field: "edit", Reason: "nothing to change"}
	}

	p, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "project", Ref: projectID}
	}
	if err != nil {
		return nil, &StoreError{Op: "get project", Err: err}
	}

	if newName != "" && newName != p.Name {
		newName, err = validateName("project name", newName, models.MaxProjectNameLen)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.GetProjectByName(ctx, p.GuildID, newName); err == nil {
			return nil, &ConflictError{Kind: "project", Name: newName}
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, &StoreError{Op: "check project name", Err: err}
		}
		p.Name = newName
	}
	if newDescription != "" {
		p.Description = newDescription
	}

	err = s.store.UpdateProject(ctx, p)
	if errors.Is(err, store.ErrConflict) {
		return nil, &ConflictError{Kind: "project", Name: p.Name}
	}
	if err != nil {
		return nil, &StoreError{Op: "update project", Err: err}
	}
	return p, nil
}

// DeleteProject removes a project and all of its issues, tags, and
// statuses in one cascade.
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	err := s.store.DeleteProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Kind: "project", Ref: projectID}
	}
	if err != nil {
		return &StoreError{Op: "delete project", Err: err}
	}
	return nil
}

// --- Statuses ---

// CreateStatus adds a workflow status to a project. Names are unique
// within the project; the category must be OPEN or CLOSED.
func (s *Service) CreateStatus(ctx context.Context, projectID, name, description string, category models.StatusCategory) (*models.Status, error) {
	name, err := validateName("status name", name, models.MaxStatusNameLen)
	if err != nil {
		return nil, err
	}
	if !category.Valid() {
		return nil, &ValidationError{Field: "status category", Reason: "must be OPEN or CLOSED"}
	}

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "project", Ref: projectID}
		}
		return nil, &StoreError{Op: "get project", Err: err}
	}

	st := &models.Status{
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		Category:    category,
	}
	err = s.store.CreateStatus(ctx, st)
	if errors.Is(err, store.ErrConflict) {
		return nil, &ConflictError{Kind: "status", Name: name}
	}
	if err != nil {
		return nil, &StoreError{Op: "create status", Err: err}
	}
	return st, nil
}

// FindStatusByName resolves a status within a project (case-sensitive).
func (s *Service) FindStatusByName(ctx context.Context, projectID, name string) (*models.Status, error) {
	st, err := s.store.GetStatusByName(ctx, projectID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "status", Ref: name}
	}
	if err != nil {
		return nil, &StoreError{Op: "find status", Err: err}
	}
	return st, nil
}

// ListStatusesByProject lists a project's statuses in position order.
func (s *Service) ListStatusesByProject(ctx context.Context, projectID string) ([]*models.Status, error) {
	statuses, err := s.store.ListStatuses(ctx, projectID)
	if err != nil {
		return nil, &StoreError{Op: "list statuses", Err: err}
	}
	return statuses, nil
}

// DeleteStatus removes a status. Deleting a status that issues still
// reference is refused with ConflictError.
func (s *Service) DeleteStatus(ctx context.Context, statusID string) error {
	st, err := s.store.GetStatus(ctx, statusID)
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Kind: "status", Ref: statusID}
	}
	if err != nil {
		return &StoreError{Op: "get status", Err: err}
	}

	err = s.store.DeleteStatus(ctx, statusID)
	if errors.Is(err, store.ErrConflict) {
		return &ConflictError{Kind: "status", Name: st.Name}
	}
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Kind: "status", Ref: statusID}
	}
	if err != nil {
		return &StoreError{Op: "delete status", Err: err}
	}
	return nil
}

// --- Tags ---

// CreateTag adds a tag to a project; names are unique within the project.
func (s *Service) CreateTag(ctx context.Context, projectID, name string) (*models.Tag, error) {
	name, err := validateName("tag name", name, models.MaxTagNameLen)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "project", Ref: projectID}
		}
		return nil, &StoreError{Op: "get project", Err: err}
	}

	tag := &models.Tag{ProjectID: projectID, Name: name}
	err = s.store.CreateTag(ctx, tag)
	if errors.Is(err, store.ErrConflict) {
		return nil, &ConflictError{Kind: "tag", Name: name}
	}
	if err != nil {
		return nil, &StoreError{Op: "create tag", Err: err}
	}
	return tag, nil
}

// FindTagByName resolves a tag within a project.
func (s *Service) FindTagByName(ctx context.Context, projectID, name string) (*models.Tag, error) {
	tag, err := s.store.GetTagByName(ctx, projectID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "tag", Ref: name}
	}
	if err != nil {
		return nil, &StoreError{Op: "find tag", Err: err}
	}
	return tag, nil
}

// ListTagsByProject lists a project's tags ordered by name.
func (s *Service) ListTagsByProject(ctx context.Context, projectID string) ([]*models.Tag, error) {
	tags, err := s.store.ListTags(ctx, projectID)
	if err != nil {
		return nil, &StoreError{Op: "list tags", Err: err}
	}
	return tags, nil
}

// DeleteTag removes a tag. A tag still attached to issues is refused
// with ConflictError rather than silently detached.
func (s *Service) DeleteTag(ctx context.Context, tagID string) error {
	err := s.store.DeleteTag(ctx, tagID)
	if errors.Is(err, store.ErrConflict) {
		return &ConflictError{Kind: "tag", Name: tagID}
	}
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Kind: "tag", Ref: tagID}
	}
	if err != nil {
		return &StoreError{Op: "delete tag", Err: err}
	}
	return nil
}

// --- Issues ---

// CreateIssue creates an issue in the project, allocating the next
// per-project display number and binding the project's default OPEN
// status, all inside one store transaction. Fails with PolicyError if
// the project has no OPEN-category status.
func (s *Service) CreateIssue(ctx context.Context, projectID, creatorID, title, description string) (*models.Issue, error) {
	title, err := validateName("title", title, models.MaxIssueTitleLen)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "project", Ref: projectID}
		}
		return nil, &StoreError{Op: "get project", Err: err}
	}

	defaultStatus, err := s.store.DefaultOpenStatus(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &PolicyError{Reason: "project has no OPEN status; add one before creating issues"}
	}
	if err != nil {
		return nil, &StoreError{Op: "default open status", Err: err}
	}

	if err := s.EnsureUser(ctx, creatorID); err != nil {
		return nil, err
	}

	issue := &models.Issue{
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		StatusID:    defaultStatus.ID,
		CreatorID:   creatorID,
	}
	err = s.retryBusy(ctx, func() error {
		return s.store.CreateIssue(ctx, issue)
	})
	if err != nil {
		return nil, &StoreError{Op: "create issue", Err: err}
	}

	issue.Status = defaultStatus
	issue.Assignees = []string{}
	issue.Tags = []string{}
	return issue, nil
}

// FindIssueByDisplayID looks up an issue by its per-project number with
// status, assignees, and tags eagerly loaded. A missing number is a
// normal outcome: it returns (nil, nil), not an error.
func (s *Service) FindIssueByDisplayID(ctx context.Context, projectID string, displayID int) (*models.Issue, error) {
	issue, err := s.store.GetIssueByDisplayID(ctx, projectID, displayID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "find issue", Err: err}
	}
	return issue, nil
}

// ChangeStatus moves an issue to another status of the same project.
// Entering a CLOSED-category status stamps closed_at once; returning to
// an OPEN-category status clears it. Re-applying the current status is
// a no-op on closed_at but still refreshes updated_at.
func (s *Service) ChangeStatus(ctx context.Context, issueID, statusID string) (*models.Issue, error) {
	issue, err := s.store.GetIssue(ctx, issueID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "issue", Ref: issueID}
	}
	if err != nil {
		return nil, &StoreError{Op: "get issue", Err: err}
	}

	st, err := s.store.GetStatus(ctx, statusID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "status", Ref: statusID}
	}
	if err != nil {
		return nil, &StoreError{Op: "get status", Err: err}
	}
	if st.ProjectID != issue.ProjectID {
		return nil, &NotFoundError{Kind: "status", Ref: st.Name}
	}

	issue.StatusID = st.ID
	switch {
	case st.Category == models.StatusCategoryClosed && issue.ClosedAt == nil:
		now := s.now()
		issue.ClosedAt = &now
	case st.Category == models.StatusCategoryOpen && issue.ClosedAt != nil:
		issue.ClosedAt = nil
	}

	if err := s.store.UpdateIssue(ctx, issue); err != nil {
		return nil, &StoreError{Op: "update issue", Err: err}
	}
	issue.Status = st
	return issue, nil
}

// AssignUser adds a user to the issue's assignee set. Assigning an
// existing assignee is a no-op that returns the current state.
func (s *Service) AssignUser(ctx context.Context, issueID, userID string) (*models.Issue, error) {
	if err := s.EnsureUser(ctx, userID); err != nil {
		return nil, err
	}

	_, err := s.store.AddAssignee(ctx, issueID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "issue", Ref: issueID}
	}
	if err != nil {
		return nil, &StoreError{Op: "assign user", Err: err}
	}

	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, &StoreError{Op: "get issue", Err: err}
	}
	return issue, nil
}

// UnassignUser removes a user from the assignee set; removing a
// non-assignee is a no-op.
func (s *Service) UnassignUser(ctx context.Context, issueID, userID string) (*models.Issue, error) {
	_, err := s.store.RemoveAssignee(ctx, issueID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "issue", Ref: issueID}
	}
	if err != nil {
		return nil, &StoreError{Op: "unassign user", Err: err}
	}

	issue, err := s.store.GetIssue(ctx, issueID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "issue", Ref: issueID}
	}
	if err != nil {
		return nil, &StoreError{Op: "get issue", Err: err}
	}
	return issue, nil
}

// TagIssue attaches a tag of the issue's project to the issue.
// Idempotent; a tag from another project is NotFoundError.
func (s *Service) TagIssue(ctx context.Context, issueID, tagID string) error {
	issue, err := s.store.GetIssue(ctx, issueID)
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Kind: "issue", Ref: issueID}
	}
	if err != nil {
		return &StoreError{Op: "get issue", Err: err}
	}

	tag, err := s.tagInProject(ctx, issue.ProjectID, tagID)
	if err != nil {
		return err
	}

	if err := s.store.TagIssue(ctx, issueID, tag.ID); err != nil {
		return &StoreError{Op: "tag issue", Err: err}
	}
	return nil
}

// UntagIssue detaches a tag from the issue. Idempotent.
func (s *Service) UntagIssue(ctx context.Context, issueID, tagID string) error {
	if err := s.store.UntagIssue(ctx, issueID, tagID); err != nil {
		return &StoreError{Op: "untag issue", Err: err}
	}
	return nil
}

// tagInProject verifies the tag exists and belongs to the project.
func (s *Service) tagInProject(ctx context.Context, projectID, tagID string) (*models.Tag, error) {
	tags, err := s.store.ListTags(ctx, projectID)
	if err != nil {
		return nil, &StoreError{Op: "list tags", Err: err}
	}
	for _, t := range tags {
		if t.ID == tagID {
			return t, nil
		}
	}
	return nil, &NotFoundError{Kind: "tag", Ref: tagID}
}

// ListIssues lists issues matching the filter, ordered by status then
// display number.
func (s *Service) ListIssues(ctx context.Context, filter store.IssueListFilter) ([]*models.Issue, error) {
	issues, err := s.store.ListIssues(ctx, filter)
	if err != nil {
		return nil, &StoreError{Op: "list issues", Err: err}
	}
	return issues, nil
}

// FindOpenIssuesForUser returns issues assigned to the user whose
// current status has category OPEN.
func (s *Service) FindOpenIssuesForUser(ctx context.Context, userID string) ([]*models.Issue, error) {
	return s.ListIssues(ctx, store.IssueListFilter{
		AssigneeID: userID,
		Category:   models.StatusCategoryOpen,
	})
}
