package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/issuebot/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func seedStatuses() []*models.Status {
	return []*models.Status{
		{Name: "Open", Category: models.StatusCategoryOpen, Position: 1},
		{Name: "In Progress", Category: models.StatusCategoryOpen, Position: 2},
		{Name: "Resolved", Category: models.StatusCategoryClosed, Position: 3},
		{Name: "Closed", Category: models.StatusCategoryClosed, Position: 4},
	}
}

// newTestProject creates a guild, a user, and a seeded project.
func newTestProject(t *testing.T, s *SQLiteStore, guildID, name string) *models.Project {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.EnsureGuild(ctx, guildID))
	require.NoError(t, s.EnsureUser(ctx, "user-1"))

	p := &models.Project{GuildID: guildID, Name: name}
	require.NoError(t, s.CreateProject(ctx, p, seedStatuses()))
	return p
}

func newTestIssue(t *testing.T, s *SQLiteStore, p *models.Project, title string) *models.Issue {
	t.Helper()
	ctx := context.Background()

	st, err := s.DefaultOpenStatus(ctx, p.ID)
	require.NoError(t, err)

	issue := &models.Issue{
		ProjectID: p.ID,
		Title:     title,
		StatusID:  st.ID,
		CreatorID: "user-1",
	}
	require.NoError(t, s.CreateIssue(ctx, issue))
	return issue
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

func TestEnsureGuild_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureGuild(ctx, "g1"))
	require.NoError(t, s.EnsureGuild(ctx, "g1"))
	require.NoError(t, s.EnsureUser(ctx, "u1"))
	require.NoError(t, s.EnsureUser(ctx, "u1"))
}

// --- Projects ---

func TestCreateProject_SeedsStatusesAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())

	statuses, err := s.ListStatuses(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 4)
	assert.Equal(t, "Open", statuses[0].Name)
	assert.Equal(t, models.StatusCategoryOpen, statuses[0].Category)
	assert.Equal(t, "In Progress", statuses[1].Name)
	assert.Equal(t, models.StatusCategoryOpen, statuses[1].Category)
	assert.Equal(t, "Resolved", statuses[2].Name)
	assert.Equal(t, models.StatusCategoryClosed, statuses[2].Category)
	assert.Equal(t, "Closed", statuses[3].Name)
	assert.Equal(t, models.StatusCategoryClosed, statuses[3].Category)
}

func TestCreateProject_DuplicateNameSameGuild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestProject(t, s, "g1", "Alpha")

	dup := &models.Project{GuildID: "g1", Name: "Alpha"}
	err := s.CreateProject(ctx, dup, seedStatuses())
	assert.ErrorIs(t, err, ErrConflict)

	// Same name on another guild is fine
	require.NoError(t, s.EnsureGuild(ctx, "g2"))
	other := &models.Project{GuildID: "g2", Name: "Alpha"}
	assert.NoError(t, s.CreateProject(ctx, other, seedStatuses()))
}

func TestGetProjectByName_LoadsStatuses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")

	got, err := s.GetProjectByName(ctx, "g1", "Alpha")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Len(t, got.Statuses, 4)

	_, err = s.GetProjectByName(ctx, "g1", "alpha")
	assert.ErrorIs(t, err, ErrNotFound, "name match is case-sensitive")
}

func TestListProjects_ScopedToGuild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestProject(t, s, "g1", "Beta")
	newTestProject(t, s, "g1", "Alpha")
	newTestProject(t, s, "g2", "Gamma")

	projects, err := s.ListProjects(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "Alpha", projects[0].Name)
	assert.Equal(t, "Beta", projects[1].Name)
}

func TestUpdateProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")
	p.Description = "updated"
	require.NoError(t, s.UpdateProject(ctx, p))

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)

	missing := &models.Project{ID: "nope", Name: "X"}
	assert.ErrorIs(t, s.UpdateProject(ctx, missing), ErrNotFound)
}

func TestDeleteProject_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")
	issue := newTestIssue(t, s, p, "Bug")

	tag := &models.Tag{ProjectID: p.ID, Name: "backend"}
	require.NoError(t, s.CreateTag(ctx, tag))
	require.NoError(t, s.TagIssue(ctx, issue.ID, tag.ID))
	_, err := s.AddAssignee(ctx, issue.ID, "user-1")
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	_, err = s.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetIssue(ctx, issue.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	statuses, err := s.ListStatuses(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, statuses)
	tags, err := s.ListTags(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestDeleteGuild_CascadesTransitively(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1 := newTestProject(t, s, "g1", "Alpha")
	p2 := newTestProject(t, s, "g1", "Beta")
	newTestIssue(t, s, p1, "Bug one")
	newTestIssue(t, s, p2, "Bug two")

	require.NoError(t, s.DeleteGuild(ctx, "g1"))

	projects, err := s.ListProjects(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, projects)

	assert.ErrorIs(t, s.DeleteGuild(ctx, "g1"), ErrNotFound)
}

// --- Statuses ---

func TestDefaultOpenStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")

	st, err := s.DefaultOpenStatus(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Open", st.Name, "lowest-position OPEN status wins")
}

func TestCreateStatus_AppendsPosition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")

	st := &models.Status{ProjectID: p.ID, Name: "Blocked", Category: models.StatusCategoryOpen}
	require.NoError(t, s.CreateStatus(ctx, st))
	assert.Equal(t, 5, st.Position)

	dup := &models.Status{ProjectID: p.ID, Name: "Blocked", Category: models.StatusCategoryOpen}
	assert.ErrorIs(t, s.CreateStatus(ctx, dup), ErrConflict)
}

func TestDeleteStatus_RefusedWhileReferenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")
	issue := newTestIssue(t, s, p, "Bug")

	assert.ErrorIs(t, s.DeleteStatus(ctx, issue.StatusID), ErrConflict)

	// An unreferenced status deletes fine
	st, err := s.GetStatusByName(ctx, p.ID, "Resolved")
	require.NoError(t, err)
	assert.NoError(t, s.DeleteStatus(ctx, st.ID))
}

// --- Tags ---

func TestDeleteTag_RefusedWhileReferenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")
	issue := newTestIssue(t, s, p, "Bug")

	tag := &models.Tag{ProjectID: p.ID, Name: "backend"}
	require.NoError(t, s.CreateTag(ctx, tag))
	require.NoError(t, s.TagIssue(ctx, issue.ID, tag.ID))

	assert.ErrorIs(t, s.DeleteTag(ctx, tag.ID), ErrConflict)

	require.NoError(t, s.UntagIssue(ctx, issue.ID, tag.ID))
	assert.NoError(t, s.DeleteTag(ctx, tag.ID))
}

func TestTagIssue_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")
	issue := newTestIssue(t, s, p, "Bug")

	tag := &models.Tag{ProjectID: p.ID, Name: "backend"}
	require.NoError(t, s.CreateTag(ctx, tag))
	require.NoError(t, s.TagIssue(ctx, issue.ID, tag.ID))
	require.NoError(t, s.TagIssue(ctx, issue.ID, tag.ID))

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"backend"}, got.Tags)
}

func TestCreateTag_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")
	require.NoError(t, s.CreateTag(ctx, &models.Tag{ProjectID: p.ID, Name: "backend"}))

	err := s.CreateTag(ctx, &models.Tag{ProjectID: p.ID, Name: "backend"})
	assert.ErrorIs(t, err, ErrConflict)
}

// --- Issues ---

func TestCreateIssue_SequentialDisplayIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")

	first := newTestIssue(t, s, p, "First")
	second := newTestIssue(t, s, p, "Second")
	assert.Equal(t, 1, first.DisplayID)
	assert.Equal(t, 2, second.DisplayID)

	// Numbering is per-project
	other := newTestProject(t, s, "g1", "Beta")
	third := newTestIssue(t, s, other, "Other first")
	assert.Equal(t, 1, third.DisplayID)

	next, err := s.NextIssueNumber(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, next)
}

func TestNextIssueNumber_EmptyProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")
	next, err := s.NextIssueNumber(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestCreateIssue_ConcurrentAllocation(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s, "g1", "Alpha")

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	issues := make([]*models.Issue, n)

	st, err := s.DefaultOpenStatus(context.Background(), p.ID)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			issue := &models.Issue{
				ProjectID: p.ID,
				Title:     "Concurrent",
				StatusID:  st.ID,
				CreatorID: "user-1",
			}
			errs[i] = s.CreateIssue(context.Background(), issue)
			issues[i] = issue
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[issues[i].DisplayID], "display id %d allocated twice", issues[i].DisplayID)
		seen[issues[i].DisplayID] = true
	}
	for want := 1; want <= n; want++ {
		assert.True(t, seen[want], "display id %d missing", want)
	}
}

func TestGetIssueByDisplayID_Hydrates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")
	issue := newTestIssue(t, s, p, "Bug")

	tag := &models.Tag{ProjectID: p.ID, Name: "backend"}
	require.NoError(t, s.CreateTag(ctx, tag))
	require.NoError(t, s.TagIssue(ctx, issue.ID, tag.ID))
	_, err := s.AddAssignee(ctx, issue.ID, "user-1")
	require.NoError(t, err)

	got, err := s.GetIssueByDisplayID(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, issue.ID, got.ID)
	require.NotNil(t, got.Status)
	assert.Equal(t, "Open", got.Status.Name)
	assert.Equal(t, []string{"user-1"}, got.Assignees)
	assert.Equal(t, []string{"backend"}, got.Tags)
	assert.Nil(t, got.ClosedAt)

	_, err = s.GetIssueByDisplayID(ctx, p.ID, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListIssues_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")
	first := newTestIssue(t, s, p, "First")
	second := newTestIssue(t, s, p, "Second")

	closed, err := s.GetStatusByName(ctx, p.ID, "Closed")
	require.NoError(t, err)
	second.StatusID = closed.ID
	require.NoError(t, s.UpdateIssue(ctx, second))

	_, err = s.AddAssignee(ctx, first.ID, "user-1")
	require.NoError(t, err)

	open, err := s.ListIssues(ctx, IssueListFilter{ProjectID: p.ID, Category: models.StatusCategoryOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, first.ID, open[0].ID)

	byStatus, err := s.ListIssues(ctx, IssueListFilter{ProjectID: p.ID, StatusName: "Closed"})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, second.ID, byStatus[0].ID)

	byAssignee, err := s.ListIssues(ctx, IssueListFilter{AssigneeID: "user-1"})
	require.NoError(t, err)
	require.Len(t, byAssignee, 1)
	assert.Equal(t, first.ID, byAssignee[0].ID)
}

// --- Assignees ---

func TestAddAssignee_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")
	issue := newTestIssue(t, s, p, "Bug")

	added, err := s.AddAssignee(ctx, issue.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, added)

	afterAdd, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	added, err = s.AddAssignee(ctx, issue.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, added, "second add is a no-op")

	afterNoop, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, afterNoop.Assignees)
	assert.True(t, afterNoop.UpdatedAt.Equal(afterAdd.UpdatedAt), "no-op must not touch updated_at")
}

func TestAddAssignee_IssueNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureUser(ctx, "user-1"))
	_, err := s.AddAssignee(ctx, "missing", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveAssignee(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProject(t, s, "g1", "Alpha")
	issue := newTestIssue(t, s, p, "Bug")

	_, err := s.AddAssignee(ctx, issue.ID, "user-1")
	require.NoError(t, err)

	removed, err := s.RemoveAssignee(ctx, issue.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveAssignee(ctx, issue.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, removed)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Assignees)
}
