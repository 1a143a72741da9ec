package tracker

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/issuebot/internal/models"
	"github.com/joescharf/issuebot/internal/store"
)

// testClock is a controllable time source for closed_at assertions.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(st, WithClock(clock.now)), clock
}

func mustProject(t *testing.T, svc *Service, guildID, name string) *models.Project {
	t.Helper()
	p, err := svc.CreateProject(context.Background(), guildID, name, "")
	require.NoError(t, err)
	return p
}

func mustIssue(t *testing.T, svc *Service, projectID, title string) *models.Issue {
	t.Helper()
	issue, err := svc.CreateIssue(context.Background(), projectID, "creator-1", title, "")
	require.NoError(t, err)
	return issue
}

// --- Project seeding ---

func TestCreateProject_SeedsDefaultStatusSet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, "g1", "Alpha", "first project")
	require.NoError(t, err)
	require.Len(t, p.Statuses, 4)

	wantNames := []string{"Open", "In Progress", "Resolved", "Closed"}
	wantCats := []models.StatusCategory{
		models.StatusCategoryOpen,
		models.StatusCategoryOpen,
		models.StatusCategoryClosed,
		models.StatusCategoryClosed,
	}
	for i, st := range p.Statuses {
		assert.Equal(t, wantNames[i], st.Name)
		assert.Equal(t, wantCats[i], st.Category)
	}
}

func TestCreateProject_DuplicateName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustProject(t, svc, "g1", "Alpha")

	_, err := svc.CreateProject(ctx, "g1", "Alpha", "")
	assert.True(t, IsConflict(err), "duplicate in same guild: got %v", err)

	// Same name in another guild is allowed
	_, err = svc.CreateProject(ctx, "g2", "Alpha", "")
	assert.NoError(t, err)
}

func TestCreateProject_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProject(ctx, "g1", "  ", "")
	assert.True(t, IsValidation(err))

	_, err = svc.CreateProject(ctx, "g1", strings.Repeat("x", models.MaxProjectNameLen+1), "")
	assert.True(t, IsValidation(err))
}

func TestEditProject(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := mustProject(t, svc, "g1", "Alpha")
	mustProject(t, svc, "g1", "Beta")

	_, err := svc.EditProject(ctx, p.ID, "", "")
	assert.True(t, IsValidation(err), "editing nothing is rejected")

	_, err = svc.EditProject(ctx, p.ID, "Beta", "")
	assert.True(t, IsConflict(err), "rename onto an existing name is rejected")

	got, err := svc.EditProject(ctx, p.ID, "Gamma", "renamed")
	require.NoError(t, err)
	assert.Equal(t, "Gamma", got.Name)
	assert.Equal(t, "renamed", got.Description)

	_, err = svc.FindProjectByName(ctx, "g1", "Gamma")
	assert.NoError(t, err)
}

// --- Issue creation and numbering ---

func TestCreateIssue_NumbersAndDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	p := mustProject(t, svc, "g1", "Alpha")

	first := mustIssue(t, svc, p.ID, "Bug")
	assert.Equal(t, 1, first.DisplayID)
	require.NotNil(t, first.Status)
	assert.Equal(t, "Open", first.Status.Name)
	assert.Nil(t, first.ClosedAt)
	assert.Empty(t, first.Assignees)
	assert.Empty(t, first.Tags)

	second := mustIssue(t, svc, p.ID, "Another bug")
	assert.Equal(t, 2, second.DisplayID)

	// Numbering is independent across projects
	other := mustProject(t, svc, "g1", "Beta")
	third := mustIssue(t, svc, other.ID, "Unrelated")
	assert.Equal(t, 1, third.DisplayID)
}

func TestCreateIssue_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := mustProject(t, svc, "g1", "Alpha")

	_, err := svc.CreateIssue(ctx, p.ID, "creator-1", "", "")
	assert.True(t, IsValidation(err))

	_, err = svc.CreateIssue(ctx, p.ID, "creator-1", strings.Repeat("x", models.MaxIssueTitleLen+1), "")
	assert.True(t, IsValidation(err))
}

func TestCreateIssue_ProjectNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateIssue(context.Background(), "missing", "creator-1", "Bug", "")
	assert.True(t, IsNotFound(err))
}

func TestCreateIssue_NoOpenStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := mustProject(t, svc, "g1", "Alpha")

	// Remove both OPEN statuses; nothing references them yet.
	for _, name := range []string{"Open", "In Progress"} {
		st, err := svc.FindStatusByName(ctx, p.ID, name)
		require.NoError(t, err)
		require.NoError(t, svc.DeleteStatus(ctx, st.ID))
	}

	_, err := svc.CreateIssue(ctx, p.ID, "creator-1", "Bug", "")
	assert.True(t, IsPolicy(err), "issue creation without an OPEN status is refused: got %v", err)
}

func TestFindIssueByDisplayID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := mustProject(t, svc, "g1", "Alpha")
	issue := mustIssue(t, svc, p.ID, "Bug")

	got, err := svc.FindIssueByDisplayID(ctx, p.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, issue.ID, got.ID)
	assert.Equal(t, "Open", got.Status.Name)

	// Absence is a normal outcome, not an error
	got, err = svc.FindIssueByDisplayID(ctx, p.ID, 42)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

// --- Status transitions ---

func TestChangeStatus_ClosedAtLifecycle(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	p := mustProject(t, svc, "g1", "Alpha")
	issue := mustIssue(t, svc, p.ID, "Bug")

	closed, err := svc.FindStatusByName(ctx, p.ID, "Closed")
	require.NoError(t, err)
	open, err := svc.FindStatusByName(ctx, p.ID, "Open")
	require.NoError(t, err)

	// Closing stamps closed_at with the current time
	got, err := svc.ChangeStatus(ctx, issue.ID, closed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClosedAt)
	firstClosed := *got.ClosedAt
	assert.True(t, firstClosed.Equal(clock.t))

	// Re-closing later does not re-stamp
	clock.advance(time.Hour)
	got, err = svc.ChangeStatus(ctx, issue.ID, closed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClosedAt)
	assert.True(t, got.ClosedAt.Equal(firstClosed), "closed_at must keep its first-set value")

	// Reopening clears it
	got, err = svc.ChangeStatus(ctx, issue.ID, open.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ClosedAt)

	// And closing again stamps the new time
	got, err = svc.ChangeStatus(ctx, issue.ID, closed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClosedAt)
	assert.True(t, got.ClosedAt.Equal(clock.t))
}

func TestChangeStatus_WrongProject(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p1 := mustProject(t, svc, "g1", "Alpha")
	p2 := mustProject(t, svc, "g1", "Beta")
	issue := mustIssue(t, svc, p1.ID, "Bug")

	foreign, err := svc.FindStatusByName(ctx, p2.ID, "Closed")
	require.NoError(t, err)

	_, err = svc.ChangeStatus(ctx, issue.ID, foreign.ID)
	assert.True(t, IsNotFound(err), "status of another project is invisible")
}

func TestChangeStatus_IssueNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ChangeStatus(context.Background(), "missing", "whatever")
	assert.True(t, IsNotFound(err))
}

// --- Assignment ---

func TestAssignUser_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := mustProject(t, svc, "g1", "Alpha")
	issue := mustIssue(t, svc, p.ID, "Bug")

	got, err := svc.AssignUser(ctx, issue.ID, "user-7")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-7"}, got.Assignees)

	got, err = svc.AssignUser(ctx, issue.ID, "user-7")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-7"}, got.Assignees, "double assign keeps one entry")
}

func TestUnassignUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := mustProject(t, svc, "g1", "Alpha")
	issue := mustIssue(t, svc, p.ID, "Bug")

	_, err := svc.AssignUser(ctx, issue.ID, "user-7")
	require.NoError(t, err)

	got, err := svc.UnassignUser(ctx, issue.ID, "user-7")
	require.NoError(t, err)
	assert.Empty(t, got.Assignees)

	// Removing a non-assignee is a no-op
	got, err = svc.UnassignUser(ctx, issue.ID, "user-7")
	require.NoError(t, err)
	assert.Empty(t, got.Assignees)
}

func TestFindOpenIssuesForUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := mustProject(t, svc, "g1", "Alpha")
	mine := mustIssue(t, svc, p.ID, "Mine")
	closedOne := mustIssue(t, svc, p.ID, "Closed one")
	mustIssue(t, svc, p.ID, "Unassigned")

	_, err := svc.AssignUser(ctx, mine.ID, "user-7")
	require.NoError(t, err)
	_, err = svc.AssignUser(ctx, closedOne.ID, "user-7")
	require.NoError(t, err)

	closed, err := svc.FindStatusByName(ctx, p.ID, "Closed")
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, closedOne.ID, closed.ID)
	require.NoError(t, err)

	open, err := svc.FindOpenIssuesForUser(ctx, "user-7")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, mine.ID, open[0].ID)
}

// --- Tags ---

func TestTagLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := mustProject(t, svc, "g1", "Alpha")
	issue := mustIssue(t, svc, p.ID, "Bug")

	tag, err := svc.CreateTag(ctx, p.ID, "backend")
	require.NoError(t, err)

	_, err = svc.CreateTag(ctx, p.ID, "backend")
	assert.True(t, IsConflict(err))

	require.NoError(t, svc.TagIssue(ctx, issue.ID, tag.ID))
	require.NoError(t, svc.TagIssue(ctx, issue.ID, tag.ID), "tagging twice is a no-op")

	// Deleting a referenced tag is refused
	err = svc.DeleteTag(ctx, tag.ID)
	assert.True(t, IsConflict(err))

	require.NoError(t, svc.UntagIssue(ctx, issue.ID, tag.ID))
	assert.NoError(t, svc.DeleteTag(ctx, tag.ID))
}

func TestTagIssue_ForeignProjectTag(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p1 := mustProject(t, svc, "g1", "Alpha")
	p2 := mustProject(t, svc, "g1", "Beta")
	issue := mustIssue(t, svc, p1.ID, "Bug")

	foreign, err := svc.CreateTag(ctx, p2.ID, "backend")
	require.NoError(t, err)

	err = svc.TagIssue(ctx, issue.ID, foreign.ID)
	assert.True(t, IsNotFound(err), "tags from another project are invisible")
}

// --- Guild cascade ---

func TestDeleteGuild_RemovesEverything(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := mustProject(t, svc, "g1", "Alpha")
	mustIssue(t, svc, p.ID, "Bug")

	require.NoError(t, svc.DeleteGuild(ctx, "g1"))

	projects, err := svc.ListProjectsByGuild(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, projects)

	err = svc.DeleteGuild(ctx, "g1")
	assert.True(t, IsNotFound(err))
}

func TestDefaultStatuses_FreshCopies(t *testing.T) {
	a := DefaultStatuses()
	b := DefaultStatuses()
	a[0].Name = "mutated"
	assert.Equal(t, "Open", b[0].Name)
}
