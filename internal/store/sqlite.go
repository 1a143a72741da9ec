package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/issuebot/internal/models"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// which also makes the MAX(display_id)+1 allocation inside the issue
	// insert transaction safe under concurrent callers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// translateErr maps driver-level failures onto the package sentinels so
// callers can match with errors.Is instead of parsing SQLite messages.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, sqlite3.SQLITE_CONSTRAINT_TRIGGER:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
	}
	return err
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Guilds and users ---

func (s *SQLiteStore) EnsureGuild(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO guilds (id) VALUES (?)", guildID)
	if err != nil {
		return fmt.Errorf("ensure guild: %w", translateErr(err))
	}
	return nil
}

func (s *SQLiteStore) EnsureUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (id) VALUES (?)", userID)
	if err != nil {
		return fmt.Errorf("ensure user: %w", translateErr(err))
	}
	return nil
}

// DeleteGuild removes the guild and, transitively, every project it owns.
func (s *SQLiteStore) DeleteGuild(ctx context.Context, guildID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", translateErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT id FROM projects WHERE guild_id = ?", guildID)
	if err != nil {
		return fmt.Errorf("list guild projects: %w", translateErr(err))
	}
	var projectIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan project id: %w", err)
		}
		projectIDs = append(projectIDs, id)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("list guild projects: %w", err)
	}

	for _, id := range projectIDs {
		if err := deleteProjectTx(ctx, tx, id); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM guilds WHERE id = ?", guildID)
	if err != nil {
		return fmt.Errorf("delete guild: %w", translateErr(err))
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("guild %s: %w", guildID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", translateErr(err))
	}
	return nil
}

// --- Projects ---

// CreateProject inserts the project and its seed statuses in one
// transaction so a project is never visible without a usable status set.
func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project, statuses []*models.Status) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", translateErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (id, guild_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.GuildID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", translateErr(err))
	}

	for i, st := range statuses {
		if st.ID == "" {
			st.ID = newULID()
		}
		st.ProjectID = p.ID
		if st.Position == 0 {
			st.Position = i + 1
		}
		st.CreatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO statuses (id, project_id, name, description, category, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			st.ID, st.ProjectID, st.Name, st.Description, string(st.Category), st.Position, st.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("seed status %q: %w", st.Name, translateErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", translateErr(err))
	}
	p.Statuses = statuses
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p := &models.Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, guild_id, name, description, created_at, updated_at
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.GuildID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", translateErr(err))
	}
	return p, nil
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, guildID, name string) (*models.Project, error) {
	p := &models.Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, guild_id, name, description, created_at, updated_at
		FROM projects WHERE guild_id = ? AND name = ?`, guildID, name,
	).Scan(&p.ID, &p.GuildID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", translateErr(err))
	}

	// Eager-load statuses so callers can inspect the status set without
	// another round trip.
	statuses, err := s.ListStatuses(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Statuses = statuses
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context, guildID string) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, name, description, created_at, updated_at
		FROM projects WHERE guild_id = ? ORDER BY name`, guildID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", translateErr(err))
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.GuildID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name=?, description=?, updated_at=? WHERE id=?`,
		p.Name, p.Description, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", translateErr(err))
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// DeleteProject removes the project and all of its issues, tags, and
// statuses. Children are deleted in dependency order inside one
// transaction; the declared foreign keys are defense-in-depth.
func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", translateErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteProjectTx(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", translateErr(err))
	}
	return nil
}

func deleteProjectTx(ctx context.Context, tx *sql.Tx, id string) error {
	steps := []struct {
		desc  string
		query string
	}{
		{"delete issue assignees", `DELETE FROM issue_assignees WHERE issue_id IN (SELECT id FROM issues WHERE project_id = ?)`},
		{"delete issue tags", `DELETE FROM issue_tags WHERE issue_id IN (SELECT id FROM issues WHERE project_id = ?)`},
		{"delete issues", `DELETE FROM issues WHERE project_id = ?`},
		{"delete tags", `DELETE FROM tags WHERE project_id = ?`},
		{"delete statuses", `DELETE FROM statuses WHERE project_id = ?`},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, id); err != nil {
			return fmt.Errorf("%s: %w", step.desc, translateErr(err))
		}
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", translateErr(err))
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Statuses ---

func (s *SQLiteStore) CreateStatus(ctx context.Context, st *models.Status) error {
	if st.ID == "" {
		st.ID = newULID()
	}
	st.CreatedAt = time.Now().UTC()

	if st.Position == 0 {
		// Append after the project's current last status.
		err := s.db.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(position), 0) + 1 FROM statuses WHERE project_id = ?",
			st.ProjectID,
		).Scan(&st.Position)
		if err != nil {
			return fmt.Errorf("next status position: %w", translateErr(err))
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO statuses (id, project_id, name, description, category, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.ProjectID, st.Name, st.Description, string(st.Category), st.Position, st.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create status: %w", translateErr(err))
	}
	return nil
}

func (s *SQLiteStore) scanStatusRow(row *sql.Row) (*models.Status, error) {
	st := &models.Status{}
	var category string
	err := row.Scan(&st.ID, &st.ProjectID, &st.Name, &st.Description, &category, &st.Position, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	st.Category = models.StatusCategory(category)
	return st, nil
}

func (s *SQLiteStore) GetStatus(ctx context.Context, id string) (*models.Status, error) {
	st, err := s.scanStatusRow(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, description, category, position, created_at
		FROM statuses WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("status %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", translateErr(err))
	}
	return st, nil
}

func (s *SQLiteStore) GetStatusByName(ctx context.Context, projectID, name string) (*models.Status, error) {
	st, err := s.scanStatusRow(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, description, category, position, created_at
		FROM statuses WHERE project_id = ? AND name = ?`, projectID, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("status %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get status by name: %w", translateErr(err))
	}
	return st, nil
}

func (s *SQLiteStore) ListStatuses(ctx context.Context, projectID string) ([]*models.Status, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, description, category, position, created_at
		FROM statuses WHERE project_id = ? ORDER BY position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", translateErr(err))
	}
	defer func() { _ = rows.Close() }()

	var statuses []*models.Status
	for rows.Next() {
		st := &models.Status{}
		var category string
		if err := rows.Scan(&st.ID, &st.ProjectID, &st.Name, &st.Description, &category, &st.Position, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		st.Category = models.StatusCategory(category)
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func (s *SQLiteStore) DeleteStatus(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM statuses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete status: %w", translateErr(err))
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("status %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DefaultOpenStatus(ctx context.Context, projectID string) (*models.Status, error) {
	st, err := s.scanStatusRow(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, description, category, position, created_at
		FROM statuses WHERE project_id = ? AND category = 'OPEN'
		ORDER BY position LIMIT 1`, projectID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("open status for project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("default open status: %w", translateErr(err))
	}
	return st, nil
}

// --- Tags ---

func (s *SQLiteStore) CreateTag(ctx context.Context, tag *models.Tag) error {
	if tag.ID == "" {
		tag.ID = newULID()
	}
	tag.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (id, project_id, name, created_at) VALUES (?, ?, ?, ?)`,
		tag.ID, tag.ProjectID, tag.Name, tag.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create tag: %w", translateErr(err))
	}
	return nil
}

func (s *SQLiteStore) GetTagByName(ctx context.Context, projectID, name string) (*models.Tag, error) {
	t := &models.Tag{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, created_at FROM tags WHERE project_id = ? AND name = ?`,
		projectID, name,
	).Scan(&t.ID, &t.ProjectID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tag %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tag by name: %w", translateErr(err))
	}
	return t, nil
}

func (s *SQLiteStore) ListTags(ctx context.Context, projectID string) ([]*models.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, name, created_at FROM tags WHERE project_id = ? ORDER BY name", projectID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", translateErr(err))
	}
	defer func() { _ = rows.Close() }()

	var tags []*models.Tag
	for rows.Next() {
		t := &models.Tag{}
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// DeleteTag refuses to remove a tag that is still attached to issues:
// the issue_tags foreign key rejects the delete and surfaces ErrConflict.
func (s *SQLiteStore) DeleteTag(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", translateErr(err))
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("tag %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) TagIssue(ctx context.Context, issueID, tagID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO issue_tags (issue_id, tag_id) VALUES (?, ?)", issueID, tagID)
	if err != nil {
		return fmt.Errorf("tag issue: %w", translateErr(err))
	}
	return nil
}

func (s *SQLiteStore) UntagIssue(ctx context.Context, issueID, tagID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM issue_tags WHERE issue_id = ? AND tag_id = ?", issueID, tagID)
	if err != nil {
		return fmt.Errorf("untag issue: %w", translateErr(err))
	}
	return nil
}

func (s *SQLiteStore) issueTagNames(ctx context.Context, issueID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.name FROM tags t
		JOIN issue_tags it ON t.id = it.tag_id
		WHERE it.issue_id = ? ORDER BY t.name`, issueID)
	if err != nil {
		return nil, fmt.Errorf("get issue tags: %w", translateErr(err))
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tag name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// --- Issues ---

// NextIssueNumber computes the next display number for a project:
// MAX(display_id)+1, or 1 for a project with no issues yet.
func (s *SQLiteStore) NextIssueNumber(ctx context.Context, projectID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(display_id), 0) + 1 FROM issues WHERE project_id = ?",
		projectID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next issue number: %w", translateErr(err))
	}
	return next, nil
}

// CreateIssue inserts the issue, allocating its display number inside
// the same transaction. If the insert loses a race on the
// (project_id, display_id) uniqueness constraint the transaction rolls
// back whole and the number is recomputed on retry.
func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if issue.ID == "" {
		issue.ID = newULID()
	}
	now := time.Now().UTC()
	issue.CreatedAt = now
	issue.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", translateErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	if issue.DisplayID == 0 {
		err = tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(display_id), 0) + 1 FROM issues WHERE project_id = ?",
			issue.ProjectID,
		).Scan(&issue.DisplayID)
		if err != nil {
			return fmt.Errorf("allocate issue number: %w", translateErr(err))
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO issues (id, project_id, display_id, title, description, status_id, creator_id, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.ProjectID, issue.DisplayID, issue.Title, issue.Description,
		issue.StatusID, issue.CreatorID, issue.CreatedAt, issue.UpdatedAt, issue.ClosedAt,
	)
	if err != nil {
		issue.DisplayID = 0
		return fmt.Errorf("create issue: %w", translateErr(err))
	}

	if err := tx.Commit(); err != nil {
		issue.DisplayID = 0
		return fmt.Errorf("commit tx: %w", translateErr(err))
	}
	return nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	issue := &models.Issue{}
	var closedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, display_id, title, description, status_id, creator_id, created_at, updated_at, closed_at
		FROM issues WHERE id = ?`, id,
	).Scan(&issue.ID, &issue.ProjectID, &issue.DisplayID, &issue.Title, &issue.Description,
		&issue.StatusID, &issue.CreatorID, &issue.CreatedAt, &issue.UpdatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", translateErr(err))
	}
	if closedAt.Valid {
		issue.ClosedAt = &closedAt.Time
	}

	return s.hydrateIssue(ctx, issue)
}

// GetIssueByDisplayID resolves the human-facing issue number within a
// project, eagerly loading status, assignees, and tags in one read path
// so the presentation layer avoids N+1 round trips.
func (s *SQLiteStore) GetIssueByDisplayID(ctx context.Context, projectID string, displayID int) (*models.Issue, error) {
	issue := &models.Issue{}
	var closedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, display_id, title, description, status_id, creator_id, created_at, updated_at, closed_at
		FROM issues WHERE project_id = ? AND display_id = ?`, projectID, displayID,
	).Scan(&issue.ID, &issue.ProjectID, &issue.DisplayID, &issue.Title, &issue.Description,
		&issue.StatusID, &issue.CreatorID, &issue.CreatedAt, &issue.UpdatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue #%d: %w", displayID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue by display id: %w", translateErr(err))
	}
	if closedAt.Valid {
		issue.ClosedAt = &closedAt.Time
	}

	return s.hydrateIssue(ctx, issue)
}

// hydrateIssue attaches the status row, assignee list, and tag names.
func (s *SQLiteStore) hydrateIssue(ctx context.Context, issue *models.Issue) (*models.Issue, error) {
	st, err := s.GetStatus(ctx, issue.StatusID)
	if err != nil {
		return nil, err
	}
	issue.Status = st

	assignees, err := s.GetAssignees(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	issue.Assignees = assignees

	tags, err := s.issueTagNames(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	issue.Tags = tags
	return issue, nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error) {
	query := `SELECT i.id, i.project_id, i.display_id, i.title, i.description, i.status_id, i.creator_id, i.created_at, i.updated_at, i.closed_at
		FROM issues i JOIN statuses st ON st.id = i.status_id`
	var conditions []string
	var args []any

	if filter.ProjectID != "" {
		conditions = append(conditions, "i.project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.StatusName != "" {
		conditions = append(conditions, "st.name = ?")
		args = append(args, filter.StatusName)
	}
	if filter.Category != "" {
		conditions = append(conditions, "st.category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.AssigneeID != "" {
		conditions = append(conditions, "i.id IN (SELECT issue_id FROM issue_assignees WHERE user_id = ?)")
		args = append(args, filter.AssigneeID)
	}
	if filter.Tag != "" {
		conditions = append(conditions, "i.id IN (SELECT issue_id FROM issue_tags JOIN tags ON tags.id = issue_tags.tag_id WHERE tags.name = ?)")
		args = append(args, filter.Tag)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY st.category, st.position, i.display_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", translateErr(err))
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue := &models.Issue{}
		var closedAt sql.NullTime
		if err := rows.Scan(&issue.ID, &issue.ProjectID, &issue.DisplayID, &issue.Title, &issue.Description,
			&issue.StatusID, &issue.CreatorID, &issue.CreatedAt, &issue.UpdatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		if closedAt.Valid {
			issue.ClosedAt = &closedAt.Time
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, issue := range issues {
		hydrated, err := s.hydrateIssue(ctx, issue)
		if err != nil {
			return nil, err
		}
		issues[i] = hydrated
	}
	return issues, nil
}

func (s *SQLiteStore) UpdateIssue(ctx context.Context, issue *models.Issue) error {
	issue.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET title=?, description=?, status_id=?, updated_at=?, closed_at=? WHERE id=?`,
		issue.Title, issue.Description, issue.StatusID, issue.UpdatedAt, issue.ClosedAt, issue.ID,
	)
	if err != nil {
		return fmt.Errorf("update issue: %w", translateErr(err))
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue %s: %w", issue.ID, ErrNotFound)
	}
	return nil
}

// --- Assignees ---

// AddAssignee re-reads the issue row inside the transaction so a
// concurrent assignment cannot be lost, then appends the user if absent.
func (s *SQLiteStore) AddAssignee(ctx context.Context, issueID, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", translateErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM issues WHERE id = ?", issueID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check issue: %w", translateErr(err))
	}
	if exists == 0 {
		return false, fmt.Errorf("issue %s: %w", issueID, ErrNotFound)
	}

	result, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO issue_assignees (issue_id, user_id) VALUES (?, ?)", issueID, userID)
	if err != nil {
		return false, fmt.Errorf("add assignee: %w", translateErr(err))
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		_, err = tx.ExecContext(ctx,
			"UPDATE issues SET updated_at=? WHERE id=?", time.Now().UTC(), issueID)
		if err != nil {
			return false, fmt.Errorf("touch issue: %w", translateErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", translateErr(err))
	}
	return n > 0, nil
}

func (s *SQLiteStore) RemoveAssignee(ctx context.Context, issueID, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", translateErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		"DELETE FROM issue_assignees WHERE issue_id = ? AND user_id = ?", issueID, userID)
	if err != nil {
		return false, fmt.Errorf("remove assignee: %w", translateErr(err))
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		_, err = tx.ExecContext(ctx,
			"UPDATE issues SET updated_at=? WHERE id=?", time.Now().UTC(), issueID)
		if err != nil {
			return false, fmt.Errorf("touch issue: %w", translateErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", translateErr(err))
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetAssignees(ctx context.Context, issueID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM issue_assignees WHERE issue_id = ? ORDER BY user_id", issueID)
	if err != nil {
		return nil, fmt.Errorf("get assignees: %w", translateErr(err))
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
