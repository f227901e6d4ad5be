package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/trkdev/trk/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
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
	// preventing "database is locked" errors from concurrent requests.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
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

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

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

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	p.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, workflow_backend, initial_status_id, customer_integration, segregate_reporters, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.WorkflowBackend, p.InitialStatusID,
		boolToInt(p.CustomerIntegration), boolToInt(p.SegregateReporters), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) scanProject(row *sql.Row) (*models.Project, error) {
	p := &models.Project{}
	var customer, segregate int
	err := row.Scan(&p.ID, &p.Name, &p.WorkflowBackend, &p.InitialStatusID, &customer, &segregate, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.CustomerIntegration = customer == 1
	p.SegregateReporters = segregate == 1
	return p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	p, err := s.scanProject(s.db.QueryRowContext(ctx,
		`SELECT id, name, workflow_backend, initial_status_id, customer_integration, segregate_reporters, created_at
		FROM projects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	p, err := s.scanProject(s.db.QueryRowContext(ctx,
		`SELECT id, name, workflow_backend, initial_status_id, customer_integration, segregate_reporters, created_at
		FROM projects WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, workflow_backend, initial_status_id, customer_integration, segregate_reporters, created_at
		FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		var customer, segregate int
		if err := rows.Scan(&p.ID, &p.Name, &p.WorkflowBackend, &p.InitialStatusID, &customer, &segregate, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.CustomerIntegration = customer == 1
		p.SegregateReporters = segregate == 1
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) SetWorkflowBackend(ctx context.Context, projectID int64, backend string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE projects SET workflow_backend = ? WHERE id = ?", backend, projectID)
	if err != nil {
		return fmt.Errorf("set workflow backend: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %d", projectID)
	}
	return nil
}

// --- Users and roles ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	u.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (full_name, email, customer_id, group_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.FullName, u.Email, u.CustomerID, u.GroupID, boolToInt(u.Active), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u := &models.User{}
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, full_name, email, customer_id, group_id, active, created_at
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.FullName, &u.Email, &u.CustomerID, &u.GroupID, &active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Active = active == 1
	return u, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u := &models.User{}
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, full_name, email, customer_id, group_id, active, created_at
		FROM users WHERE email = ?`, email,
	).Scan(&u.ID, &u.FullName, &u.Email, &u.CustomerID, &u.GroupID, &active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	u.Active = active == 1
	return u, nil
}

func (s *SQLiteStore) SetRole(ctx context.Context, projectID, userID int64, role models.Role) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_users (project_id, user_id, role) VALUES (?, ?, ?)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role = excluded.role`,
		projectID, userID, int(role),
	)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

// RoleByUser returns the user's role in the project, or 0 when the user is
// not a member.
func (s *SQLiteStore) RoleByUser(ctx context.Context, projectID, userID int64) (models.Role, error) {
	var role int
	err := s.db.QueryRowContext(ctx,
		"SELECT role FROM project_users WHERE project_id = ? AND user_id = ?",
		projectID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("role by user: %w", err)
	}
	return models.Role(role), nil
}

// --- Lookups ---

func (s *SQLiteStore) CreateStatus(ctx context.Context, st *models.Status) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO statuses (title, is_closed) VALUES (?, ?)",
		st.Title, boolToInt(st.IsClosed))
	if err != nil {
		return fmt.Errorf("create status: %w", err)
	}
	st.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetStatus(ctx context.Context, id int64) (*models.Status, error) {
	st := &models.Status{}
	var closed int
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, is_closed FROM statuses WHERE id = ?", id,
	).Scan(&st.ID, &st.Title, &closed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("status not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	st.IsClosed = closed == 1
	return st, nil
}

func (s *SQLiteStore) ListStatuses(ctx context.Context) ([]*models.Status, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, is_closed FROM statuses ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var statuses []*models.Status
	for rows.Next() {
		st := &models.Status{}
		var closed int
		if err := rows.Scan(&st.ID, &st.Title, &closed); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		st.IsClosed = closed == 1
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func (s *SQLiteStore) CreateCategory(ctx context.Context, c *models.Category) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO categories (project_id, title) VALUES (?, ?)", c.ProjectID, c.Title)
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListCategories(ctx context.Context, projectID int64) ([]*models.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, title FROM categories WHERE project_id = ? ORDER BY id", projectID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []*models.Category
	for rows.Next() {
		c := &models.Category{}
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Title); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *SQLiteStore) CreatePriority(ctx context.Context, p *models.Priority) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO priorities (project_id, title) VALUES (?, ?)", p.ProjectID, p.Title)
	if err != nil {
		return fmt.Errorf("create priority: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListPriorities(ctx context.Context, projectID int64) ([]*models.Priority, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, title FROM priorities WHERE project_id = ? ORDER BY id", projectID)
	if err != nil {
		return nil, fmt.Errorf("list priorities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var priorities []*models.Priority
	for rows.Next() {
		p := &models.Priority{}
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Title); err != nil {
			return nil, fmt.Errorf("scan priority: %w", err)
		}
		priorities = append(priorities, p)
	}
	return priorities, rows.Err()
}

func (s *SQLiteStore) CreateRelease(ctx context.Context, r *models.Release) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO releases (project_id, title) VALUES (?, ?)", r.ProjectID, r.Title)
	if err != nil {
		return fmt.Errorf("create release: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListReleases(ctx context.Context, projectID int64) ([]*models.Release, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, title FROM releases WHERE project_id = ? ORDER BY id", projectID)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var releases []*models.Release
	for rows.Next() {
		r := &models.Release{}
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Title); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		releases = append(releases, r)
	}
	return releases, rows.Err()
}

func (s *SQLiteStore) CreateResolution(ctx context.Context, r *models.Resolution) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO resolutions (title) VALUES (?)", r.Title)
	if err != nil {
		return fmt.Errorf("create resolution: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetResolution(ctx context.Context, id int64) (*models.Resolution, error) {
	r := &models.Resolution{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title FROM resolutions WHERE id = ?", id,
	).Scan(&r.ID, &r.Title)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resolution not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get resolution: %w", err)
	}
	return r, nil
}
