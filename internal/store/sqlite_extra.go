package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trkdev/trk/internal/models"
)

// --- Subscriptions and authorized repliers ---

func (s *SQLiteStore) Subscribe(ctx context.Context, sub *models.Subscription) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (issue_id, user_id, email, actions) VALUES (?, ?, ?, ?)
		ON CONFLICT (issue_id, user_id, email) DO UPDATE SET actions = excluded.actions`,
		sub.IssueID, sub.UserID, sub.Email, sub.Actions)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	sub.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) Subscribers(ctx context.Context, issueID int64) ([]*models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, issue_id, user_id, email, actions FROM subscriptions WHERE issue_id = ? ORDER BY id",
		issueID)
	if err != nil {
		return nil, fmt.Errorf("subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []*models.Subscription
	for rows.Next() {
		sub := &models.Subscription{}
		if err := rows.Scan(&sub.ID, &sub.IssueID, &sub.UserID, &sub.Email, &sub.Actions); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStore) AddAuthorizedReplier(ctx context.Context, issueID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO authorized_repliers (issue_id, user_id) VALUES (?, ?)",
		issueID, userID)
	if err != nil {
		return fmt.Errorf("add authorized replier: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsAuthorizedReplier(ctx context.Context, issueID, userID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM authorized_repliers WHERE issue_id = ? AND user_id = ?",
		issueID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("is authorized replier: %w", err)
	}
	return count > 0, nil
}

// --- Notes, emails, attachments, custom fields ---

func (s *SQLiteStore) AddNote(ctx context.Context, n *models.Note) error {
	n.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO notes (issue_id, user_id, title, body, created_at) VALUES (?, ?, ?, ?, ?)",
		n.IssueID, n.UserID, n.Title, n.Body, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("add note: %w", err)
	}
	n.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListNotes(ctx context.Context, issueID int64) ([]*models.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, issue_id, user_id, title, body, created_at FROM notes WHERE issue_id = ? ORDER BY id",
		issueID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notes []*models.Note
	for rows.Next() {
		n := &models.Note{}
		if err := rows.Scan(&n.ID, &n.IssueID, &n.UserID, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *SQLiteStore) InsertEmail(ctx context.Context, e *models.Email) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO emails (issue_id, account_id, message_id, sender, subject, body, closing, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.IssueID, e.AccountID, e.MessageID, e.From, e.Subject, e.Body, boolToInt(e.Closing), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert email: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListEmails(ctx context.Context, issueID int64) ([]*models.Email, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, issue_id, account_id, message_id, sender, subject, body, closing, created_at FROM emails WHERE issue_id = ? ORDER BY id",
		issueID)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var emails []*models.Email
	for rows.Next() {
		e := &models.Email{}
		var closing int
		if err := rows.Scan(&e.ID, &e.IssueID, &e.AccountID, &e.MessageID, &e.From, &e.Subject, &e.Body, &closing, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		e.Closing = closing == 1
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

func (s *SQLiteStore) AddAttachment(ctx context.Context, a *models.Attachment) error {
	a.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO attachments (issue_id, user_id, description, created_at) VALUES (?, ?, ?, ?)",
		a.IssueID, a.UserID, a.Description, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("add attachment: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListAttachments(ctx context.Context, issueID int64) ([]*models.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, issue_id, user_id, description, created_at FROM attachments WHERE issue_id = ? ORDER BY id",
		issueID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Attachment
	for rows.Next() {
		a := &models.Attachment{}
		if err := rows.Scan(&a.ID, &a.IssueID, &a.UserID, &a.Description, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddAttachmentFile(ctx context.Context, f *models.AttachmentFile) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO attachment_files (attachment_id, filename, mime_type, content) VALUES (?, ?, ?, ?)",
		f.AttachmentID, f.Filename, f.MimeType, f.Content)
	if err != nil {
		return fmt.Errorf("add attachment file: %w", err)
	}
	f.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) SetCustomFieldValue(ctx context.Context, issueID, fieldID int64, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO custom_field_values (issue_id, field_id, value) VALUES (?, ?, ?)
		ON CONFLICT (issue_id, field_id) DO UPDATE SET value = excluded.value`,
		issueID, fieldID, value)
	if err != nil {
		return fmt.Errorf("set custom field value: %w", err)
	}
	return nil
}

// --- Auto-assignment ---

func (s *SQLiteStore) AddRoundRobinUser(ctx context.Context, projectID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO round_robin_users (project_id, user_id) VALUES (?, ?)",
		projectID, userID)
	if err != nil {
		return fmt.Errorf("add round robin user: %w", err)
	}
	return nil
}

// NextRoundRobinAssignee returns the next user in the project's rotation,
// advancing the stored cursor. Returns 0 when the project has no rotation.
func (s *SQLiteStore) NextRoundRobinAssignee(ctx context.Context, projectID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int64
	err = tx.QueryRowContext(ctx,
		"SELECT last_user_id FROM round_robin_state WHERE project_id = ?", projectID).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("round robin state: %w", err)
	}

	var next int64
	err = tx.QueryRowContext(ctx,
		"SELECT user_id FROM round_robin_users WHERE project_id = ? AND user_id > ? ORDER BY user_id LIMIT 1",
		projectID, last).Scan(&next)
	if err == sql.ErrNoRows {
		// Wrap around to the start of the rotation.
		err = tx.QueryRowContext(ctx,
			"SELECT user_id FROM round_robin_users WHERE project_id = ? ORDER BY user_id LIMIT 1",
			projectID).Scan(&next)
		if err == sql.ErrNoRows {
			return 0, nil
		}
	}
	if err != nil {
		return 0, fmt.Errorf("next round robin user: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO round_robin_state (project_id, last_user_id) VALUES (?, ?)
		ON CONFLICT (project_id) DO UPDATE SET last_user_id = excluded.last_user_id`,
		projectID, next); err != nil {
		return 0, fmt.Errorf("advance round robin: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}

func (s *SQLiteStore) AddAccountManager(ctx context.Context, projectID int64, customerID string, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO account_managers (project_id, customer_id, user_id) VALUES (?, ?, ?)",
		projectID, customerID, userID)
	if err != nil {
		return fmt.Errorf("add account manager: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AccountManagers(ctx context.Context, projectID int64, customerID string) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.full_name, u.email, u.customer_id, u.group_id, u.active, u.created_at
		FROM users u
		JOIN account_managers am ON am.user_id = u.id
		WHERE am.project_id = ? AND am.customer_id = ?
		ORDER BY u.id`,
		projectID, customerID)
	if err != nil {
		return nil, fmt.Errorf("account managers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*models.User
	for rows.Next() {
		u := &models.User{}
		var active int
		if err := rows.Scan(&u.ID, &u.FullName, &u.Email, &u.CustomerID, &u.GroupID, &active, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account manager: %w", err)
		}
		u.Active = active == 1
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Admin: email accounts ---

func scanEmailAccount(row issueScanner) (*models.EmailAccount, error) {
	a := &models.EmailAccount{}
	var onlyNew, leaveCopy, autoCreate int
	err := row.Scan(&a.ID, &a.ProjectID, &a.Type, &a.Hostname, &a.Port, &a.Folder,
		&a.Username, &a.Password, &onlyNew, &leaveCopy, &autoCreate, &a.AutoCreationOptions, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.OnlyNew = onlyNew == 1
	a.LeaveCopy = leaveCopy == 1
	a.IssueAutoCreation = autoCreate == 1
	return a, nil
}

const emailAccountColumns = `id, project_id, type, hostname, port, folder, username, password,
	only_new, leave_copy, issue_auto_creation, auto_creation_options, created_at`

func (s *SQLiteStore) CreateEmailAccount(ctx context.Context, a *models.EmailAccount) error {
	a.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO email_accounts (project_id, type, hostname, port, folder, username, password,
			only_new, leave_copy, issue_auto_creation, auto_creation_options, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ProjectID, a.Type, a.Hostname, a.Port, a.Folder, a.Username, a.Password,
		boolToInt(a.OnlyNew), boolToInt(a.LeaveCopy), boolToInt(a.IssueAutoCreation),
		a.AutoCreationOptions, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create email account: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetEmailAccount(ctx context.Context, id int64) (*models.EmailAccount, error) {
	a, err := scanEmailAccount(s.db.QueryRowContext(ctx,
		"SELECT "+emailAccountColumns+" FROM email_accounts WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("email account not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get email account: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) GetEmailAccountByProject(ctx context.Context, projectID int64) (*models.EmailAccount, error) {
	a, err := scanEmailAccount(s.db.QueryRowContext(ctx,
		"SELECT "+emailAccountColumns+" FROM email_accounts WHERE project_id = ? ORDER BY id LIMIT 1", projectID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("email account not found for project: %d", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get email account by project: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListEmailAccounts(ctx context.Context) ([]*models.EmailAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+emailAccountColumns+" FROM email_accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list email accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []*models.EmailAccount
	for rows.Next() {
		a, err := scanEmailAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) UpdateEmailAccount(ctx context.Context, a *models.EmailAccount) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_accounts SET project_id=?, type=?, hostname=?, port=?, folder=?, username=?, password=?,
			only_new=?, leave_copy=?, issue_auto_creation=?, auto_creation_options=?
		WHERE id=?`,
		a.ProjectID, a.Type, a.Hostname, a.Port, a.Folder, a.Username, a.Password,
		boolToInt(a.OnlyNew), boolToInt(a.LeaveCopy), boolToInt(a.IssueAutoCreation),
		a.AutoCreationOptions, a.ID)
	if err != nil {
		return fmt.Errorf("update email account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("email account not found: %d", a.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteEmailAccount(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM email_accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete email account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("email account not found: %d", id)
	}
	return nil
}

// --- Admin: link filters ---

func scanLinkFilter(row issueScanner) (*models.LinkFilter, error) {
	f := &models.LinkFilter{}
	var minRole int
	err := row.Scan(&f.ID, &f.ProjectID, &f.Pattern, &f.Replacement, &f.Description, &minRole, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	f.MinRole = models.Role(minRole)
	return f, nil
}

const linkFilterColumns = "id, project_id, pattern, replacement, description, min_role, created_at"

func (s *SQLiteStore) CreateLinkFilter(ctx context.Context, f *models.LinkFilter) error {
	f.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO link_filters (project_id, pattern, replacement, description, min_role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ProjectID, f.Pattern, f.Replacement, f.Description, int(f.MinRole), f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create link filter: %w", err)
	}
	f.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetLinkFilter(ctx context.Context, id int64) (*models.LinkFilter, error) {
	f, err := scanLinkFilter(s.db.QueryRowContext(ctx,
		"SELECT "+linkFilterColumns+" FROM link_filters WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("link filter not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get link filter: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) ListLinkFilters(ctx context.Context) ([]*models.LinkFilter, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+linkFilterColumns+" FROM link_filters ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list link filters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var filters []*models.LinkFilter
	for rows.Next() {
		f, err := scanLinkFilter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link filter: %w", err)
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

// LinkFiltersForProject returns the filters visible to a user of the given
// role in the project. Filters with project_id 0 apply to every project.
func (s *SQLiteStore) LinkFiltersForProject(ctx context.Context, projectID int64, role models.Role) ([]*models.LinkFilter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkFilterColumns+` FROM link_filters
		WHERE (project_id = 0 OR project_id = ?) AND min_role <= ?
		ORDER BY id`,
		projectID, int(role))
	if err != nil {
		return nil, fmt.Errorf("link filters for project: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var filters []*models.LinkFilter
	for rows.Next() {
		f, err := scanLinkFilter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link filter: %w", err)
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

func (s *SQLiteStore) UpdateLinkFilter(ctx context.Context, f *models.LinkFilter) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE link_filters SET project_id=?, pattern=?, replacement=?, description=?, min_role=?
		WHERE id=?`,
		f.ProjectID, f.Pattern, f.Replacement, f.Description, int(f.MinRole), f.ID)
	if err != nil {
		return fmt.Errorf("update link filter: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("link filter not found: %d", f.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteLinkFilter(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM link_filters WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete link filter: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("link filter not found: %d", id)
	}
	return nil
}

// --- Outbound mail ---

func (s *SQLiteStore) EnqueueMail(ctx context.Context, issueID int64, recipient, subject, body, typ string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO mail_queue (issue_id, recipient, subject, body, type, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		issueID, recipient, subject, body, typ, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}
