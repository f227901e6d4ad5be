package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/trkdev/trk/internal/models"
)

const issueColumns = `id, project_id, status_id, priority_id, category_id, release_id, resolution_id, group_id,
	reporter_id, summary, description, duplicate_of, private, customer_id, contact_id,
	estimated_hours, percent_complete, trigger_reminders, root_message_id, expected_resolution,
	created_at, updated_at, closed_at,
	last_public_action_at, last_public_action_type, last_internal_action_at, last_internal_action_type,
	first_response_at, last_response_at`

type issueScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row issueScanner) (*models.Issue, error) {
	issue := &models.Issue{}
	var private, trigger int
	var expected, closedAt, lastPublic, lastInternal, firstResp, lastResp sql.NullTime

	err := row.Scan(&issue.ID, &issue.ProjectID, &issue.StatusID, &issue.PriorityID, &issue.CategoryID,
		&issue.ReleaseID, &issue.ResolutionID, &issue.GroupID,
		&issue.ReporterID, &issue.Summary, &issue.Description, &issue.DuplicateOf, &private,
		&issue.CustomerID, &issue.ContactID,
		&issue.EstimatedHours, &issue.PercentComplete, &trigger, &issue.RootMessageID, &expected,
		&issue.CreatedAt, &issue.UpdatedAt, &closedAt,
		&lastPublic, &issue.LastPublicActionType, &lastInternal, &issue.LastInternalActionType,
		&firstResp, &lastResp)
	if err != nil {
		return nil, err
	}

	issue.Private = private == 1
	issue.TriggerReminders = trigger == 1
	if expected.Valid {
		issue.ExpectedResolution = &expected.Time
	}
	if closedAt.Valid {
		issue.ClosedAt = &closedAt.Time
	}
	if lastPublic.Valid {
		issue.LastPublicActionAt = &lastPublic.Time
	}
	if lastInternal.Valid {
		issue.LastInternalActionAt = &lastInternal.Time
	}
	if firstResp.Valid {
		issue.FirstResponseAt = &firstResp.Time
	}
	if lastResp.Valid {
		issue.LastResponseAt = &lastResp.Time
	}
	return issue, nil
}

func (s *SQLiteStore) InsertIssue(ctx context.Context, issue *models.Issue) error {
	now := time.Now().UTC()
	issue.CreatedAt = now
	issue.UpdatedAt = now
	issue.LastPublicActionAt = &now
	issue.LastPublicActionType = "created"

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO issues (project_id, status_id, priority_id, category_id, release_id, resolution_id, group_id,
			reporter_id, summary, description, duplicate_of, private, customer_id, contact_id,
			estimated_hours, percent_complete, trigger_reminders, root_message_id, expected_resolution,
			created_at, updated_at, last_public_action_at, last_public_action_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ProjectID, issue.StatusID, issue.PriorityID, issue.CategoryID, issue.ReleaseID,
		issue.ResolutionID, issue.GroupID,
		issue.ReporterID, issue.Summary, issue.Description, issue.DuplicateOf, boolToInt(issue.Private),
		issue.CustomerID, issue.ContactID,
		issue.EstimatedHours, issue.PercentComplete, boolToInt(issue.TriggerReminders),
		issue.RootMessageID, issue.ExpectedResolution,
		issue.CreatedAt, issue.UpdatedAt, now, issue.LastPublicActionType,
	)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	issue.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	issue, err := scanIssue(s.db.QueryRowContext(ctx,
		"SELECT "+issueColumns+" FROM issues WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return issue, nil
}

func (s *SQLiteStore) GetIssueByRootMessageID(ctx context.Context, msgID string) (*models.Issue, error) {
	issue, err := scanIssue(s.db.QueryRowContext(ctx,
		"SELECT "+issueColumns+" FROM issues WHERE root_message_id = ?", msgID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue not found for message id: %s", msgID)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue by root message id: %w", err)
	}
	return issue, nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error) {
	query := "SELECT " + issueColumns + " FROM issues"
	var conditions []string
	var args []any

	if filter.ProjectID != 0 {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.StatusID != 0 {
		conditions = append(conditions, "status_id = ?")
		args = append(args, filter.StatusID)
	}
	if filter.PriorityID != 0 {
		conditions = append(conditions, "priority_id = ?")
		args = append(args, filter.PriorityID)
	}
	if filter.CategoryID != 0 {
		conditions = append(conditions, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.AssigneeID != 0 {
		conditions = append(conditions, "id IN (SELECT issue_id FROM issue_users WHERE user_id = ?)")
		args = append(args, filter.AssigneeID)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// UpdateIssue persists the full set of user-editable fields. Lifecycle
// columns (closed date, response stamps) are owned by the dedicated setters.
func (s *SQLiteStore) UpdateIssue(ctx context.Context, issue *models.Issue) error {
	now := time.Now().UTC()
	issue.UpdatedAt = now
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET category_id=?, release_id=?, priority_id=?, status_id=?, resolution_id=?, group_id=?,
			summary=?, description=?, estimated_hours=?, percent_complete=?, private=?,
			trigger_reminders=?, expected_resolution=?,
			updated_at=?, last_public_action_at=?, last_public_action_type='updated'
		WHERE id=?`,
		issue.CategoryID, issue.ReleaseID, issue.PriorityID, issue.StatusID, issue.ResolutionID,
		issue.GroupID, issue.Summary, issue.Description, issue.EstimatedHours, issue.PercentComplete,
		boolToInt(issue.Private), boolToInt(issue.TriggerReminders), issue.ExpectedResolution,
		issue.UpdatedAt, now, issue.ID,
	)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue not found: %d", issue.ID)
	}
	return nil
}

func (s *SQLiteStore) IssueExists(ctx context.Context, id int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM issues WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("issue exists: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) SetIssueStatus(ctx context.Context, issueID, statusID int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE issues SET status_id=?, updated_at=?, last_public_action_at=?, last_public_action_type='update',
			trigger_reminders=0
		WHERE id=?`,
		statusID, now, now, issueID)
	if err != nil {
		return fmt.Errorf("set issue status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetIssueRelease(ctx context.Context, issueID, releaseID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE issues SET release_id=?, updated_at=? WHERE id=?",
		releaseID, time.Now().UTC(), issueID)
	if err != nil {
		return fmt.Errorf("set issue release: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetIssuePriority(ctx context.Context, issueID, priorityID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE issues SET priority_id=?, updated_at=? WHERE id=?",
		priorityID, time.Now().UTC(), issueID)
	if err != nil {
		return fmt.Errorf("set issue priority: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetIssueCategory(ctx context.Context, issueID, categoryID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE issues SET category_id=?, updated_at=? WHERE id=?",
		categoryID, time.Now().UTC(), issueID)
	if err != nil {
		return fmt.Errorf("set issue category: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetIssueGroup(ctx context.Context, issueID, groupID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE issues SET group_id=?, updated_at=? WHERE id=?",
		groupID, time.Now().UTC(), issueID)
	if err != nil {
		return fmt.Errorf("set issue group: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetIssueProject(ctx context.Context, issueID, projectID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE issues SET project_id=?, updated_at=? WHERE id=?",
		projectID, time.Now().UTC(), issueID)
	if err != nil {
		return fmt.Errorf("set issue project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemapIssueClassification(ctx context.Context, issueID, categoryID, priorityID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE issues SET category_id=?, priority_id=? WHERE id=?",
		categoryID, priorityID, issueID)
	if err != nil {
		return fmt.Errorf("remap issue classification: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetExpectedResolution(ctx context.Context, issueID int64, date *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE issues SET expected_resolution=?, updated_at=? WHERE id=?",
		date, time.Now().UTC(), issueID)
	if err != nil {
		return fmt.Errorf("set expected resolution: %w", err)
	}
	return nil
}

// CloseIssue stamps the closed date and status; the resolution column is
// only written when resolutionID is non-zero.
func (s *SQLiteStore) CloseIssue(ctx context.Context, issueID, statusID, resolutionID int64) error {
	now := time.Now().UTC()
	query := `UPDATE issues SET status_id=?, closed_at=?, updated_at=?,
		last_public_action_at=?, last_public_action_type='closed'`
	args := []any{statusID, now, now, now}
	if resolutionID != 0 {
		query += ", resolution_id=?"
		args = append(args, resolutionID)
	}
	query += " WHERE id=?"
	args = append(args, issueID)

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("close issue: %w", err)
	}
	return nil
}

// ClearClosed removes the closed date and resolution after a reopen.
func (s *SQLiteStore) ClearClosed(ctx context.Context, issueID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE issues SET closed_at=NULL, resolution_id=0 WHERE id=?", issueID)
	if err != nil {
		return fmt.Errorf("clear closed: %w", err)
	}
	return nil
}

// publicActionTypes are the action types visible to customers; everything
// else stamps the internal action columns.
var publicActionTypes = map[string]bool{
	"staff response":  true,
	"customer action": true,
	"file uploaded":   true,
	"user response":   true,
}

func (s *SQLiteStore) MarkIssueUpdated(ctx context.Context, issueID int64, actionType string, public bool) error {
	now := time.Now().UTC()
	field := "last_internal_action"
	if public || publicActionTypes[actionType] {
		field = "last_public_action"
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE issues SET updated_at=?, "+field+"_at=?, "+field+"_type=? WHERE id=?",
		now, now, actionType, issueID)
	if err != nil {
		return fmt.Errorf("mark issue updated: %w", err)
	}

	if actionType == "staff response" {
		if _, err := s.db.ExecContext(ctx,
			"UPDATE issues SET last_response_at=? WHERE id=?", now, issueID); err != nil {
			return fmt.Errorf("stamp last response: %w", err)
		}
		if _, err := s.db.ExecContext(ctx,
			"UPDATE issues SET first_response_at=? WHERE first_response_at IS NULL AND id=?", now, issueID); err != nil {
			return fmt.Errorf("stamp first response: %w", err)
		}
	}
	return nil
}

// --- Duplicates ---

func (s *SQLiteStore) SetDuplicateOf(ctx context.Context, issueID, duplicateOfID int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE issues SET duplicate_of=?, updated_at=?,
			last_internal_action_at=?, last_internal_action_type='updated'
		WHERE id=?`,
		duplicateOfID, now, now, issueID)
	if err != nil {
		return fmt.Errorf("set duplicate of: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearDuplicateOf(ctx context.Context, issueID int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE issues SET duplicate_of=0, updated_at=?,
			last_internal_action_at=?, last_internal_action_type='updated'
		WHERE id=?`,
		now, now, issueID)
	if err != nil {
		return fmt.Errorf("clear duplicate of: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DuplicateIDs(ctx context.Context, issueID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM issues WHERE duplicate_of = ? ORDER BY id", issueID)
	if err != nil {
		return nil, fmt.Errorf("duplicate ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan duplicate id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) ApplyToDuplicates(ctx context.Context, ids []int64, fields DuplicateFields) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()

	query := `UPDATE issues SET updated_at=?, last_internal_action_at=?, last_internal_action_type='updated',
		category_id=?, priority_id=?, status_id=?, resolution_id=?`
	args := []any{now, now, fields.CategoryID, fields.PriorityID, fields.StatusID, fields.ResolutionID}
	if !fields.KeepRelease {
		query += ", release_id=?"
		args = append(args, fields.ReleaseID)
	}

	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query += " WHERE id IN (" + strings.Join(placeholders, ",") + ")"

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("apply to duplicates: %w", err)
	}
	return nil
}

// --- Associations ---

// AddAssociation links two issues. The reverse edge is always inserted so
// the association reads the same from either side.
func (s *SQLiteStore) AddAssociation(ctx context.Context, issueID, associatedID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO issue_associations (issue_id, associated_id) VALUES (?, ?)",
		issueID, associatedID); err != nil {
		return fmt.Errorf("add association: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO issue_associations (issue_id, associated_id) VALUES (?, ?)",
		associatedID, issueID); err != nil {
		return fmt.Errorf("add reverse association: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAssociation(ctx context.Context, issueID, associatedID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM issue_associations
		WHERE (issue_id = ? AND associated_id = ?) OR (issue_id = ? AND associated_id = ?)`,
		issueID, associatedID, associatedID, issueID)
	if err != nil {
		return fmt.Errorf("delete association: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Associations(ctx context.Context, issueID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT associated_id FROM issue_associations WHERE issue_id = ? ORDER BY associated_id", issueID)
	if err != nil {
		return nil, fmt.Errorf("associations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Assignments ---

func (s *SQLiteStore) AssignUser(ctx context.Context, issueID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO issue_users (issue_id, user_id, assigned_at) VALUES (?, ?, ?)",
		issueID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("assign user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UnassignUser(ctx context.Context, issueID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM issue_users WHERE issue_id = ? AND user_id = ?", issueID, userID)
	if err != nil {
		return fmt.Errorf("unassign user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UnassignAll(ctx context.Context, issueID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM issue_users WHERE issue_id = ?", issueID)
	if err != nil {
		return fmt.Errorf("unassign all: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AssignedUserIDs(ctx context.Context, issueID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM issue_users WHERE issue_id = ? ORDER BY user_id", issueID)
	if err != nil {
		return nil, fmt.Errorf("assigned user ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan assigned user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) IsAssigned(ctx context.Context, issueID, userID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM issue_users WHERE issue_id = ? AND user_id = ?",
		issueID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("is assigned: %w", err)
	}
	return count > 0, nil
}

// --- History ---

func (s *SQLiteStore) AddHistory(ctx context.Context, issueID, userID int64, typ models.HistoryType, message string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO history (issue_id, user_id, type, message, created_at) VALUES (?, ?, ?, ?, ?)",
		issueID, userID, string(typ), message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, issueID int64) ([]*models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, issue_id, user_id, type, message, created_at FROM history WHERE issue_id = ? ORDER BY id",
		issueID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.HistoryEntry
	for rows.Next() {
		e := &models.HistoryEntry{}
		var typ string
		if err := rows.Scan(&e.ID, &e.IssueID, &e.UserID, &typ, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Type = models.HistoryType(typ)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Quarantine ---

func (s *SQLiteStore) UpsertQuarantine(ctx context.Context, q *models.Quarantine) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quarantines (issue_id, status, expiration) VALUES (?, ?, ?)
		ON CONFLICT (issue_id) DO UPDATE SET status = excluded.status, expiration = excluded.expiration`,
		q.IssueID, q.Status, q.Expiration)
	if err != nil {
		return fmt.Errorf("upsert quarantine: %w", err)
	}
	return nil
}

// GetQuarantine returns the active quarantine record for the issue, or nil
// when there is none, it was lifted, or it has expired.
func (s *SQLiteStore) GetQuarantine(ctx context.Context, issueID int64) (*models.Quarantine, error) {
	q := &models.Quarantine{}
	var expiration sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT issue_id, status, expiration FROM quarantines
		WHERE issue_id = ? AND status > 0 AND (expiration IS NULL OR expiration > ?)`,
		issueID, time.Now().UTC()).Scan(&q.IssueID, &q.Status, &expiration)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quarantine: %w", err)
	}
	if expiration.Valid {
		q.Expiration = &expiration.Time
	}
	return q, nil
}

func (s *SQLiteStore) ListQuarantinedIssues(ctx context.Context) ([]*models.Issue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM issues
		WHERE id IN (
			SELECT issue_id FROM quarantines
			WHERE status > 0 AND expiration IS NOT NULL AND expiration >= ?
		) ORDER BY id`,
		time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list quarantined issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quarantined issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}
