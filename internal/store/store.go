package store

import (
	"context"
	"time"

	"github.com/trkdev/trk/internal/models"
)

// IssueListFilter specifies filters for listing issues.
type IssueListFilter struct {
	ProjectID  int64
	StatusID   int64
	PriorityID int64
	CategoryID int64
	AssigneeID int64
}

// DuplicateFields is the set of field values propagated from an issue to
// its duplicates. KeepRelease leaves the duplicates' release untouched.
type DuplicateFields struct {
	CategoryID   int64
	ReleaseID    int64
	KeepRelease  bool
	PriorityID   int64
	StatusID     int64
	ResolutionID int64
}

// Store defines the persistence interface for trk. All mutating methods
// stamp updated_at themselves; callers own history and notification side
// effects.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	SetWorkflowBackend(ctx context.Context, projectID int64, backend string) error

	// Users and roles
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SetRole(ctx context.Context, projectID, userID int64, role models.Role) error
	RoleByUser(ctx context.Context, projectID, userID int64) (models.Role, error)

	// Lookups
	CreateStatus(ctx context.Context, s *models.Status) error
	GetStatus(ctx context.Context, id int64) (*models.Status, error)
	ListStatuses(ctx context.Context) ([]*models.Status, error)
	CreateCategory(ctx context.Context, c *models.Category) error
	ListCategories(ctx context.Context, projectID int64) ([]*models.Category, error)
	CreatePriority(ctx context.Context, p *models.Priority) error
	ListPriorities(ctx context.Context, projectID int64) ([]*models.Priority, error)
	CreateRelease(ctx context.Context, r *models.Release) error
	ListReleases(ctx context.Context, projectID int64) ([]*models.Release, error)
	CreateResolution(ctx context.Context, r *models.Resolution) error
	GetResolution(ctx context.Context, id int64) (*models.Resolution, error)

	// Issues
	InsertIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	GetIssueByRootMessageID(ctx context.Context, msgID string) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error)
	UpdateIssue(ctx context.Context, issue *models.Issue) error
	IssueExists(ctx context.Context, id int64) (bool, error)
	SetIssueStatus(ctx context.Context, issueID, statusID int64) error
	SetIssueRelease(ctx context.Context, issueID, releaseID int64) error
	SetIssuePriority(ctx context.Context, issueID, priorityID int64) error
	SetIssueCategory(ctx context.Context, issueID, categoryID int64) error
	SetIssueGroup(ctx context.Context, issueID, groupID int64) error
	SetIssueProject(ctx context.Context, issueID, projectID int64) error
	RemapIssueClassification(ctx context.Context, issueID, categoryID, priorityID int64) error
	SetExpectedResolution(ctx context.Context, issueID int64, date *time.Time) error
	CloseIssue(ctx context.Context, issueID, statusID, resolutionID int64) error
	ClearClosed(ctx context.Context, issueID int64) error
	MarkIssueUpdated(ctx context.Context, issueID int64, actionType string, public bool) error

	// Duplicates
	SetDuplicateOf(ctx context.Context, issueID, duplicateOfID int64) error
	ClearDuplicateOf(ctx context.Context, issueID int64) error
	DuplicateIDs(ctx context.Context, issueID int64) ([]int64, error)
	ApplyToDuplicates(ctx context.Context, ids []int64, fields DuplicateFields) error

	// Associations (always symmetric)
	AddAssociation(ctx context.Context, issueID, associatedID int64) error
	DeleteAssociation(ctx context.Context, issueID, associatedID int64) error
	Associations(ctx context.Context, issueID int64) ([]int64, error)

	// Assignments
	AssignUser(ctx context.Context, issueID, userID int64) error
	UnassignUser(ctx context.Context, issueID, userID int64) error
	UnassignAll(ctx context.Context, issueID int64) error
	AssignedUserIDs(ctx context.Context, issueID int64) ([]int64, error)
	IsAssigned(ctx context.Context, issueID, userID int64) (bool, error)

	// History (append-only audit log)
	AddHistory(ctx context.Context, issueID, userID int64, typ models.HistoryType, message string) error
	ListHistory(ctx context.Context, issueID int64) ([]*models.HistoryEntry, error)

	// Quarantine
	UpsertQuarantine(ctx context.Context, q *models.Quarantine) error
	GetQuarantine(ctx context.Context, issueID int64) (*models.Quarantine, error)
	ListQuarantinedIssues(ctx context.Context) ([]*models.Issue, error)

	// Subscriptions and repliers
	Subscribe(ctx context.Context, sub *models.Subscription) error
	Subscribers(ctx context.Context, issueID int64) ([]*models.Subscription, error)
	AddAuthorizedReplier(ctx context.Context, issueID, userID int64) error
	IsAuthorizedReplier(ctx context.Context, issueID, userID int64) (bool, error)

	// Notes, emails, attachments, custom fields
	AddNote(ctx context.Context, n *models.Note) error
	ListNotes(ctx context.Context, issueID int64) ([]*models.Note, error)
	InsertEmail(ctx context.Context, e *models.Email) error
	ListEmails(ctx context.Context, issueID int64) ([]*models.Email, error)
	AddAttachment(ctx context.Context, a *models.Attachment) error
	AddAttachmentFile(ctx context.Context, f *models.AttachmentFile) error
	ListAttachments(ctx context.Context, issueID int64) ([]*models.Attachment, error)
	SetCustomFieldValue(ctx context.Context, issueID, fieldID int64, value string) error

	// Auto-assignment
	AddRoundRobinUser(ctx context.Context, projectID, userID int64) error
	NextRoundRobinAssignee(ctx context.Context, projectID int64) (int64, error)
	AddAccountManager(ctx context.Context, projectID int64, customerID string, userID int64) error
	AccountManagers(ctx context.Context, projectID int64, customerID string) ([]*models.User, error)

	// Admin: email accounts
	CreateEmailAccount(ctx context.Context, a *models.EmailAccount) error
	GetEmailAccount(ctx context.Context, id int64) (*models.EmailAccount, error)
	GetEmailAccountByProject(ctx context.Context, projectID int64) (*models.EmailAccount, error)
	ListEmailAccounts(ctx context.Context) ([]*models.EmailAccount, error)
	UpdateEmailAccount(ctx context.Context, a *models.EmailAccount) error
	DeleteEmailAccount(ctx context.Context, id int64) error

	// Admin: link filters
	CreateLinkFilter(ctx context.Context, f *models.LinkFilter) error
	GetLinkFilter(ctx context.Context, id int64) (*models.LinkFilter, error)
	ListLinkFilters(ctx context.Context) ([]*models.LinkFilter, error)
	LinkFiltersForProject(ctx context.Context, projectID int64, role models.Role) ([]*models.LinkFilter, error)
	UpdateLinkFilter(ctx context.Context, f *models.LinkFilter) error
	DeleteLinkFilter(ctx context.Context, id int64) error

	// Outbound mail
	EnqueueMail(ctx context.Context, issueID int64, recipient, subject, body, typ string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
