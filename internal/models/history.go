package models

import "time"

// HistoryType identifies the kind of audit event recorded for an issue.
type HistoryType string

const (
	HistoryIssueOpened         HistoryType = "issue_opened"
	HistoryIssueUpdated        HistoryType = "issue_updated"
	HistoryIssueClosed         HistoryType = "issue_closed"
	HistoryIssueBulkUpdated    HistoryType = "issue_bulk_updated"
	HistoryIssueAutoAssigned   HistoryType = "issue_auto_assigned"
	HistoryRRIssueAssigned     HistoryType = "rr_issue_assigned"
	HistoryUserAssociated      HistoryType = "user_associated"
	HistoryUserUnassociated    HistoryType = "user_unassociated"
	HistoryUserAllUnassociated HistoryType = "user_all_unassociated"
	HistoryIssueAssociated     HistoryType = "issue_associated"
	HistoryIssueUnassociated   HistoryType = "issue_unassociated"
	HistoryDuplicateAdded      HistoryType = "duplicate_added"
	HistoryDuplicateRemoved    HistoryType = "duplicate_removed"
	HistoryDuplicateUpdate     HistoryType = "duplicate_update"
	HistoryGroupChanged        HistoryType = "group_changed"
	HistoryQuarantineRemoved   HistoryType = "issue_quarantine_removed"
	HistoryRemoteStatusChange  HistoryType = "remote_status_change"
)

// HistoryEntry is an immutable audit record. Entries are append-only and
// written as a side effect of every mutating issue operation.
type HistoryEntry struct {
	ID        int64
	IssueID   int64
	UserID    int64
	Type      HistoryType
	Message   string
	CreatedAt time.Time
}
