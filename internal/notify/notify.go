// Package notify fans issue events out to the issue's notification list.
// Dispatch is fire-and-forget: failures are logged and never surface to the
// operation that triggered them.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/models"
)

// Notifier receives issue lifecycle events. exclude lists email addresses
// that must not be notified (typically the actor who caused the event).
type Notifier interface {
	NotifyNewIssue(ctx context.Context, issueID int64, exclude []string)
	NotifyStatusChange(ctx context.Context, issueID, oldStatusID, newStatusID int64)
	NotifyIssueUpdated(ctx context.Context, issueID, userID int64, summary string)
	NotifyIssueClosed(ctx context.Context, issueID int64, reason string)
	NotifyAssignment(ctx context.Context, issueID int64, userIDs []int64)
	NotifyCustomerContact(ctx context.Context, issueID int64, contactID, reason string)
	NotifyEmailConverted(ctx context.Context, issueID int64, senders []string) []string
	NotifyCustomerIssue(ctx context.Context, issueID int64, contactID string)
}

// AddressFilter decides whether an address may receive notifications. The
// workflow dispatcher satisfies this.
type AddressFilter interface {
	ShouldEmailAddress(ctx context.Context, projectID int64, address string) bool
}

// Store is the slice of the persistence layer the mail notifier needs.
type Store interface {
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	Subscribers(ctx context.Context, issueID int64) ([]*models.Subscription, error)
	EnqueueMail(ctx context.Context, issueID int64, recipient, subject, body, typ string) error
}

// MailNotifier resolves recipients from the issue's subscription list and
// queues one message per recipient.
type MailNotifier struct {
	store  Store
	filter AddressFilter
	log    *zap.Logger
}

func NewMailNotifier(store Store, filter AddressFilter, log *zap.Logger) *MailNotifier {
	return &MailNotifier{store: store, filter: filter, log: log}
}

var _ Notifier = (*MailNotifier)(nil)

// recipients resolves subscriber addresses for the given action, dropping
// excluded and filtered ones. A subscription with an empty action list
// receives everything.
func (n *MailNotifier) recipients(ctx context.Context, issue *models.Issue, action string, exclude []string) []string {
	subs, err := n.store.Subscribers(ctx, issue.ID)
	if err != nil {
		n.log.Error("resolve subscribers", zap.Int64("issue_id", issue.ID), zap.Error(err))
		return nil
	}

	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		excluded[strings.ToLower(e)] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, sub := range subs {
		if sub.Actions != "" && !actionListed(sub.Actions, action) {
			continue
		}
		addr := sub.Email
		if addr == "" && sub.UserID != 0 {
			u, err := n.store.GetUser(ctx, sub.UserID)
			if err != nil {
				n.log.Warn("resolve subscriber user", zap.Int64("user_id", sub.UserID), zap.Error(err))
				continue
			}
			addr = u.Email
		}
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if seen[key] || excluded[key] {
			continue
		}
		if !n.filter.ShouldEmailAddress(ctx, issue.ProjectID, addr) {
			continue
		}
		seen[key] = true
		out = append(out, addr)
	}
	return out
}

func actionListed(actions, action string) bool {
	for _, a := range strings.Split(actions, ",") {
		if strings.TrimSpace(a) == action {
			return true
		}
	}
	return false
}

func (n *MailNotifier) dispatch(ctx context.Context, issueID int64, action, subject, body string, exclude []string) {
	issue, err := n.store.GetIssue(ctx, issueID)
	if err != nil {
		n.log.Error("notify: load issue", zap.Int64("issue_id", issueID), zap.Error(err))
		return
	}
	for _, addr := range n.recipients(ctx, issue, action, exclude) {
		if err := n.store.EnqueueMail(ctx, issueID, addr, subject, body, action); err != nil {
			n.log.Error("notify: enqueue mail",
				zap.Int64("issue_id", issueID), zap.String("recipient", addr), zap.Error(err))
			continue
		}
		n.log.Info("notification queued",
			zap.Int64("issue_id", issueID),
			zap.String("action", action),
			zap.String("recipient", addr))
	}
}

func (n *MailNotifier) NotifyNewIssue(ctx context.Context, issueID int64, exclude []string) {
	n.dispatch(ctx, issueID, "created",
		fmt.Sprintf("[#%d] New issue", issueID), "A new issue was reported.", exclude)
}

func (n *MailNotifier) NotifyStatusChange(ctx context.Context, issueID, oldStatusID, newStatusID int64) {
	n.dispatch(ctx, issueID, "updated",
		fmt.Sprintf("[#%d] Status changed", issueID),
		fmt.Sprintf("Status changed from %d to %d.", oldStatusID, newStatusID), nil)
}

func (n *MailNotifier) NotifyIssueUpdated(ctx context.Context, issueID, userID int64, summary string) {
	n.dispatch(ctx, issueID, "updated",
		fmt.Sprintf("[#%d] Issue updated", issueID), summary, nil)
}

func (n *MailNotifier) NotifyIssueClosed(ctx context.Context, issueID int64, reason string) {
	n.dispatch(ctx, issueID, "closed",
		fmt.Sprintf("[#%d] Issue closed", issueID), reason, nil)
}

func (n *MailNotifier) NotifyAssignment(ctx context.Context, issueID int64, userIDs []int64) {
	for _, uid := range userIDs {
		u, err := n.store.GetUser(ctx, uid)
		if err != nil {
			n.log.Warn("notify: resolve assignee", zap.Int64("user_id", uid), zap.Error(err))
			continue
		}
		if err := n.store.EnqueueMail(ctx, issueID, u.Email,
			fmt.Sprintf("[#%d] Issue assigned to you", issueID),
			"You were assigned to this issue.", "assigned"); err != nil {
			n.log.Error("notify: enqueue assignment mail",
				zap.Int64("issue_id", issueID), zap.Int64("user_id", uid), zap.Error(err))
		}
	}
}

// NotifyEmailConverted tells the senders of emails that were converted into
// an issue where their conversation went. Returns the addresses queued.
func (n *MailNotifier) NotifyEmailConverted(ctx context.Context, issueID int64, senders []string) []string {
	issue, err := n.store.GetIssue(ctx, issueID)
	if err != nil {
		n.log.Error("notify: load issue", zap.Int64("issue_id", issueID), zap.Error(err))
		return nil
	}
	var queued []string
	seen := make(map[string]bool)
	for _, addr := range senders {
		key := strings.ToLower(strings.TrimSpace(addr))
		if key == "" || seen[key] {
			continue
		}
		if !n.filter.ShouldEmailAddress(ctx, issue.ProjectID, addr) {
			continue
		}
		if err := n.store.EnqueueMail(ctx, issueID, addr,
			fmt.Sprintf("[#%d] Issue created", issueID),
			"Your email was converted into this issue.", "converted"); err != nil {
			n.log.Error("notify: enqueue conversion mail",
				zap.Int64("issue_id", issueID), zap.String("recipient", addr), zap.Error(err))
			continue
		}
		seen[key] = true
		queued = append(queued, addr)
	}
	return queued
}

// NotifyCustomerIssue sends the customer contact the new-issue confirmation.
func (n *MailNotifier) NotifyCustomerIssue(ctx context.Context, issueID int64, contactID string) {
	if err := n.store.EnqueueMail(ctx, issueID, "contact:"+contactID,
		fmt.Sprintf("[#%d] Issue created", issueID),
		"A new issue was filed for your account.", "customer_created"); err != nil {
		n.log.Error("notify: enqueue customer confirmation",
			zap.Int64("issue_id", issueID), zap.Error(err))
	}
}

func (n *MailNotifier) NotifyCustomerContact(ctx context.Context, issueID int64, contactID, reason string) {
	n.log.Info("customer contact notification",
		zap.Int64("issue_id", issueID),
		zap.String("contact_id", contactID))
	if err := n.store.EnqueueMail(ctx, issueID, "contact:"+contactID,
		fmt.Sprintf("[#%d] Issue closed", issueID), reason, "customer_closed"); err != nil {
		n.log.Error("notify: enqueue customer contact mail",
			zap.Int64("issue_id", issueID), zap.Error(err))
	}
}
