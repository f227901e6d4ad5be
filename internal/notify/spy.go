package notify

import (
	"context"
	"sync"
)

// Event is one recorded notification, used by the Spy.
type Event struct {
	Kind      string
	IssueID   int64
	Detail    string
	Exclude   []string
	UserIDs   []int64
	Addresses []string
}

// Spy records notifications instead of dispatching them. Safe for
// concurrent use.
type Spy struct {
	mu     sync.Mutex
	Events []Event
}

var _ Notifier = (*Spy)(nil)

func (s *Spy) record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, e)
}

// Count returns the number of recorded events of the given kind.
func (s *Spy) Count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (s *Spy) NotifyNewIssue(_ context.Context, issueID int64, exclude []string) {
	s.record(Event{Kind: "new_issue", IssueID: issueID, Exclude: exclude})
}

func (s *Spy) NotifyStatusChange(_ context.Context, issueID, _, _ int64) {
	s.record(Event{Kind: "status_change", IssueID: issueID})
}

func (s *Spy) NotifyIssueUpdated(_ context.Context, issueID, _ int64, summary string) {
	s.record(Event{Kind: "updated", IssueID: issueID, Detail: summary})
}

func (s *Spy) NotifyIssueClosed(_ context.Context, issueID int64, reason string) {
	s.record(Event{Kind: "closed", IssueID: issueID, Detail: reason})
}

func (s *Spy) NotifyAssignment(_ context.Context, issueID int64, userIDs []int64) {
	s.record(Event{Kind: "assigned", IssueID: issueID, UserIDs: userIDs})
}

func (s *Spy) NotifyCustomerContact(_ context.Context, issueID int64, contactID, reason string) {
	s.record(Event{Kind: "customer_contact", IssueID: issueID, Detail: contactID})
}

func (s *Spy) NotifyEmailConverted(_ context.Context, issueID int64, senders []string) []string {
	s.record(Event{Kind: "converted", IssueID: issueID, Addresses: senders})
	return senders
}

func (s *Spy) NotifyCustomerIssue(_ context.Context, issueID int64, contactID string) {
	s.record(Event{Kind: "customer_created", IssueID: issueID, Detail: contactID})
}
