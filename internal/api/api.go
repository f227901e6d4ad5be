// Package api provides the REST handlers over the issue manager and store.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/issue"
	"github.com/trkdev/trk/internal/models"
	"github.com/trkdev/trk/internal/store"
	"github.com/trkdev/trk/internal/workflow"
)

// Server provides the REST API handlers.
type Server struct {
	store   store.Store
	manager *issue.Manager
	wf      *workflow.Dispatcher
	log     *zap.Logger
}

func NewServer(s store.Store, m *issue.Manager, wf *workflow.Dispatcher, log *zap.Logger) *Server {
	return &Server{store: s, manager: m, wf: wf, log: log}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/projects", s.listProjects)
	mux.HandleFunc("POST /api/v1/projects", s.createProject)
	mux.HandleFunc("GET /api/v1/projects/{id}", s.getProject)
	mux.HandleFunc("GET /api/v1/projects/{id}/link-filters", s.projectLinkFilters)

	mux.HandleFunc("GET /api/v1/issues", s.listIssues)
	mux.HandleFunc("POST /api/v1/issues", s.createIssue)
	mux.HandleFunc("POST /api/v1/issues/bulk-update", s.bulkUpdate)
	mux.HandleFunc("GET /api/v1/issues/quarantined", s.listQuarantined)
	mux.HandleFunc("GET /api/v1/issues/{id}", s.getIssue)
	mux.HandleFunc("PUT /api/v1/issues/{id}", s.updateIssue)
	mux.HandleFunc("POST /api/v1/issues/{id}/status", s.setStatus)
	mux.HandleFunc("POST /api/v1/issues/{id}/close", s.closeIssue)
	mux.HandleFunc("PUT /api/v1/issues/{id}/assignees", s.setAssignees)
	mux.HandleFunc("POST /api/v1/issues/{id}/duplicate", s.markDuplicate)
	mux.HandleFunc("DELETE /api/v1/issues/{id}/duplicate", s.clearDuplicate)
	mux.HandleFunc("PUT /api/v1/issues/{id}/quarantine", s.setQuarantine)
	mux.HandleFunc("GET /api/v1/issues/{id}/quarantine", s.getQuarantine)
	mux.HandleFunc("GET /api/v1/issues/{id}/history", s.listHistory)
	mux.HandleFunc("GET /api/v1/issues/{id}/notes", s.listNotes)
	mux.HandleFunc("GET /api/v1/issues/{id}/emails", s.listEmails)

	mux.HandleFunc("GET /api/v1/admin/email-accounts", s.listEmailAccounts)
	mux.HandleFunc("POST /api/v1/admin/email-accounts", s.createEmailAccount)
	mux.HandleFunc("GET /api/v1/admin/email-accounts/{id}", s.getEmailAccount)
	mux.HandleFunc("PUT /api/v1/admin/email-accounts/{id}", s.updateEmailAccount)
	mux.HandleFunc("DELETE /api/v1/admin/email-accounts/{id}", s.deleteEmailAccount)

	mux.HandleFunc("GET /api/v1/admin/link-filters", s.listLinkFilters)
	mux.HandleFunc("POST /api/v1/admin/link-filters", s.createLinkFilter)
	mux.HandleFunc("PUT /api/v1/admin/link-filters/{id}", s.updateLinkFilter)
	mux.HandleFunc("DELETE /api/v1/admin/link-filters/{id}", s.deleteLinkFilter)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Actor-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeResult maps a lifecycle Result onto an HTTP response.
func writeResult(w http.ResponseWriter, res issue.Result, extra map[string]any) {
	switch {
	case res.Failed():
		writeError(w, http.StatusConflict, res.Reason())
	default:
		body := map[string]any{"result": res.String()}
		for k, v := range extra {
			body[k] = v
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// actor resolves the acting user from the X-Actor-ID header, defaulting to
// the system account.
func actor(r *http.Request) int64 {
	if v := r.Header.Get("X-Actor-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			return id
		}
	}
	return models.SystemUserID
}

func queryID(r *http.Request, key string) int64 {
	id, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return id
}

// --- Projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.store.CreateProject(r.Context(), &p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// projectLinkFilters returns the filters visible to the actor in a project,
// stored ones plus any the project's workflow backend contributes.
func (s *Server) projectLinkFilters(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	role, err := s.store.RoleByUser(r.Context(), id, actor(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	filters, err := s.store.LinkFiltersForProject(r.Context(), id, role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	filters = append(filters, s.wf.LinkFilters(r.Context(), id)...)
	writeJSON(w, http.StatusOK, filters)
}

// --- Issues ---

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	filter := store.IssueListFilter{
		ProjectID:  queryID(r, "project_id"),
		StatusID:   queryID(r, "status_id"),
		PriorityID: queryID(r, "priority_id"),
		CategoryID: queryID(r, "category_id"),
		AssigneeID: queryID(r, "assignee_id"),
	}
	issues, err := s.store.ListIssues(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	c := issue.NewCache()
	if !s.manager.CanAccess(r.Context(), c, id, actor(r)) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}
	i, err := s.store.GetIssue(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, i)
}

type createIssueRequest struct {
	ProjectID             int64            `json:"project_id"`
	Summary               string           `json:"summary"`
	Description           string           `json:"description"`
	CategoryID            int64            `json:"category_id"`
	PriorityID            int64            `json:"priority_id"`
	ReleaseID             int64            `json:"release_id"`
	GroupID               int64            `json:"group_id"`
	EstimatedHours        float64          `json:"estimated_hours"`
	Private               bool             `json:"private"`
	CustomerID            string           `json:"customer_id"`
	ContactID             string           `json:"contact_id"`
	Assignees             []int64          `json:"assignees"`
	NotificationAddresses []string         `json:"notification_addresses"`
	CustomFields          map[int64]string `json:"custom_fields"`
	NotifySenders         []string         `json:"notify_senders"`
	NotifyCustomer        bool             `json:"notify_customer"`
	SenderEmail           string           `json:"sender_email"`
	RootMessageID         string           `json:"root_message_id"`
	FromEmail             bool             `json:"from_email"`
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	var req createIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ProjectID == 0 || req.Summary == "" {
		writeError(w, http.StatusBadRequest, "project_id and summary are required")
		return
	}

	params := issue.CreateParams{
		ProjectID:             req.ProjectID,
		ReporterID:            actor(r),
		Summary:               req.Summary,
		Description:           req.Description,
		CategoryID:            req.CategoryID,
		PriorityID:            req.PriorityID,
		ReleaseID:             req.ReleaseID,
		GroupID:               req.GroupID,
		EstimatedHours:        req.EstimatedHours,
		Private:               req.Private,
		CustomerID:            req.CustomerID,
		ContactID:             req.ContactID,
		Assignees:             req.Assignees,
		NotificationAddresses: req.NotificationAddresses,
		CustomFields:          req.CustomFields,
		NotifySenders:         req.NotifySenders,
		NotifyCustomer:        req.NotifyCustomer,
		SenderEmail:           req.SenderEmail,
		RootMessageID:         req.RootMessageID,
	}

	c := issue.NewCache()
	var id int64
	var res issue.Result
	if req.FromEmail {
		id, res = s.manager.CreateFromEmail(r.Context(), c, params)
	} else {
		id, res = s.manager.CreateFromForm(r.Context(), c, params)
	}
	if res.Failed() {
		writeError(w, http.StatusConflict, res.Reason())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

type updateIssueRequest struct {
	Summary            string     `json:"summary"`
	Description        string     `json:"description"`
	CategoryID         int64      `json:"category_id"`
	PriorityID         int64      `json:"priority_id"`
	StatusID           int64      `json:"status_id"`
	ReleaseID          int64      `json:"release_id"`
	ResolutionID       int64      `json:"resolution_id"`
	GroupID            int64      `json:"group_id"`
	EstimatedHours     float64    `json:"estimated_hours"`
	PercentComplete    int        `json:"percent_complete"`
	Private            bool       `json:"private"`
	ExpectedResolution *time.Time `json:"expected_resolution"`
	Associations       *[]int64   `json:"associations"`
	Assignees          *[]int64   `json:"assignees"`
	MoveToProjectID    int64      `json:"move_to_project_id"`
	Notify             bool       `json:"notify"`
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req updateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	params := issue.UpdateParams{
		Summary:            req.Summary,
		Description:        req.Description,
		CategoryID:         req.CategoryID,
		PriorityID:         req.PriorityID,
		StatusID:           req.StatusID,
		ReleaseID:          req.ReleaseID,
		ResolutionID:       req.ResolutionID,
		GroupID:            req.GroupID,
		EstimatedHours:     req.EstimatedHours,
		PercentComplete:    req.PercentComplete,
		Private:            req.Private,
		ExpectedResolution: req.ExpectedResolution,
		MoveToProjectID:    req.MoveToProjectID,
		Notify:             req.Notify,
	}
	if req.Associations != nil {
		params.Associations = *req.Associations
		params.HasAssociations = true
	}
	if req.Assignees != nil {
		params.Assignees = *req.Assignees
		params.HasAssignees = true
	}

	c := issue.NewCache()
	res, fieldErrors := s.manager.Update(r.Context(), c, id, actor(r), params)
	if res.Failed() {
		writeError(w, http.StatusConflict, res.Reason())
		return
	}
	writeResult(w, res, map[string]any{"field_errors": fieldErrors})
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		StatusID int64 `json:"status_id"`
		Notify   bool  `json:"notify"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res := s.manager.SetStatus(r.Context(), issue.NewCache(), id, req.StatusID, req.Notify)
	writeResult(w, res, nil)
}

func (s *Server) closeIssue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		StatusID     int64  `json:"status_id"`
		ResolutionID int64  `json:"resolution_id"`
		Reason       string `json:"reason"`
		NotifyTo     string `json:"notify_to"`
		Notify       bool   `json:"notify"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res := s.manager.Close(r.Context(), issue.NewCache(), issue.CloseParams{
		IssueID:      id,
		Actor:        actor(r),
		Notify:       req.Notify,
		ResolutionID: req.ResolutionID,
		StatusID:     req.StatusID,
		Reason:       req.Reason,
		NotifyTo:     req.NotifyTo,
	})
	writeResult(w, res, nil)
}

func (s *Server) setAssignees(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Assignees []int64 `json:"assignees"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res := s.manager.SetAssignees(r.Context(), issue.NewCache(), id, actor(r), req.Assignees)
	writeResult(w, res, nil)
}

func (s *Server) markDuplicate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		DuplicateOf int64  `json:"duplicate_of"`
		Comments    string `json:"comments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res := s.manager.MarkDuplicate(r.Context(), issue.NewCache(), id, req.DuplicateOf, actor(r), req.Comments)
	writeResult(w, res, nil)
}

func (s *Server) clearDuplicate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	res := s.manager.ClearDuplicate(r.Context(), issue.NewCache(), id, actor(r))
	writeResult(w, res, nil)
}

func (s *Server) setQuarantine(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Status     int        `json:"status"`
		Expiration *time.Time `json:"expiration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res := s.manager.SetQuarantine(r.Context(), issue.NewCache(), id, actor(r), req.Status, req.Expiration)
	writeResult(w, res, nil)
}

// getQuarantine returns the active quarantine record; lifted or expired
// records read as absent.
func (s *Server) getQuarantine(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	q, err := s.manager.GetQuarantine(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if q == nil {
		writeError(w, http.StatusNotFound, "issue is not quarantined")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) listQuarantined(w http.ResponseWriter, r *http.Request) {
	issues, err := s.manager.QuarantinedIssues(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) bulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID         int64    `json:"project_id"`
		IssueIDs          []int64  `json:"issue_ids"`
		Assignees         *[]int64 `json:"assignees"`
		StatusID          int64    `json:"status_id"`
		ReleaseID         int64    `json:"release_id"`
		PriorityID        int64    `json:"priority_id"`
		CategoryID        int64    `json:"category_id"`
		Close             bool     `json:"close"`
		CloseStatusID     int64    `json:"close_status_id"`
		CloseResolutionID int64    `json:"close_resolution_id"`
		CloseReason       string   `json:"close_reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params := issue.BulkUpdateParams{
		ProjectID:         req.ProjectID,
		IssueIDs:          req.IssueIDs,
		StatusID:          req.StatusID,
		ReleaseID:         req.ReleaseID,
		PriorityID:        req.PriorityID,
		CategoryID:        req.CategoryID,
		Close:             req.Close,
		CloseStatusID:     req.CloseStatusID,
		CloseResolutionID: req.CloseResolutionID,
		CloseReason:       req.CloseReason,
	}
	if req.Assignees != nil {
		params.Assignees = *req.Assignees
		params.HasAssignees = true
	}
	res := s.manager.BulkUpdate(r.Context(), issue.NewCache(), actor(r), params)
	if res.Failed() {
		writeError(w, http.StatusForbidden, res.Reason())
		return
	}
	writeResult(w, res, nil)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	entries, err := s.store.ListHistory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) listNotes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	notes, err := s.store.ListNotes(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) listEmails(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	emails, err := s.store.ListEmails(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, emails)
}
