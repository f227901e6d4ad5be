package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/issue"
	"github.com/trkdev/trk/internal/models"
	"github.com/trkdev/trk/internal/notify"
	"github.com/trkdev/trk/internal/store"
	"github.com/trkdev/trk/internal/workflow"
)

type apiFixture struct {
	ts  *httptest.Server
	st  *store.SQLiteStore
	spy *notify.Spy

	project      *models.Project
	openStatus   int64
	closedStatus int64
	manager      *models.User
	dev          *models.User
	outsider     *models.User
}

func setupTestServer(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() })

	log := zap.NewNop()
	wf := workflow.NewDispatcher(st, log)
	spy := &notify.Spy{}
	m := issue.NewManager(st, wf, spy, log)
	srv := NewServer(st, m, wf, log)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	open := &models.Status{Title: "open"}
	require.NoError(t, st.CreateStatus(ctx, open))
	closed := &models.Status{Title: "closed", IsClosed: true}
	require.NoError(t, st.CreateStatus(ctx, closed))

	p := &models.Project{Name: "helpdesk", InitialStatusID: open.ID}
	require.NoError(t, st.CreateProject(ctx, p))

	// First user takes id 1, the system account.
	system := &models.User{FullName: "System Account", Email: "system@trk.local", Active: true}
	require.NoError(t, st.CreateUser(ctx, system))
	require.Equal(t, models.SystemUserID, system.ID)

	mgr := &models.User{FullName: "Mandy Manager", Email: "mandy@example.com", Active: true}
	require.NoError(t, st.CreateUser(ctx, mgr))
	require.NoError(t, st.SetRole(ctx, p.ID, mgr.ID, models.RoleManager))

	dev := &models.User{FullName: "Dev One", Email: "dev@example.com", Active: true}
	require.NoError(t, st.CreateUser(ctx, dev))
	require.NoError(t, st.SetRole(ctx, p.ID, dev.ID, models.RoleDeveloper))

	out := &models.User{FullName: "Outsider", Email: "out@example.com", Active: true}
	require.NoError(t, st.CreateUser(ctx, out))

	return &apiFixture{
		ts:           ts,
		st:           st,
		spy:          spy,
		project:      p,
		openStatus:   open.ID,
		closedStatus: closed.ID,
		manager:      mgr,
		dev:          dev,
		outsider:     out,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, actorID int64, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actorID != 0 {
		req.Header.Set("X-Actor-ID", fmt.Sprintf("%d", actorID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (f *apiFixture) createIssue(t *testing.T, actorID int64, body map[string]any) int64 {
	t.Helper()
	if body == nil {
		body = map[string]any{}
	}
	if _, ok := body["project_id"]; !ok {
		body["project_id"] = f.project.ID
	}
	if _, ok := body["summary"]; !ok {
		body["summary"] = "printer on fire"
	}
	resp := f.do(t, "POST", "/api/v1/issues", actorID, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out struct {
		ID int64 `json:"id"`
	}
	decode(t, resp, &out)
	require.NotZero(t, out.ID)
	return out.ID
}

func TestProjectEndpoints(t *testing.T) {
	f := setupTestServer(t)

	resp := f.do(t, "GET", "/api/v1/projects", 0, nil)
	var projects []*models.Project
	decode(t, resp, &projects)
	require.Len(t, projects, 1)
	assert.Equal(t, "helpdesk", projects[0].Name)

	resp = f.do(t, "GET", fmt.Sprintf("/api/v1/projects/%d", f.project.ID), 0, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(t, "GET", "/api/v1/projects/9999", 0, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestIssueLifecycle(t *testing.T) {
	f := setupTestServer(t)

	id := f.createIssue(t, f.dev.ID, nil)

	resp := f.do(t, "GET", fmt.Sprintf("/api/v1/issues/%d", id), f.dev.ID, nil)
	var got models.Issue
	decode(t, resp, &got)
	assert.Equal(t, "printer on fire", got.Summary)
	assert.Equal(t, f.openStatus, got.StatusID)
	assert.Equal(t, f.dev.ID, got.ReporterID)

	resp = f.do(t, "POST", fmt.Sprintf("/api/v1/issues/%d/status", id), f.dev.ID,
		map[string]any{"status_id": f.closedStatus, "notify": true})
	var res map[string]any
	decode(t, resp, &res)
	assert.Equal(t, "success", res["result"])

	// Same status again is a no-change, not a failure.
	resp = f.do(t, "POST", fmt.Sprintf("/api/v1/issues/%d/status", id), f.dev.ID,
		map[string]any{"status_id": f.closedStatus})
	decode(t, resp, &res)
	assert.Equal(t, "no change", res["result"])

	resp = f.do(t, "POST", fmt.Sprintf("/api/v1/issues/%d/close", id), f.dev.ID,
		map[string]any{"status_id": f.closedStatus, "reason": "fixed it"})
	decode(t, resp, &res)
	assert.Equal(t, "success", res["result"])

	resp = f.do(t, "GET", fmt.Sprintf("/api/v1/issues/%d/notes", id), f.dev.ID, nil)
	var notes []*models.Note
	decode(t, resp, &notes)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Body, "fixed it")

	resp = f.do(t, "GET", fmt.Sprintf("/api/v1/issues/%d/history", id), f.dev.ID, nil)
	var entries []*models.HistoryEntry
	decode(t, resp, &entries)
	assert.NotEmpty(t, entries)
}

func TestIssueList_Filters(t *testing.T) {
	f := setupTestServer(t)

	f.createIssue(t, f.dev.ID, map[string]any{"summary": "first", "priority_id": 1})
	f.createIssue(t, f.dev.ID, map[string]any{"summary": "second", "priority_id": 2})

	resp := f.do(t, "GET", fmt.Sprintf("/api/v1/issues?project_id=%d&priority_id=2", f.project.ID), f.dev.ID, nil)
	var issues []*models.Issue
	decode(t, resp, &issues)
	require.Len(t, issues, 1)
	assert.Equal(t, "second", issues[0].Summary)
}

func TestUpdateIssue(t *testing.T) {
	f := setupTestServer(t)
	id := f.createIssue(t, f.dev.ID, nil)

	resp := f.do(t, "PUT", fmt.Sprintf("/api/v1/issues/%d", id), f.dev.ID, map[string]any{
		"summary":     "printer on fire",
		"priority_id": 3,
		"status_id":   f.openStatus,
	})
	var res map[string]any
	decode(t, resp, &res)
	assert.Equal(t, "success", res["result"])

	resp = f.do(t, "GET", fmt.Sprintf("/api/v1/issues/%d", id), f.dev.ID, nil)
	var got models.Issue
	decode(t, resp, &got)
	assert.Equal(t, int64(3), got.PriorityID)
}

func TestUpdateIssue_BadAssociationsReported(t *testing.T) {
	f := setupTestServer(t)
	id := f.createIssue(t, f.dev.ID, nil)

	resp := f.do(t, "PUT", fmt.Sprintf("/api/v1/issues/%d", id), f.dev.ID, map[string]any{
		"summary":      "printer on fire",
		"status_id":    f.openStatus,
		"associations": []int64{9999},
	})
	var res struct {
		Result      string            `json:"result"`
		FieldErrors map[string]string `json:"field_errors"`
	}
	decode(t, resp, &res)
	assert.Contains(t, res.FieldErrors["associations"], "9999")
}

func TestIssueAccess(t *testing.T) {
	f := setupTestServer(t)
	id := f.createIssue(t, f.dev.ID, nil)

	// No role in the project means no access.
	resp := f.do(t, "GET", fmt.Sprintf("/api/v1/issues/%d", id), f.outsider.ID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	// A missing issue is not an access failure.
	resp = f.do(t, "GET", "/api/v1/issues/424242", f.dev.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAssigneesEndpoint(t *testing.T) {
	f := setupTestServer(t)
	id := f.createIssue(t, f.dev.ID, nil)

	resp := f.do(t, "PUT", fmt.Sprintf("/api/v1/issues/%d/assignees", id), f.manager.ID,
		map[string]any{"assignees": []int64{f.dev.ID}})
	var res map[string]any
	decode(t, resp, &res)
	assert.Equal(t, "success", res["result"])

	ids, err := f.st.AssignedUserIDs(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.dev.ID}, ids)
}

func TestDuplicateEndpoints(t *testing.T) {
	f := setupTestServer(t)
	a := f.createIssue(t, f.dev.ID, map[string]any{"summary": "dup"})
	b := f.createIssue(t, f.dev.ID, map[string]any{"summary": "original"})

	resp := f.do(t, "POST", fmt.Sprintf("/api/v1/issues/%d/duplicate", a), f.dev.ID,
		map[string]any{"duplicate_of": b})
	var res map[string]any
	decode(t, resp, &res)
	assert.Equal(t, "success", res["result"])

	// Marking against a missing issue fails with a conflict.
	resp = f.do(t, "POST", fmt.Sprintf("/api/v1/issues/%d/duplicate", a), f.dev.ID,
		map[string]any{"duplicate_of": 9999})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(t, "DELETE", fmt.Sprintf("/api/v1/issues/%d/duplicate", a), f.dev.ID, nil)
	decode(t, resp, &res)
	assert.Equal(t, "success", res["result"])
}

func TestQuarantineEndpoints(t *testing.T) {
	f := setupTestServer(t)
	id := f.createIssue(t, f.dev.ID, nil)

	resp := f.do(t, "GET", fmt.Sprintf("/api/v1/issues/%d/quarantine", id), f.dev.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	expiration := time.Now().UTC().Add(time.Hour)
	resp = f.do(t, "PUT", fmt.Sprintf("/api/v1/issues/%d/quarantine", id), f.manager.ID,
		map[string]any{"status": 1, "expiration": expiration})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(t, "GET", fmt.Sprintf("/api/v1/issues/%d/quarantine", id), f.dev.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var q models.Quarantine
	decode(t, resp, &q)
	assert.Equal(t, id, q.IssueID)
	assert.Equal(t, 1, q.Status)

	// Lifting the quarantine makes the record read as absent.
	resp = f.do(t, "PUT", fmt.Sprintf("/api/v1/issues/%d/quarantine", id), f.manager.ID,
		map[string]any{"status": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(t, "GET", fmt.Sprintf("/api/v1/issues/%d/quarantine", id), f.dev.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestBulkUpdate_RequiresManager(t *testing.T) {
	f := setupTestServer(t)
	id := f.createIssue(t, f.dev.ID, nil)

	body := map[string]any{
		"project_id": f.project.ID,
		"issue_ids":  []int64{id},
		"status_id":  f.closedStatus,
	}
	resp := f.do(t, "POST", "/api/v1/issues/bulk-update", f.dev.ID, body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(t, "POST", "/api/v1/issues/bulk-update", f.manager.ID, body)
	var res map[string]any
	decode(t, resp, &res)
	assert.Equal(t, "success", res["result"])
}

func TestEmailAccountCRUD(t *testing.T) {
	f := setupTestServer(t)

	account := map[string]any{
		"ProjectID": f.project.ID,
		"Type":      "imap",
		"Hostname":  "mail.example.com",
		"Port":      993,
		"Username":  "support",
	}

	// Developers cannot administer accounts.
	resp := f.do(t, "POST", "/api/v1/admin/email-accounts", f.dev.ID, account)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(t, "POST", "/api/v1/admin/email-accounts", f.manager.ID, account)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.EmailAccount
	decode(t, resp, &created)
	require.NotZero(t, created.ID)

	resp = f.do(t, "GET", fmt.Sprintf("/api/v1/admin/email-accounts/%d", created.ID), f.manager.ID, nil)
	var got models.EmailAccount
	decode(t, resp, &got)
	assert.Equal(t, "mail.example.com", got.Hostname)

	got.Hostname = "mail2.example.com"
	resp = f.do(t, "PUT", fmt.Sprintf("/api/v1/admin/email-accounts/%d", created.ID), f.manager.ID, got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(t, "GET", "/api/v1/admin/email-accounts", f.manager.ID, nil)
	var accounts []*models.EmailAccount
	decode(t, resp, &accounts)
	require.Len(t, accounts, 1)
	assert.Equal(t, "mail2.example.com", accounts[0].Hostname)

	resp = f.do(t, "DELETE", fmt.Sprintf("/api/v1/admin/email-accounts/%d", created.ID), f.manager.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(t, "GET", fmt.Sprintf("/api/v1/admin/email-accounts/%d", created.ID), f.manager.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestLinkFilterCRUD(t *testing.T) {
	f := setupTestServer(t)

	filter := map[string]any{
		"ProjectID":   f.project.ID,
		"Pattern":     `bug (\d+)`,
		"Replacement": `<a href="/bugs/$1">bug $1</a>`,
		"MinRole":     int(models.RoleViewer),
	}

	resp := f.do(t, "POST", "/api/v1/admin/link-filters", f.dev.ID, filter)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(t, "POST", "/api/v1/admin/link-filters", f.manager.ID, filter)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.LinkFilter
	decode(t, resp, &created)
	require.NotZero(t, created.ID)

	resp = f.do(t, "GET", "/api/v1/admin/link-filters", f.manager.ID, nil)
	var filters []*models.LinkFilter
	decode(t, resp, &filters)
	require.Len(t, filters, 1)

	created.Description = "bug tracker links"
	resp = f.do(t, "PUT", fmt.Sprintf("/api/v1/admin/link-filters/%d", created.ID), f.manager.ID, created)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// Project-scoped listing sees the filter for members with the role.
	resp = f.do(t, "GET", fmt.Sprintf("/api/v1/projects/%d/link-filters", f.project.ID), f.dev.ID, nil)
	decode(t, resp, &filters)
	require.Len(t, filters, 1)
	assert.Equal(t, "bug tracker links", filters[0].Description)

	resp = f.do(t, "DELETE", fmt.Sprintf("/api/v1/admin/link-filters/%d", created.ID), f.manager.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestCORSHeaders(t *testing.T) {
	f := setupTestServer(t)

	req, err := http.NewRequest("OPTIONS", f.ts.URL+"/api/v1/issues", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-Actor-ID")
}
