package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/trkdev/trk/internal/models"
)

// requireManager checks the actor holds at least a manager role in the
// project. Global records (projectID 0) are admin-console territory and
// pass through.
func (s *Server) requireManager(r *http.Request, projectID int64) bool {
	if projectID == 0 {
		return true
	}
	role, err := s.store.RoleByUser(r.Context(), projectID, actor(r))
	return err == nil && role >= models.RoleManager
}

// --- Email accounts ---

func (s *Server) listEmailAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListEmailAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) getEmailAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	account, err := s.store.GetEmailAccount(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) createEmailAccount(w http.ResponseWriter, r *http.Request) {
	var a models.EmailAccount
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if a.ProjectID == 0 || a.Hostname == "" {
		writeError(w, http.StatusBadRequest, "project id and hostname are required")
		return
	}
	if !s.requireManager(r, a.ProjectID) {
		writeError(w, http.StatusForbidden, "manager role required")
		return
	}
	if err := s.store.CreateEmailAccount(r.Context(), &a); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) updateEmailAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := s.store.GetEmailAccount(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.requireManager(r, existing.ProjectID) {
		writeError(w, http.StatusForbidden, "manager role required")
		return
	}

	var a models.EmailAccount
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	a.ID = id
	if a.ProjectID == 0 {
		a.ProjectID = existing.ProjectID
	}
	if err := s.store.UpdateEmailAccount(r.Context(), &a); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) deleteEmailAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := s.store.GetEmailAccount(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.requireManager(r, existing.ProjectID) {
		writeError(w, http.StatusForbidden, "manager role required")
		return
	}
	if err := s.store.DeleteEmailAccount(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Link filters ---

func (s *Server) listLinkFilters(w http.ResponseWriter, r *http.Request) {
	filters, err := s.store.ListLinkFilters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, filters)
}

func (s *Server) createLinkFilter(w http.ResponseWriter, r *http.Request) {
	var f models.LinkFilter
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if f.Pattern == "" {
		writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	if !s.requireManager(r, f.ProjectID) {
		writeError(w, http.StatusForbidden, "manager role required")
		return
	}
	if err := s.store.CreateLinkFilter(r.Context(), &f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) updateLinkFilter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := s.store.GetLinkFilter(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.requireManager(r, existing.ProjectID) {
		writeError(w, http.StatusForbidden, "manager role required")
		return
	}

	var f models.LinkFilter
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	f.ID = id
	if err := s.store.UpdateLinkFilter(r.Context(), &f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) deleteLinkFilter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := s.store.GetLinkFilter(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.requireManager(r, existing.ProjectID) {
		writeError(w, http.StatusForbidden, "manager role required")
		return
	}
	if err := s.store.DeleteLinkFilter(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
