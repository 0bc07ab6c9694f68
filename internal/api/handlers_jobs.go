// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/service"
	"github.com/vodub/vodub/internal/store"
	"github.com/vodub/vodub/internal/types"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req service.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &service.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}
	job, err := s.svc.CreateJob(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

type listResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pageParams(q.Get("limit"), q.Get("offset"))

	filter := store.ListJobsFilter{
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	}
	if raw := q.Get("status"); raw != "" {
		status, err := types.ParseJobStatus(raw)
		if err != nil {
			writeError(w, &service.ValidationError{Field: "status", Reason: "unknown status " + raw})
			return
		}
		filter.Status = &status
	}

	jobs, total, err := s.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	writeJSON(w, http.StatusOK, listResponse{Jobs: jobs, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	detail, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type resumeResponse struct {
	*model.Job
	ResumedFrom string `json:"resumedFrom"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	job, resumedFrom, err := s.svc.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resumeResponse{Job: job, ResumedFrom: resumedFrom})
}

type controlRequest struct {
	Action   string `json:"action"`
	Priority *int   `json:"priority,omitempty"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &service.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}
	job, err := s.svc.Control(r.Context(), chi.URLParam(r, "id"), req.Action, req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type logsResponse struct {
	Events []model.JobEvent `json:"events"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pageParams(q.Get("limit"), q.Get("offset"))

	events, total, err := s.svc.Logs(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []model.JobEvent{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Events: events, Total: total, Limit: limit, Offset: offset})
}

func pageParams(rawLimit, rawOffset string) (int, int) {
	limit := defaultPageSize
	if n, err := strconv.Atoi(rawLimit); err == nil && n > 0 {
		limit = n
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := 0
	if n, err := strconv.Atoi(rawOffset); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}
