// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/vodub/vodub/internal/service"
)

type subscriptionRequest struct {
	ClientID string   `json:"clientId"`
	JobIDs   []string `json:"jobIds"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSubscription(w, r)
	if !ok {
		return
	}
	for _, jobID := range req.JobIDs {
		if err := s.hub.Subscribe(req.ClientID, jobID); err != nil {
			writeError(w, &service.ValidationError{Field: "clientId", Reason: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribed": req.JobIDs})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSubscription(w, r)
	if !ok {
		return
	}
	for _, jobID := range req.JobIDs {
		if err := s.hub.Unsubscribe(req.ClientID, jobID); err != nil {
			writeError(w, &service.ValidationError{Field: "clientId", Reason: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"unsubscribed": req.JobIDs})
}

func decodeSubscription(w http.ResponseWriter, r *http.Request) (subscriptionRequest, bool) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &service.ValidationError{Field: "body", Reason: "malformed JSON"})
		return req, false
	}
	if req.ClientID == "" {
		writeError(w, &service.ValidationError{Field: "clientId", Reason: "required"})
		return req, false
	}
	if len(req.JobIDs) == 0 {
		writeError(w, &service.ValidationError{Field: "jobIds", Reason: "at least one job id required"})
		return req, false
	}
	return req, true
}
