// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/vodub/vodub/internal/auth"
	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/service"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &service.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, &service.ValidationError{Field: "username", Reason: "username and password required"})
		return
	}
	token, user, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, auth.ErrUnauthorized)
		return
	}
	if err := s.auth.Logout(r.Context(), id.SessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, auth.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":       id.UserID,
		"username": id.Username,
		"role":     id.Role,
	})
}
