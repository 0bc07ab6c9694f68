// SPDX-License-Identifier: MIT

// Package health drives the /healthz dependency map: queue broker,
// database and filesystem, each behind a named Checker.
package health

import (
	"context"
	"time"
)

// Status is the per-dependency and overall health verdict.
type Status string

const (
	StatusOK        Status = "ok"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one dependency's verdict.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the /healthz body.
type Response struct {
	Status       Status                 `json:"status"`
	Uptime       string                 `json:"uptime"`
	Timestamp    time.Time              `json:"timestamp"`
	Dependencies map[string]CheckResult `json:"dependencies"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates checkers into the overall verdict.
type Manager struct {
	started  time.Time
	checkers []Checker
}

func NewManager() *Manager {
	return &Manager{started: time.Now()}
}

// Register adds a checker. Not safe concurrently with Check; register
// everything during startup.
func (m *Manager) Register(c Checker) {
	m.checkers = append(m.checkers, c)
}

// Check probes every dependency. Any unhealthy dependency makes the
// whole verdict unhealthy; any degraded one degrades it.
func (m *Manager) Check(ctx context.Context) Response {
	resp := Response{
		Status:       StatusOK,
		Uptime:       time.Since(m.started).Round(time.Second).String(),
		Timestamp:    time.Now().UTC(),
		Dependencies: make(map[string]CheckResult, len(m.checkers)),
	}
	for _, c := range m.checkers {
		result := c.Check(ctx)
		resp.Dependencies[c.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case StatusDegraded:
			if resp.Status == StatusOK {
				resp.Status = StatusDegraded
			}
		}
	}
	return resp
}
