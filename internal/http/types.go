package http

import (
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/syncer"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status     string         `json:"status"` // idle, degraded or unknown
	Version    string         `json:"version,omitempty"`
	Branch     string         `json:"branch"`
	LastCycle  *syncer.Result `json:"last_cycle,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// TriggerResponse is returned by endpoints that request a cycle.
type TriggerResponse struct {
	// Status is queued, coalesced, ignored or pong.
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string         `json:"content"`
	FindingsCount int            `json:"findings_count"`
	ByRule        map[string]int `json:"by_rule,omitempty"`
}
