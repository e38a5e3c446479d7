// Package worker defines the crawler-facing API: registration, heartbeats,
// config pulls, run lifecycle, log shipping, and the command mailbox. Every
// endpoint authenticates with the API key middleware.
package worker

import (
	"time"
)

// RegisterRequest binds a crawler identity to the presenting API key. An
// empty name gets a generated crawler-N default on first registration.
type RegisterRequest struct {
	Name       string `json:"name,omitempty" binding:"omitempty,max=100"`
	DeviceName string `json:"device_name,omitempty" binding:"omitempty,max=100"`
}

// RegisterResponse echoes the bound crawler.
type RegisterResponse struct {
	CrawlerID int64  `json:"crawler_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Created   bool   `json:"created"`
}

// HeartbeatRequest carries one liveness report.
type HeartbeatRequest struct {
	Status     string                 `json:"status,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	DeviceName string                 `json:"device_name,omitempty" binding:"omitempty,max=100"`
}

// FinishRunRequest closes a run. An empty status means success.
type FinishRunRequest struct {
	RunID  int64  `json:"run_id" binding:"required"`
	Status string `json:"status,omitempty" binding:"omitempty,oneof=success failed"`
}

// LogLine is one shipped log record.
type LogLine struct {
	Level      string `json:"level,omitempty"`
	Message    string `json:"message" binding:"required"`
	RunID      *int64 `json:"run_id,omitempty"`
	DeviceName string `json:"device_name,omitempty" binding:"omitempty,max=100"`
}

// IngestLogsRequest ships one or more log lines. Single-line submissions may
// inline the fields instead of using the lines array.
type IngestLogsRequest struct {
	Lines []LogLine `json:"lines,omitempty"`

	Level      string `json:"level,omitempty"`
	Message    string `json:"message,omitempty"`
	RunID      *int64 `json:"run_id,omitempty"`
	DeviceName string `json:"device_name,omitempty" binding:"omitempty,max=100"`
}

// AckRequest reports a command outcome. An empty status means success.
type AckRequest struct {
	Status string                 `json:"status,omitempty"`
	Result map[string]interface{} `json:"result,omitempty"`
}

// CommandResponse is one delivered command.
type CommandResponse struct {
	ID        int64      `json:"id"`
	Command   string     `json:"command"`
	Payload   *string    `json:"payload,omitempty"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// RunResponse is the run state echoed back to the worker.
type RunResponse struct {
	ID        int64      `json:"id"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
