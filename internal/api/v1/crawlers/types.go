// Package crawlers implements the operator endpoints for fleet management:
// listing and inspecting crawlers, editing retention and visibility, browsing
// runs, heartbeats, commands and logs, and managing API keys.
package crawlers

import (
	"encoding/json"
	"time"

	"watchpost/internal/core"
	"watchpost/internal/storage"
)

// CrawlerResponse is a crawler entity in API responses. Status is always the
// value derived from the last heartbeat at read time, not the stored column.
type CrawlerResponse struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Status           string          `json:"status"`
	StatusChangedAt  *time.Time      `json:"status_changed_at,omitempty"`
	GroupID          *int64          `json:"group_id,omitempty"`
	APIKeyID         *int64          `json:"api_key_id,omitempty"`
	LastHeartbeat    *time.Time      `json:"last_heartbeat,omitempty"`
	LastSourceIP     *string         `json:"last_source_ip,omitempty"`
	LastDeviceName   *string         `json:"last_device_name,omitempty"`
	HeartbeatPayload json.RawMessage `json:"heartbeat_payload,omitempty"`
	LogMaxLines      *int64          `json:"log_max_lines,omitempty"`
	LogMaxBytes      *int64          `json:"log_max_bytes,omitempty"`
	Pinned           bool            `json:"pinned"`
	IsPublic         bool            `json:"is_public"`
	PublicSlug       *string         `json:"public_slug,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func newCrawlerResponse(crawler *storage.Crawler, now time.Time) CrawlerResponse {
	resp := CrawlerResponse{
		ID:              crawler.ID,
		Name:            crawler.Name,
		Status:          core.DeriveStatus(crawler.LastHeartbeat, now),
		StatusChangedAt: crawler.StatusChangedAt,
		GroupID:         crawler.GroupID,
		APIKeyID:        crawler.APIKeyID,
		LastHeartbeat:   crawler.LastHeartbeat,
		LastSourceIP:    crawler.LastSourceIP,
		LastDeviceName:  crawler.LastDeviceName,
		LogMaxLines:     crawler.LogMaxLines,
		LogMaxBytes:     crawler.LogMaxBytes,
		Pinned:          crawler.PinnedAt != nil,
		IsPublic:        crawler.IsPublic,
		PublicSlug:      crawler.PublicSlug,
		CreatedAt:       crawler.CreatedAt,
	}
	if crawler.HeartbeatPayload != nil && json.Valid([]byte(*crawler.HeartbeatPayload)) {
		resp.HeartbeatPayload = json.RawMessage(*crawler.HeartbeatPayload)
	}
	return resp
}

// UpdateCrawlerRequest is the PATCH payload for a crawler. Absent fields are
// left untouched. For the retention caps, 0 resets the crawler to the server
// default and a negative value disables the cap.
type UpdateCrawlerRequest struct {
	Name        *string `json:"name,omitempty" binding:"omitempty,min=1,max=100"`
	GroupID     *int64  `json:"group_id,omitempty"`
	Pinned      *bool   `json:"pinned,omitempty"`
	IsPublic    *bool   `json:"is_public,omitempty"`
	LogMaxLines *int64  `json:"log_max_lines,omitempty"`
	LogMaxBytes *int64  `json:"log_max_bytes,omitempty"`
}

// IssueCommandRequest queues a command for the crawler.
type IssueCommandRequest struct {
	Command    string                 `json:"command" binding:"required,min=1,max=100"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	TTLSeconds int                    `json:"ttl_seconds,omitempty" binding:"omitempty,min=1,max=604800"`
}

// RunResponse is one run record.
type RunResponse struct {
	ID            int64      `json:"id"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	SourceIP      *string    `json:"source_ip,omitempty"`
}

// HeartbeatResponse is one heartbeat event.
type HeartbeatResponse struct {
	ID        int64           `json:"id"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// CommandResponse is one command with its delivery state.
type CommandResponse struct {
	ID          int64           `json:"id"`
	Command     string          `json:"command"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LogEntryResponse is one retained log line.
type LogEntryResponse struct {
	ID         int64     `json:"id"`
	RunID      *int64    `json:"run_id,omitempty"`
	Level      string    `json:"level"`
	LevelCode  int       `json:"level_code"`
	Message    string    `json:"message"`
	TS         time.Time `json:"ts"`
	SourceIP   *string   `json:"source_ip,omitempty"`
	DeviceName *string   `json:"device_name,omitempty"`
}

// UsageResponse reports retention usage for the crawler and its account.
type UsageResponse struct {
	Crawler core.LogUsage `json:"crawler"`
	Account core.LogUsage `json:"account"`
}

// APIKeyRequest creates or updates an API key.
type APIKeyRequest struct {
	Name       *string `json:"name,omitempty" binding:"omitempty,min=1,max=100"`
	GroupID    *int64  `json:"group_id,omitempty"`
	Active     *bool   `json:"active,omitempty"`
	AllowedIPs *string `json:"allowed_ips,omitempty"`
}

// APIKeyResponse is an API key in responses. The key value is returned only
// on creation.
type APIKeyResponse struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Key        string     `json:"key,omitempty"`
	GroupID    *int64     `json:"group_id,omitempty"`
	Active     bool       `json:"active"`
	AllowedIPs *string    `json:"allowed_ips,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	LastUsedIP *string    `json:"last_used_ip,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
