// Package storage defines the data models for the Watchpost crawler
// monitoring service.
//
// All models use struct tags to define database column mappings and constraints.
// The ORM uses these tags for automatic query generation and result mapping.
//
// Struct Tag Format:
//
//	`db:"column_name,constraint1,constraint2"`
//
// Supported constraints:
//   - primary: Marks the field as primary key
//   - unique: Adds unique constraint
//   - not_null: Adds NOT NULL constraint
//   - auto_increment: For auto-incrementing fields
//
// JSON-shaped columns (heartbeat payloads, command payloads/results, alert
// channel lists, target id lists) are stored as TEXT and decoded at use
// sites; writers replace the whole value rather than patching it in place.
package storage

import (
	"time"
)

// User represents an owning account.
type User struct {
	// ID is the unique identifier for the user
	ID int64 `db:"id,primary,auto_increment"`

	// Username is the login name (must be unique)
	Username string `db:"username,not_null,unique"`

	// PasswordHash is the bcrypt hash of the login password.
	// NULL disables password login for the account.
	PasswordHash *string `db:"password_hash"`

	// Active determines if the account may authenticate
	Active bool `db:"active,not_null"`

	// LogQuotaBytes is the account-wide log byte budget.
	// NULL or <= 0 means the account quota is unlimited.
	LogQuotaBytes *int64 `db:"log_quota_bytes"`

	// CreatedAt is the timestamp when the user was created
	CreatedAt time.Time `db:"created_at,not_null"`
}

// APIKey is the credential a remote crawler presents on every request.
//
// Each key binds to at most one crawler; the optional group link feeds
// config resolution and alert rule targeting.
type APIKey struct {
	// ID is the unique identifier for the key
	ID int64 `db:"id,primary,auto_increment"`

	// UserID references the owning account
	UserID int64 `db:"user_id,not_null"`

	// GroupID optionally places crawlers registered with this key in a group
	GroupID *int64 `db:"group_id"`

	// Name is a human-readable label for the key
	Name string `db:"name,not_null"`

	// Key is the opaque credential value (must be unique)
	Key string `db:"key,not_null,unique"`

	// Active determines if the key may authenticate
	Active bool `db:"active,not_null"`

	// AllowedIPs is an optional comma-joined list of source addresses.
	// NULL or empty means any source is accepted.
	AllowedIPs *string `db:"allowed_ips"`

	// LastUsedAt is the timestamp of the most recent authenticated request
	LastUsedAt *time.Time `db:"last_used_at"`

	// LastUsedIP is the source address of the most recent request
	LastUsedIP *string `db:"last_used_ip"`

	// CreatedAt is the timestamp when the key was created
	CreatedAt time.Time `db:"created_at,not_null"`
}

// CrawlerGroup is a named grouping of crawlers under one account.
type CrawlerGroup struct {
	ID int64 `db:"id,primary,auto_increment"`

	UserID int64 `db:"user_id,not_null"`

	// Name is the display name (unique per account)
	Name string `db:"name,not_null"`

	// Slug is a URL-safe identifier (unique per account)
	Slug string `db:"slug,not_null"`

	Description string `db:"description"`

	// Color is a display hint for dashboards
	Color string `db:"color"`

	CreatedAt time.Time `db:"created_at,not_null"`
}

// Crawler represents a registered remote worker.
//
// The Status column holds the value written at heartbeat time (an explicit
// hint from the worker wins there); read paths recompute the effective
// status from LastHeartbeat instead of trusting the stored field.
type Crawler struct {
	ID int64 `db:"id,primary,auto_increment"`

	UserID int64 `db:"user_id,not_null"`

	// APIKeyID is the credential the crawler registered with.
	// A key binds to at most one crawler.
	APIKeyID *int64 `db:"api_key_id"`

	GroupID *int64 `db:"group_id"`

	Name string `db:"name,not_null"`

	// Status is the stored status as of the last write
	Status string `db:"status,not_null"`

	// StatusChangedAt is when Status last transitioned
	StatusChangedAt *time.Time `db:"status_changed_at"`

	// LastHeartbeat is the timestamp of the most recent heartbeat
	LastHeartbeat *time.Time `db:"last_heartbeat"`

	LastSourceIP   *string `db:"last_source_ip"`
	LastDeviceName *string `db:"last_device_name"`

	// HeartbeatPayload is the most recent heartbeat payload (JSON text)
	HeartbeatPayload *string `db:"heartbeat_payload"`

	// LogMaxLines caps retained log lines for this crawler.
	// NULL falls back to the server default; <= 0 disables the cap.
	LogMaxLines *int64 `db:"log_max_lines"`

	// LogMaxBytes caps retained log bytes for this crawler.
	// NULL falls back to the server default; <= 0 disables the cap.
	LogMaxBytes *int64 `db:"log_max_bytes"`

	// PinnedAt pins the crawler to the top of listings when set
	PinnedAt *time.Time `db:"pinned_at"`

	// IsPublic exposes the crawler through its quick link
	IsPublic bool `db:"is_public,not_null"`

	// PublicSlug is the quick-link slug managed by the public toggle
	PublicSlug *string `db:"public_slug"`

	CreatedAt time.Time `db:"created_at,not_null"`
}

// CrawlerRun represents one execution cycle reported by a worker.
type CrawlerRun struct {
	ID int64 `db:"id,primary,auto_increment"`

	CrawlerID int64 `db:"crawler_id,not_null"`

	// Status is 'running', 'success', or 'failed'
	Status string `db:"status,not_null"`

	StartedAt time.Time  `db:"started_at,not_null"`
	EndedAt   *time.Time `db:"ended_at"`

	// LastHeartbeat mirrors the crawler heartbeat while the run is open
	LastHeartbeat *time.Time `db:"last_heartbeat"`

	SourceIP *string `db:"source_ip"`
}

// LogEntry is a single log line ingested from a worker.
type LogEntry struct {
	ID int64 `db:"id,primary,auto_increment"`

	CrawlerID int64  `db:"crawler_id,not_null"`
	APIKeyID  *int64 `db:"api_key_id"`
	RunID     *int64 `db:"run_id"`

	// Level is the canonical severity name (TRACE..CRITICAL)
	Level string `db:"level,not_null"`

	// LevelCode is the numeric severity the name snapped to
	LevelCode int `db:"level_code,not_null"`

	Message string `db:"message,not_null"`

	// TS is the log timestamp (server time at ingestion)
	TS time.Time `db:"ts,not_null"`

	SourceIP   *string `db:"source_ip"`
	DeviceName *string `db:"device_name"`
}

// CrawlerHeartbeat is an append-only liveness event.
type CrawlerHeartbeat struct {
	ID int64 `db:"id,primary,auto_increment"`

	CrawlerID int64  `db:"crawler_id,not_null"`
	APIKeyID  *int64 `db:"api_key_id"`

	// Status is the stored status at the time of the event
	Status string `db:"status,not_null"`

	// Payload is the worker-supplied metrics document (JSON text)
	Payload *string `db:"payload"`

	SourceIP   *string `db:"source_ip"`
	DeviceName *string `db:"device_name"`

	CreatedAt time.Time `db:"created_at,not_null"`
}

// CrawlerCommand is an operator-issued instruction delivered to a worker
// on its next poll.
type CrawlerCommand struct {
	ID int64 `db:"id,primary,auto_increment"`

	CrawlerID int64 `db:"crawler_id,not_null"`

	// IssuedBy is the operator account that queued the command
	IssuedBy *int64 `db:"issued_by"`

	Command string `db:"command,not_null"`

	// Payload is an optional argument document (JSON text)
	Payload *string `db:"payload"`

	// Status is 'pending', 'accepted', 'success', or 'failed'
	Status string `db:"status,not_null"`

	// Result is the worker-reported outcome document (JSON text)
	Result *string `db:"result"`

	CreatedAt time.Time `db:"created_at,not_null"`

	// ExpiresAt excludes the command from delivery after this instant
	ExpiresAt *time.Time `db:"expires_at"`

	// ProcessedAt is stamped when the worker acknowledges the command
	ProcessedAt *time.Time `db:"processed_at"`
}

// ConfigTemplate is a reusable configuration document.
type ConfigTemplate struct {
	ID int64 `db:"id,primary,auto_increment"`

	UserID int64 `db:"user_id,not_null"`

	// Name is unique per account
	Name string `db:"name,not_null"`

	Description string `db:"description"`

	// Format is 'json' or 'yaml'
	Format string `db:"format,not_null"`

	Content string `db:"content,not_null"`

	IsActive bool `db:"is_active,not_null"`

	CreatedAt time.Time `db:"created_at,not_null"`
	UpdatedAt time.Time `db:"updated_at,not_null"`
}

// ConfigAssignment binds a configuration document to a crawler, an API key,
// or a group. One assignment per (user, target_type, target_id).
//
// Version starts at 1 and bumps only when Content changes; metadata edits
// leave it untouched.
type ConfigAssignment struct {
	ID int64 `db:"id,primary,auto_increment"`

	UserID int64 `db:"user_id,not_null"`

	// TemplateID records the template the content was copied from, if any
	TemplateID *int64 `db:"template_id"`

	Name        string `db:"name,not_null"`
	Description string `db:"description"`

	// TargetType is 'crawler', 'api_key', or 'group'
	TargetType string `db:"target_type,not_null"`

	TargetID int64 `db:"target_id,not_null"`

	Format  string `db:"format,not_null"`
	Content string `db:"content,not_null"`

	Version int `db:"version,not_null"`

	IsActive bool `db:"is_active,not_null"`

	CreatedAt time.Time `db:"created_at,not_null"`
	UpdatedAt time.Time `db:"updated_at,not_null"`
}

// AlertRule is an operator-defined condition evaluated on every heartbeat.
type AlertRule struct {
	ID int64 `db:"id,primary,auto_increment"`

	UserID int64 `db:"user_id,not_null"`

	// Name is unique per account
	Name string `db:"name,not_null"`

	Description string `db:"description"`

	// TriggerType is 'status_offline' or 'payload_threshold'
	TriggerType string `db:"trigger_type,not_null"`

	// TargetType is 'all', 'crawler', 'api_key', or 'group'
	TargetType string `db:"target_type,not_null"`

	// TargetIDs is a JSON array of ids scoped by TargetType
	TargetIDs *string `db:"target_ids"`

	// PayloadField is a dot path into the heartbeat payload
	// (payload_threshold rules only)
	PayloadField *string `db:"payload_field"`

	// Comparator is one of gt, ge, lt, le, eq, ne
	Comparator *string `db:"comparator"`

	Threshold *float64 `db:"threshold"`

	// ConsecutiveFailures is the hysteresis hit count required to fire
	ConsecutiveFailures int `db:"consecutive_failures,not_null"`

	// CooldownMinutes suppresses refiring after a trigger
	CooldownMinutes int `db:"cooldown_minutes,not_null"`

	// Channels is a JSON array of {type, target, enabled}
	Channels string `db:"channels,not_null"`

	IsActive bool `db:"is_active,not_null"`

	LastTriggeredAt *time.Time `db:"last_triggered_at"`

	CreatedAt time.Time `db:"created_at,not_null"`
	UpdatedAt time.Time `db:"updated_at,not_null"`
}

// AlertState is the hysteresis counter for one (rule, crawler) pair.
type AlertState struct {
	ID int64 `db:"id,primary,auto_increment"`

	RuleID    int64 `db:"rule_id,not_null"`
	CrawlerID int64 `db:"crawler_id,not_null"`
	UserID    int64 `db:"user_id,not_null"`

	ConsecutiveHits int `db:"consecutive_hits,not_null"`

	LastTriggeredAt *time.Time `db:"last_triggered_at"`

	// LastStatus is the crawler status observed at the previous evaluation
	LastStatus *string `db:"last_status"`

	// LastValue is the payload value observed at the previous evaluation
	LastValue *float64 `db:"last_value"`

	// Context carries extra evaluation detail (JSON text)
	Context *string `db:"context"`
}

// AlertEvent is an immutable record of a fired rule.
type AlertEvent struct {
	ID int64 `db:"id,primary,auto_increment"`

	RuleID    int64 `db:"rule_id,not_null"`
	CrawlerID int64 `db:"crawler_id,not_null"`
	UserID    int64 `db:"user_id,not_null"`

	TriggeredAt time.Time `db:"triggered_at,not_null"`

	// Status is 'pending', 'sent', 'failed', or 'skipped'
	Status string `db:"status,not_null"`

	Message string `db:"message,not_null"`

	// Payload is the triggering heartbeat payload snapshot (JSON text)
	Payload *string `db:"payload"`

	// ChannelResults is a JSON array of per-channel delivery outcomes
	ChannelResults *string `db:"channel_results"`

	Error *string `db:"error"`
}

// QuickLink is a public, unauthenticated read projection of one target.
type QuickLink struct {
	ID int64 `db:"id,primary,auto_increment"`

	// Slug is the public identifier (globally unique)
	Slug string `db:"slug,not_null,unique"`

	// TargetType is 'crawler', 'api_key', or 'group'
	TargetType string `db:"target_type,not_null"`

	CrawlerID *int64 `db:"crawler_id"`
	APIKeyID  *int64 `db:"api_key_id"`
	GroupID   *int64 `db:"group_id"`

	Description string `db:"description"`

	// AllowLogs gates the public log endpoint
	AllowLogs bool `db:"allow_logs,not_null"`

	IsActive bool `db:"is_active,not_null"`

	// CreatedBy is the operator account that created the link
	CreatedBy int64 `db:"created_by,not_null"`

	CreatedAt time.Time `db:"created_at,not_null"`
}

// TableName methods return the database table name for each model.
// These are used by the ORM for automatic table name resolution.

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Validate validates the User entity.
func (u *User) Validate() error { return ValidateUser(u) }

// TableName returns the database table name for APIKey.
func (APIKey) TableName() string { return "api_keys" }

// Validate validates the APIKey entity.
func (k *APIKey) Validate() error { return ValidateAPIKey(k) }

// TableName returns the database table name for CrawlerGroup.
func (CrawlerGroup) TableName() string { return "crawler_groups" }

// Validate validates the CrawlerGroup entity.
func (g *CrawlerGroup) Validate() error { return ValidateCrawlerGroup(g) }

// TableName returns the database table name for Crawler.
func (Crawler) TableName() string { return "crawlers" }

// Validate validates the Crawler entity.
func (c *Crawler) Validate() error { return ValidateCrawler(c) }

// TableName returns the database table name for CrawlerRun.
func (CrawlerRun) TableName() string { return "crawler_runs" }

// TableName returns the database table name for LogEntry.
func (LogEntry) TableName() string { return "log_entries" }

// TableName returns the database table name for CrawlerHeartbeat.
func (CrawlerHeartbeat) TableName() string { return "crawler_heartbeats" }

// TableName returns the database table name for CrawlerCommand.
func (CrawlerCommand) TableName() string { return "crawler_commands" }

// Validate validates the CrawlerCommand entity.
func (c *CrawlerCommand) Validate() error { return ValidateCrawlerCommand(c) }

// TableName returns the database table name for ConfigTemplate.
func (ConfigTemplate) TableName() string { return "config_templates" }

// Validate validates the ConfigTemplate entity.
func (t *ConfigTemplate) Validate() error { return ValidateConfigTemplate(t) }

// TableName returns the database table name for ConfigAssignment.
func (ConfigAssignment) TableName() string { return "config_assignments" }

// Validate validates the ConfigAssignment entity.
func (a *ConfigAssignment) Validate() error { return ValidateConfigAssignment(a) }

// TableName returns the database table name for AlertRule.
func (AlertRule) TableName() string { return "alert_rules" }

// Validate validates the AlertRule entity.
func (r *AlertRule) Validate() error { return ValidateAlertRule(r) }

// TableName returns the database table name for AlertState.
func (AlertState) TableName() string { return "alert_states" }

// TableName returns the database table name for AlertEvent.
func (AlertEvent) TableName() string { return "alert_events" }

// TableName returns the database table name for QuickLink.
func (QuickLink) TableName() string { return "quick_links" }

// Validate validates the QuickLink entity.
func (l *QuickLink) Validate() error { return ValidateQuickLink(l) }

// CrawlerStatus constants define the derived crawler statuses. A crawler
// that has never reported reads as offline.
const (
	CrawlerStatusOnline  = "online"
	CrawlerStatusWarning = "warning"
	CrawlerStatusOffline = "offline"
)

// RunStatus constants define the possible run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// CommandStatus constants define the command lifecycle statuses.
const (
	CommandStatusPending  = "pending"
	CommandStatusAccepted = "accepted"
	CommandStatusSuccess  = "success"
	CommandStatusFailed   = "failed"
)

// TriggerType constants define the supported alert rule triggers.
const (
	TriggerStatusOffline    = "status_offline"
	TriggerPayloadThreshold = "payload_threshold"
)

// TargetType constants define the supported rule/assignment target scopes.
const (
	TargetTypeAll     = "all"
	TargetTypeCrawler = "crawler"
	TargetTypeAPIKey  = "api_key"
	TargetTypeGroup   = "group"
)

// EventStatus constants define the possible alert event statuses.
const (
	EventStatusPending = "pending"
	EventStatusSent    = "sent"
	EventStatusFailed  = "failed"
	EventStatusSkipped = "skipped"
)

// ChannelType constants define the supported delivery channels.
const (
	ChannelTypeEmail   = "email"
	ChannelTypeWebhook = "webhook"
)

// ConfigFormat constants define the supported configuration formats.
const (
	ConfigFormatJSON = "json"
	ConfigFormatYAML = "yaml"
)
