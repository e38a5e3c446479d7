// Package storage provides validation functions for database entities.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	slugRegex     = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

// ValidateUser validates a complete User entity before database operations.
func ValidateUser(user *User) error {
	if user.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if len(user.Username) < 3 {
		return fmt.Errorf("username too short (minimum 3 chars)")
	}

	if len(user.Username) > 50 {
		return fmt.Errorf("username too long (max 50 chars)")
	}

	if !usernameRegex.MatchString(user.Username) {
		return fmt.Errorf("username contains invalid characters (only alphanumeric and underscores allowed)")
	}

	if user.LogQuotaBytes != nil && *user.LogQuotaBytes < 0 {
		return fmt.Errorf("log quota cannot be negative")
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	return nil
}

// ValidateAPIKey validates a complete APIKey entity before database operations.
//
// An empty key value is replaced with a freshly generated credential.
func ValidateAPIKey(key *APIKey) error {
	if key.UserID == 0 {
		return fmt.Errorf("user ID cannot be empty")
	}

	if key.Name == "" {
		return fmt.Errorf("key name cannot be empty")
	}

	if len(key.Name) > 100 {
		return fmt.Errorf("key name too long (max 100 chars)")
	}

	// Generate credential if not provided
	if key.Key == "" {
		generated, err := generateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		key.Key = generated
	}

	if len(key.Key) < 32 {
		return fmt.Errorf("key too short (minimum 32 chars)")
	}

	if len(key.Key) > 128 {
		return fmt.Errorf("key too long (maximum 128 chars)")
	}

	if key.AllowedIPs != nil {
		if err := validateAllowedIPs(*key.AllowedIPs); err != nil {
			return err
		}
	}

	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	return nil
}

// validateAllowedIPs checks a comma-joined allow-list of source addresses.
// An empty list means any source is accepted.
func validateAllowedIPs(list string) error {
	if strings.TrimSpace(list) == "" {
		return nil
	}

	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if net.ParseIP(part) == nil {
			return fmt.Errorf("invalid allowed IP: %s", part)
		}
	}
	return nil
}

// ValidateCrawlerGroup validates a complete CrawlerGroup entity before
// database operations. An empty slug is derived from the name.
func ValidateCrawlerGroup(group *CrawlerGroup) error {
	if group.UserID == 0 {
		return fmt.Errorf("user ID cannot be empty")
	}

	if group.Name == "" {
		return fmt.Errorf("group name cannot be empty")
	}

	if len(group.Name) > 100 {
		return fmt.Errorf("group name too long (max 100 chars)")
	}

	if group.Slug == "" {
		group.Slug = Slugify(group.Name)
	}

	if !slugRegex.MatchString(group.Slug) {
		return fmt.Errorf("group slug contains invalid characters (lowercase alphanumeric and hyphens only)")
	}

	if len(group.Slug) > 100 {
		return fmt.Errorf("group slug too long (max 100 chars)")
	}

	if len(group.Description) > 500 {
		return fmt.Errorf("group description too long (max 500 chars)")
	}

	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}

	return nil
}

// ValidateCrawler validates a complete Crawler entity before database operations.
func ValidateCrawler(crawler *Crawler) error {
	if crawler.UserID == 0 {
		return fmt.Errorf("user ID cannot be empty")
	}

	if crawler.Name == "" {
		return fmt.Errorf("crawler name cannot be empty")
	}

	if len(crawler.Name) > 100 {
		return fmt.Errorf("crawler name too long (max 100 chars)")
	}

	if crawler.Status == "" {
		crawler.Status = CrawlerStatusOffline
	}

	if !IsValidCrawlerStatus(crawler.Status) {
		return fmt.Errorf("invalid crawler status: %s", crawler.Status)
	}

	if crawler.CreatedAt.IsZero() {
		crawler.CreatedAt = time.Now().UTC()
	}

	return nil
}

// ValidateCrawlerCommand validates a complete CrawlerCommand entity before
// database operations.
func ValidateCrawlerCommand(cmd *CrawlerCommand) error {
	if cmd.CrawlerID == 0 {
		return fmt.Errorf("crawler ID cannot be empty")
	}

	if strings.TrimSpace(cmd.Command) == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if len(cmd.Command) > 200 {
		return fmt.Errorf("command too long (max 200 chars)")
	}

	if cmd.Payload != nil && *cmd.Payload != "" {
		if !json.Valid([]byte(*cmd.Payload)) {
			return fmt.Errorf("command payload must be valid JSON")
		}
	}

	if cmd.Status == "" {
		cmd.Status = CommandStatusPending
	}

	if !IsValidCommandStatus(cmd.Status) {
		return fmt.Errorf("invalid command status: %s", cmd.Status)
	}

	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}

	return nil
}

// ValidateConfigTemplate validates a complete ConfigTemplate entity before
// database operations.
func ValidateConfigTemplate(tpl *ConfigTemplate) error {
	if tpl.UserID == 0 {
		return fmt.Errorf("user ID cannot be empty")
	}

	if tpl.Name == "" {
		return fmt.Errorf("template name cannot be empty")
	}

	if len(tpl.Name) > 100 {
		return fmt.Errorf("template name too long (max 100 chars)")
	}

	if tpl.Format == "" {
		tpl.Format = ConfigFormatJSON
	}

	if !IsValidConfigFormat(tpl.Format) {
		return fmt.Errorf("invalid config format: %s (supported: json, yaml)", tpl.Format)
	}

	if tpl.Format == ConfigFormatJSON && tpl.Content != "" {
		if !json.Valid([]byte(tpl.Content)) {
			return fmt.Errorf("template content must be valid JSON")
		}
	}

	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	tpl.UpdatedAt = time.Now().UTC()

	return nil
}

// ValidateConfigAssignment validates a complete ConfigAssignment entity
// before database operations.
func ValidateConfigAssignment(a *ConfigAssignment) error {
	if a.UserID == 0 {
		return fmt.Errorf("user ID cannot be empty")
	}

	if a.Name == "" {
		return fmt.Errorf("assignment name cannot be empty")
	}

	if len(a.Name) > 100 {
		return fmt.Errorf("assignment name too long (max 100 chars)")
	}

	if !IsValidAssignmentTarget(a.TargetType) {
		return fmt.Errorf("invalid target type: %s (supported: crawler, api_key, group)", a.TargetType)
	}

	if a.TargetID == 0 {
		return fmt.Errorf("target ID cannot be empty")
	}

	if a.Format == "" {
		a.Format = ConfigFormatJSON
	}

	if !IsValidConfigFormat(a.Format) {
		return fmt.Errorf("invalid config format: %s (supported: json, yaml)", a.Format)
	}

	if a.Format == ConfigFormatJSON && a.Content != "" {
		if !json.Valid([]byte(a.Content)) {
			return fmt.Errorf("assignment content must be valid JSON")
		}
	}

	if a.Version < 1 {
		a.Version = 1
	}

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = time.Now().UTC()

	return nil
}

// ValidateAlertRule validates a complete AlertRule entity before database
// operations.
func ValidateAlertRule(rule *AlertRule) error {
	if rule.UserID == 0 {
		return fmt.Errorf("user ID cannot be empty")
	}

	if rule.Name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}

	if len(rule.Name) > 100 {
		return fmt.Errorf("rule name too long (max 100 chars)")
	}

	if !IsValidTriggerType(rule.TriggerType) {
		return fmt.Errorf("invalid trigger type: %s (supported: status_offline, payload_threshold)", rule.TriggerType)
	}

	if rule.TargetType == "" {
		rule.TargetType = TargetTypeAll
	}

	if !IsValidRuleTarget(rule.TargetType) {
		return fmt.Errorf("invalid target type: %s (supported: all, crawler, api_key, group)", rule.TargetType)
	}

	if rule.TargetType != TargetTypeAll {
		if rule.TargetIDs == nil || strings.TrimSpace(*rule.TargetIDs) == "" {
			return fmt.Errorf("target ids are required for target type %s", rule.TargetType)
		}
		var ids []int64
		if err := json.Unmarshal([]byte(*rule.TargetIDs), &ids); err != nil {
			return fmt.Errorf("target ids must be a JSON array of integers: %w", err)
		}
		if len(ids) == 0 {
			return fmt.Errorf("target ids cannot be empty for target type %s", rule.TargetType)
		}
	}

	// Payload threshold rules need a field, comparator and threshold
	if rule.TriggerType == TriggerPayloadThreshold {
		if rule.PayloadField == nil || strings.TrimSpace(*rule.PayloadField) == "" {
			return fmt.Errorf("payload field is required for payload_threshold rules")
		}
		if rule.Comparator == nil || !IsValidComparator(*rule.Comparator) {
			return fmt.Errorf("comparator must be one of: gt, ge, lt, le, eq, ne")
		}
		if rule.Threshold == nil {
			return fmt.Errorf("threshold is required for payload_threshold rules")
		}
	}

	if rule.ConsecutiveFailures < 1 {
		rule.ConsecutiveFailures = 1
	}

	if rule.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown minutes cannot be negative")
	}

	if rule.Channels == "" {
		rule.Channels = "[]"
	}
	if err := validateRuleChannels(rule.Channels); err != nil {
		return err
	}

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	rule.UpdatedAt = time.Now().UTC()

	return nil
}

// RuleChannel is one delivery target in an alert rule's channel list.
type RuleChannel struct {
	Type    string `json:"type"`
	Target  string `json:"target"`
	Enabled bool   `json:"enabled"`
}

// validateRuleChannels checks the JSON channel list on an alert rule.
func validateRuleChannels(channels string) error {
	var parsed []RuleChannel
	if err := json.Unmarshal([]byte(channels), &parsed); err != nil {
		return fmt.Errorf("channels must be a JSON array: %w", err)
	}

	for i, ch := range parsed {
		if ch.Type != ChannelTypeEmail && ch.Type != ChannelTypeWebhook {
			return fmt.Errorf("channel %d: unsupported type %q (supported: email, webhook)", i, ch.Type)
		}
		if ch.Target == "" {
			return fmt.Errorf("channel %d: target cannot be empty", i)
		}
		switch ch.Type {
		case ChannelTypeEmail:
			if !strings.Contains(ch.Target, "@") {
				return fmt.Errorf("channel %d: invalid email address", i)
			}
		case ChannelTypeWebhook:
			parsed, err := url.Parse(ch.Target)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
				return fmt.Errorf("channel %d: invalid webhook URL", i)
			}
		}
	}
	return nil
}

// ValidateQuickLink validates a complete QuickLink entity before database
// operations. An empty slug gets a random one.
func ValidateQuickLink(link *QuickLink) error {
	if link.Slug == "" {
		slug, err := generateSlug()
		if err != nil {
			return fmt.Errorf("failed to generate slug: %w", err)
		}
		link.Slug = slug
	}

	if !slugRegex.MatchString(link.Slug) {
		return fmt.Errorf("slug contains invalid characters (lowercase alphanumeric and hyphens only)")
	}

	if len(link.Slug) > 100 {
		return fmt.Errorf("slug too long (max 100 chars)")
	}

	if !IsValidAssignmentTarget(link.TargetType) {
		return fmt.Errorf("invalid target type: %s (supported: crawler, api_key, group)", link.TargetType)
	}

	switch link.TargetType {
	case TargetTypeCrawler:
		if link.CrawlerID == nil {
			return fmt.Errorf("crawler ID is required for crawler links")
		}
	case TargetTypeAPIKey:
		if link.APIKeyID == nil {
			return fmt.Errorf("api key ID is required for api_key links")
		}
	case TargetTypeGroup:
		if link.GroupID == nil {
			return fmt.Errorf("group ID is required for group links")
		}
	}

	if link.CreatedBy == 0 {
		return fmt.Errorf("created_by cannot be empty")
	}

	if len(link.Description) > 500 {
		return fmt.Errorf("description too long (max 500 chars)")
	}

	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}

	return nil
}

// IsValidCrawlerStatus validates if a crawler status is valid.
func IsValidCrawlerStatus(status string) bool {
	switch status {
	case CrawlerStatusOnline, CrawlerStatusWarning, CrawlerStatusOffline:
		return true
	default:
		return false
	}
}

// IsValidRunStatus validates if a run status is valid.
func IsValidRunStatus(status string) bool {
	switch status {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailed:
		return true
	default:
		return false
	}
}

// IsValidCommandStatus validates if a command status is valid.
func IsValidCommandStatus(status string) bool {
	switch status {
	case CommandStatusPending, CommandStatusAccepted, CommandStatusSuccess, CommandStatusFailed:
		return true
	default:
		return false
	}
}

// IsValidTriggerType validates if an alert rule trigger type is supported.
func IsValidTriggerType(triggerType string) bool {
	switch triggerType {
	case TriggerStatusOffline, TriggerPayloadThreshold:
		return true
	default:
		return false
	}
}

// IsValidRuleTarget validates if an alert rule target scope is supported.
func IsValidRuleTarget(targetType string) bool {
	switch targetType {
	case TargetTypeAll, TargetTypeCrawler, TargetTypeAPIKey, TargetTypeGroup:
		return true
	default:
		return false
	}
}

// IsValidAssignmentTarget validates a config assignment / quick link target.
func IsValidAssignmentTarget(targetType string) bool {
	switch targetType {
	case TargetTypeCrawler, TargetTypeAPIKey, TargetTypeGroup:
		return true
	default:
		return false
	}
}

// IsValidComparator validates a payload threshold comparator.
func IsValidComparator(comparator string) bool {
	switch comparator {
	case "gt", "ge", "lt", "le", "eq", "ne":
		return true
	default:
		return false
	}
}

// IsValidConfigFormat validates a configuration document format.
func IsValidConfigFormat(format string) bool {
	switch format {
	case ConfigFormatJSON, ConfigFormatYAML:
		return true
	default:
		return false
	}
}

// IsValidEventStatus validates an alert event status.
func IsValidEventStatus(status string) bool {
	switch status {
	case EventStatusPending, EventStatusSent, EventStatusFailed, EventStatusSkipped:
		return true
	default:
		return false
	}
}

// Slugify converts an arbitrary name into a URL-safe slug.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // trim leading hyphens
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Helper functions

// generateKey generates a secure random API key.
func generateKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// generateSlug generates a short random slug for quick links.
func generateSlug() (string, error) {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
