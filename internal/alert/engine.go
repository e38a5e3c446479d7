package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"watchpost/internal/config"
	"watchpost/internal/storage"
)

// Engine evaluates alert rules against incoming heartbeats and dispatches
// notifications through the registered channels.
type Engine struct {
	repos    *storage.Repositories
	channels map[string]Channel
}

// NewEngine creates the alert engine with the standard channel set.
func NewEngine(cfg config.AlertConfig, repos *storage.Repositories) *Engine {
	email := NewEmailChannel(cfg)
	webhook := NewWebhookChannel(cfg.WebhookTimeout)

	return &Engine{
		repos: repos,
		channels: map[string]Channel{
			email.Type():   email,
			webhook.Type(): webhook,
		},
	}
}

// EvaluateHeartbeat runs every active rule of the crawler's owner against
// the freshly recorded heartbeat. It is called after the heartbeat
// transaction committed; evaluation failures must not fail the heartbeat, so
// per-rule errors are logged and the remaining rules still run.
func (e *Engine) EvaluateHeartbeat(ctx context.Context, crawler *storage.Crawler, payload map[string]interface{}, now time.Time) {
	rules, err := e.repos.AlertRules.Where(ctx, "user_id = ? AND is_active = 1", crawler.UserID)
	if err != nil {
		log.Error().Err(err).Int64("crawler_id", crawler.ID).Msg("Failed to load alert rules")
		return
	}

	for i := range rules {
		rule := &rules[i]

		match, err := ruleTargets(rule, crawler)
		if err != nil {
			log.Warn().Err(err).Int64("rule_id", rule.ID).Msg("Skipping rule with malformed target ids")
			continue
		}
		if !match {
			continue
		}

		if err := e.evaluateRule(ctx, rule, crawler, payload, now); err != nil {
			log.Error().Err(err).
				Int64("rule_id", rule.ID).
				Int64("crawler_id", crawler.ID).
				Msg("Alert rule evaluation failed")
		}
	}
}

// ruleTargets reports whether the rule's target scope covers the crawler.
func ruleTargets(rule *storage.AlertRule, crawler *storage.Crawler) (bool, error) {
	if rule.TargetType == storage.TargetTypeAll {
		return true, nil
	}

	if rule.TargetIDs == nil {
		return false, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(*rule.TargetIDs), &ids); err != nil {
		return false, fmt.Errorf("decode target ids: %w", err)
	}

	var candidate *int64
	switch rule.TargetType {
	case storage.TargetTypeCrawler:
		candidate = &crawler.ID
	case storage.TargetTypeAPIKey:
		candidate = crawler.APIKeyID
	case storage.TargetTypeGroup:
		candidate = crawler.GroupID
	}
	if candidate == nil {
		return false, nil
	}

	for _, id := range ids {
		if id == *candidate {
			return true, nil
		}
	}
	return false, nil
}

// evaluateRule updates the hysteresis state for one (rule, crawler) pair and
// fires the rule when the consecutive hit count is reached and the cooldown
// has elapsed. Cooldown suppression still persists the updated counter.
func (e *Engine) evaluateRule(ctx context.Context, rule *storage.AlertRule, crawler *storage.Crawler, payload map[string]interface{}, now time.Time) error {
	state, created, err := e.loadState(ctx, rule, crawler)
	if err != nil {
		return err
	}

	var hits int
	var message string

	switch rule.TriggerType {
	case storage.TriggerStatusOffline:
		hits = nextStatusHits(state, crawler.Status)
		message = fmt.Sprintf("Crawler %q has reported offline %d time(s) in a row", crawler.Name, hits)

	case storage.TriggerPayloadThreshold:
		value, ok := extractNumber(payload, *rule.PayloadField)
		if ok {
			state.LastValue = &value
		}
		if ok && compare(value, *rule.Comparator, *rule.Threshold) {
			hits = state.ConsecutiveHits + 1
		} else {
			hits = 0
		}
		if rule.Threshold != nil {
			message = fmt.Sprintf("Crawler %q reported %s=%s (%s %s)",
				crawler.Name, *rule.PayloadField, formatNumber(state.LastValue),
				*rule.Comparator, strconv.FormatFloat(*rule.Threshold, 'f', -1, 64))
		}

	default:
		return fmt.Errorf("unsupported trigger type: %s", rule.TriggerType)
	}

	state.ConsecutiveHits = hits
	status := crawler.Status
	state.LastStatus = &status

	fired := hits >= rule.ConsecutiveFailures
	inCooldown := fired && rule.CooldownMinutes > 0 && state.LastTriggeredAt != nil &&
		now.Sub(*state.LastTriggeredAt) < time.Duration(rule.CooldownMinutes)*time.Minute

	if fired && !inCooldown {
		if err := e.fire(ctx, rule, crawler, payload, message, now); err != nil {
			return err
		}
		state.ConsecutiveHits = 0
		triggered := now
		state.LastTriggeredAt = &triggered
	}

	return e.saveState(ctx, state, created)
}

// loadState fetches the hysteresis row for the pair, or prepares a fresh one.
func (e *Engine) loadState(ctx context.Context, rule *storage.AlertRule, crawler *storage.Crawler) (*storage.AlertState, bool, error) {
	state, err := e.repos.AlertStates.First(ctx, "rule_id = ? AND crawler_id = ?", rule.ID, crawler.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return &storage.AlertState{
			RuleID:    rule.ID,
			CrawlerID: crawler.ID,
			UserID:    crawler.UserID,
		}, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load alert state: %w", err)
	}
	return state, false, nil
}

func (e *Engine) saveState(ctx context.Context, state *storage.AlertState, created bool) error {
	if created {
		if _, err := e.repos.AlertStates.Create(ctx, state); err != nil {
			return fmt.Errorf("create alert state: %w", err)
		}
		return nil
	}
	if err := e.repos.AlertStates.Update(ctx, state); err != nil {
		return fmt.Errorf("update alert state: %w", err)
	}
	return nil
}

// nextStatusHits applies the offline hysteresis rule: any non-offline status
// clears the counter, a fresh transition starts it at 1, and a continued
// offline streak increments it.
func nextStatusHits(state *storage.AlertState, status string) int {
	if status != storage.CrawlerStatusOffline {
		return 0
	}
	if state.LastStatus == nil || *state.LastStatus != storage.CrawlerStatusOffline {
		return 1
	}
	return state.ConsecutiveHits + 1
}

// fire records the alert event and dispatches its channels. The rule's
// last_triggered_at is stamped regardless of delivery outcome.
func (e *Engine) fire(ctx context.Context, rule *storage.AlertRule, crawler *storage.Crawler, payload map[string]interface{}, message string, now time.Time) error {
	notification := Notification{
		Subject:     fmt.Sprintf("[watchpost] %s: %s", rule.Name, crawler.Name),
		Message:     message,
		RuleName:    rule.Name,
		CrawlerName: crawler.Name,
		Status:      crawler.Status,
		TriggeredAt: now,
		Payload:     payload,
	}

	results := e.dispatch(ctx, rule, notification)
	overall, firstFailure := summarize(results)

	event := &storage.AlertEvent{
		RuleID:      rule.ID,
		CrawlerID:   crawler.ID,
		UserID:      crawler.UserID,
		TriggeredAt: now,
		Status:      overall,
		Message:     message,
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			snapshot := string(raw)
			event.Payload = &snapshot
		}
	}
	if raw, err := json.Marshal(results); err == nil {
		encoded := string(raw)
		event.ChannelResults = &encoded
	}
	if firstFailure != "" {
		event.Error = &firstFailure
	}

	if _, err := e.repos.AlertEvents.Create(ctx, event); err != nil {
		return fmt.Errorf("record alert event: %w", err)
	}

	triggered := now
	rule.LastTriggeredAt = &triggered
	if err := e.repos.AlertRules.Update(ctx, rule); err != nil {
		return fmt.Errorf("stamp rule trigger time: %w", err)
	}

	log.Info().
		Int64("rule_id", rule.ID).
		Int64("crawler_id", crawler.ID).
		Str("status", overall).
		Msg("Alert fired")

	return nil
}

// dispatch sends the notification through every enabled channel on the rule.
func (e *Engine) dispatch(ctx context.Context, rule *storage.AlertRule, n Notification) []ChannelResult {
	var channels []storage.RuleChannel
	if err := json.Unmarshal([]byte(rule.Channels), &channels); err != nil {
		return []ChannelResult{{Status: "failed", Detail: "malformed channel list"}}
	}

	results := make([]ChannelResult, 0, len(channels))
	for _, ch := range channels {
		result := ChannelResult{Type: ch.Type, Target: ch.Target}

		if !ch.Enabled {
			result.Status = "skipped"
			result.Detail = "channel disabled"
			results = append(results, result)
			continue
		}

		channel, ok := e.channels[ch.Type]
		if !ok {
			result.Status = "failed"
			result.Detail = fmt.Sprintf("unknown channel type: %s", ch.Type)
			results = append(results, result)
			continue
		}

		err := channel.Send(ctx, ch.Target, n)
		var skipped ErrSkipped
		switch {
		case err == nil:
			result.Status = "sent"
		case errors.As(err, &skipped):
			result.Status = "skipped"
			result.Detail = skipped.Reason
		default:
			result.Status = "failed"
			result.Detail = err.Error()
		}
		results = append(results, result)
	}

	return results
}

// summarize collapses per-channel outcomes into the event status:
// any failure wins, then any success, otherwise skipped.
func summarize(results []ChannelResult) (string, string) {
	overall := storage.EventStatusSkipped
	firstFailure := ""

	for _, r := range results {
		switch r.Status {
		case "failed":
			if firstFailure == "" {
				firstFailure = r.Detail
			}
			overall = storage.EventStatusFailed
		case "sent":
			if overall != storage.EventStatusFailed {
				overall = storage.EventStatusSent
			}
		}
	}
	return overall, firstFailure
}

// extractNumber walks a dot path into the payload and coerces the leaf to a
// float. Numeric strings are accepted.
func extractNumber(payload map[string]interface{}, path string) (float64, bool) {
	if payload == nil {
		return 0, false
	}

	var current interface{} = payload
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return 0, false
		}
		current, ok = m[segment]
		if !ok {
			return 0, false
		}
	}

	switch v := current.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func compare(value float64, comparator string, threshold float64) bool {
	switch comparator {
	case "gt":
		return value > threshold
	case "ge":
		return value >= threshold
	case "lt":
		return value < threshold
	case "le":
		return value <= threshold
	case "eq":
		return value == threshold
	case "ne":
		return value != threshold
	default:
		return false
	}
}

func formatNumber(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
