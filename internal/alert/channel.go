// Package alert implements the heartbeat-driven alert rule engine and its
// delivery channels.
//
// Rules keep a hysteresis counter per (rule, crawler) pair and fire only
// after the configured number of consecutive hits, with a cooldown window
// suppressing repeats. Delivery fans out to the channels listed on the rule;
// per-channel outcomes are recorded on the alert event.
package alert

import (
	"context"
	"time"
)

// Notification is the material handed to a channel for delivery.
type Notification struct {
	// Subject is a one-line summary of the trigger
	Subject string `json:"subject"`

	// Message is the human-readable alert body
	Message string `json:"message"`

	// RuleName identifies the rule that fired
	RuleName string `json:"rule_name"`

	// CrawlerName identifies the affected crawler
	CrawlerName string `json:"crawler_name"`

	// Status is the crawler status at trigger time
	Status string `json:"status"`

	// TriggeredAt is the trigger instant
	TriggeredAt time.Time `json:"triggered_at"`

	// Payload is the triggering heartbeat payload, when available
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Channel delivers notifications to one kind of target.
// Implementations must be safe for concurrent use.
type Channel interface {
	// Type returns the channel type name ("email", "webhook").
	Type() string

	// Send delivers the notification to the target. A nil error means the
	// target accepted the notification.
	Send(ctx context.Context, target string, n Notification) error
}

// ErrSkipped marks a channel that declined delivery because it is not
// configured, as opposed to a delivery failure.
type ErrSkipped struct {
	Reason string
}

func (e ErrSkipped) Error() string {
	return e.Reason
}

// ChannelResult is the recorded outcome of one delivery attempt.
type ChannelResult struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Status string `json:"status"` // sent, failed, skipped
	Detail string `json:"detail,omitempty"`
}
