package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"watchpost/internal/storage"
)

// HeartbeatInput carries one heartbeat report from a worker.
type HeartbeatInput struct {
	// Status is an optional explicit status hint; it wins over the derived
	// value for the stored column. Unknown values are ignored.
	Status string

	// Payload is the worker-supplied metrics document.
	Payload map[string]interface{}

	SourceIP   string
	DeviceName string
}

// RecordHeartbeat processes one heartbeat: it updates the crawler row,
// appends the immutable heartbeat event, and mirrors the timestamp onto the
// open run, all in a single transaction. Alert rules are evaluated after the
// commit; their failures are logged, never surfaced to the worker.
//
// Returns the stored status.
func (e *Engine) RecordHeartbeat(ctx context.Context, crawler *storage.Crawler, apiKeyID *int64, in HeartbeatInput) (string, error) {
	now := time.Now().UTC()

	status := in.Status
	if !storage.IsValidCrawlerStatus(status) {
		status = storage.CrawlerStatusOnline
	}

	var payloadJSON *string
	if in.Payload != nil {
		raw, err := json.Marshal(in.Payload)
		if err != nil {
			return "", fmt.Errorf("encode heartbeat payload: %w", err)
		}
		encoded := string(raw)
		payloadJSON = &encoded
	}

	var sourceIP, deviceName *string
	if in.SourceIP != "" {
		sourceIP = &in.SourceIP
	}
	if in.DeviceName != "" {
		deviceName = &in.DeviceName
	}

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		// Step 1: update the crawler row
		statusChanged := crawler.Status != status
		if statusChanged {
			if _, err := tx.ExecContext(ctx, `
				UPDATE crawlers
				SET status = ?, status_changed_at = ?, last_heartbeat = ?,
				    last_source_ip = ?, last_device_name = ?, heartbeat_payload = ?
				WHERE id = ?`,
				status, now, now, sourceIP, deviceName, payloadJSON, crawler.ID); err != nil {
				return fmt.Errorf("update crawler: %w", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				UPDATE crawlers
				SET last_heartbeat = ?, last_source_ip = ?, last_device_name = ?,
				    heartbeat_payload = ?
				WHERE id = ?`,
				now, sourceIP, deviceName, payloadJSON, crawler.ID); err != nil {
				return fmt.Errorf("update crawler: %w", err)
			}
		}

		// Step 2: append the heartbeat event
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO crawler_heartbeats (crawler_id, api_key_id, status, payload, source_ip, device_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			crawler.ID, apiKeyID, status, payloadJSON, sourceIP, deviceName, now); err != nil {
			return fmt.Errorf("append heartbeat: %w", err)
		}

		// Step 3: mirror onto the open run, if any
		if _, err := tx.ExecContext(ctx, `
			UPDATE crawler_runs SET last_heartbeat = ?
			WHERE crawler_id = ? AND status = ?`,
			now, crawler.ID, storage.RunStatusRunning); err != nil {
			return fmt.Errorf("mirror run heartbeat: %w", err)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	// Keep the in-memory view current for the alert pass
	if crawler.Status != status {
		changed := now
		crawler.StatusChangedAt = &changed
	}
	crawler.Status = status
	hb := now
	crawler.LastHeartbeat = &hb
	crawler.HeartbeatPayload = payloadJSON

	// Step 4: alert evaluation runs outside the transaction; it must never
	// fail the heartbeat
	e.alerts.EvaluateHeartbeat(ctx, crawler, in.Payload, now)

	log.Debug().
		Int64("crawler_id", crawler.ID).
		Str("status", status).
		Msg("Heartbeat recorded")

	return status, nil
}

// StartRun opens a new run for the crawler.
func (e *Engine) StartRun(ctx context.Context, crawler *storage.Crawler, sourceIP string) (*storage.CrawlerRun, error) {
	run := &storage.CrawlerRun{
		CrawlerID: crawler.ID,
		Status:    storage.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if sourceIP != "" {
		run.SourceIP = &sourceIP
	}

	if _, err := e.repos.CrawlerRuns.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// FinishRun closes a run with a terminal status. Finishing an already closed
// run overwrites its outcome; workers retrying a finish report stay
// idempotent that way.
func (e *Engine) FinishRun(ctx context.Context, crawlerID, runID int64, status string) (*storage.CrawlerRun, error) {
	if status == "" {
		status = storage.RunStatusSuccess
	}
	if status != storage.RunStatusSuccess && status != storage.RunStatusFailed {
		return nil, fmt.Errorf("invalid run status: %s", status)
	}

	run, err := e.repos.CrawlerRuns.First(ctx, "id = ? AND crawler_id = ?", runID, crawlerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run.Status = status
	run.EndedAt = &now

	if err := e.repos.CrawlerRuns.Update(ctx, run); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}
	return run, nil
}
