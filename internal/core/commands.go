package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"watchpost/internal/storage"
)

// CommandBatchSize is the maximum number of commands delivered per poll.
const CommandBatchSize = 5

// NextCommands delivers up to CommandBatchSize pending, non-expired commands
// in FIFO order and marks them accepted so a crashed worker re-polling does
// not receive them twice.
func (e *Engine) NextCommands(ctx context.Context, crawlerID int64) ([]storage.CrawlerCommand, error) {
	now := time.Now().UTC()

	commands, err := e.repos.Commands.Select().
		Where("crawler_id = ?", crawlerID).
		Where("status = ?", storage.CommandStatusPending).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		OrderBy("created_at ASC, id ASC").
		Limit(CommandBatchSize).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch commands: %w", err)
	}
	if len(commands) == 0 {
		return commands, nil
	}

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range commands {
			if _, err := tx.ExecContext(ctx,
				"UPDATE crawler_commands SET status = ? WHERE id = ? AND status = ?",
				storage.CommandStatusAccepted, commands[i].ID, storage.CommandStatusPending); err != nil {
				return fmt.Errorf("accept command %d: %w", commands[i].ID, err)
			}
			commands[i].Status = storage.CommandStatusAccepted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return commands, nil
}

// AckCommand records the worker-reported outcome of a command. The operation
// is idempotent by command id: repeated acks overwrite status and result and
// restamp processed_at.
//
// An empty status and the legacy alias "done" normalize to success.
func (e *Engine) AckCommand(ctx context.Context, crawlerID, commandID int64, status string, result map[string]interface{}) (*storage.CrawlerCommand, error) {
	switch status {
	case "", "done":
		status = storage.CommandStatusSuccess
	case storage.CommandStatusAccepted, storage.CommandStatusSuccess, storage.CommandStatusFailed:
	default:
		return nil, fmt.Errorf("invalid ack status: %s", status)
	}

	cmd, err := e.repos.Commands.First(ctx, "id = ? AND crawler_id = ?", commandID, crawlerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cmd.Status = status
	cmd.ProcessedAt = &now

	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode command result: %w", err)
		}
		encoded := string(raw)
		cmd.Result = &encoded
	}

	if err := e.repos.Commands.Update(ctx, cmd); err != nil {
		return nil, fmt.Errorf("ack command: %w", err)
	}
	return cmd, nil
}

// IssueCommand queues a command for a crawler.
func (e *Engine) IssueCommand(ctx context.Context, cmd *storage.CrawlerCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if _, err := e.repos.Commands.Create(ctx, cmd); err != nil {
		return fmt.Errorf("issue command: %w", err)
	}
	return nil
}
