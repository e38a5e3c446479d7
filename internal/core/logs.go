package core

import (
	"context"
	"fmt"
	"time"

	"watchpost/internal/storage"
)

// LogInput is one log line submitted by a worker. Level accepts canonical
// names, aliases, or numeric codes; anything else falls back to INFO.
type LogInput struct {
	Level      string
	Message    string
	RunID      *int64
	SourceIP   string
	DeviceName string
}

// IngestLog stores one log line and then enforces the crawler's retention
// caps and the owner's quota. Enforcement failures never fail the ingest.
func (e *Engine) IngestLog(ctx context.Context, crawler *storage.Crawler, user *storage.User, apiKeyID *int64, in LogInput) (*storage.LogEntry, error) {
	if in.Message == "" {
		return nil, fmt.Errorf("log message cannot be empty")
	}

	level, code := ResolveLevel(in.Level)

	entry := &storage.LogEntry{
		CrawlerID: crawler.ID,
		APIKeyID:  apiKeyID,
		RunID:     in.RunID,
		Level:     level,
		LevelCode: code,
		Message:   in.Message,
		TS:        time.Now().UTC(),
	}
	if in.SourceIP != "" {
		entry.SourceIP = &in.SourceIP
	}
	if in.DeviceName != "" {
		entry.DeviceName = &in.DeviceName
	}

	if _, err := e.repos.LogEntries.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("ingest log: %w", err)
	}

	e.EnforceLogLimits(ctx, crawler, user)

	return entry, nil
}
