package core

import (
	"context"

	"github.com/rs/zerolog/log"

	"watchpost/internal/storage"
)

// Trim loop guards. The loops converge in one pass for any realistic
// backlog; the caps only bound pathological inputs.
const (
	crawlerTrimMaxLoops = 20
	userTrimMaxLoops    = 50
)

// LogUsage reports retained line and byte counts for one crawler. Bytes are
// approximated as the sum of message lengths.
type LogUsage struct {
	Lines int64 `json:"lines"`
	Bytes int64 `json:"bytes"`
}

// CrawlerLogUsage returns the current retention usage of one crawler.
func (e *Engine) CrawlerLogUsage(ctx context.Context, crawlerID int64) (LogUsage, error) {
	var usage LogUsage
	err := e.store.DB().QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(LENGTH(message)), 0) FROM log_entries WHERE crawler_id = ?",
		crawlerID).Scan(&usage.Lines, &usage.Bytes)
	return usage, err
}

// UserLogUsage returns the current retention usage across all of a user's
// crawlers.
func (e *Engine) UserLogUsage(ctx context.Context, userID int64) (LogUsage, error) {
	var usage LogUsage
	err := e.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(l.message)), 0)
		FROM log_entries l
		JOIN crawlers c ON c.id = l.crawler_id
		WHERE c.user_id = ?`,
		userID).Scan(&usage.Lines, &usage.Bytes)
	return usage, err
}

// EnforceLogLimits trims the oldest log lines until the crawler's line and
// byte caps and the owner's byte quota hold again. Deletion happens in
// chunks so a huge backlog cannot hold a transaction open for long.
//
// Enforcement is best-effort by design: errors are logged and swallowed so
// ingestion never fails because trimming did.
func (e *Engine) EnforceLogLimits(ctx context.Context, crawler *storage.Crawler, user *storage.User) {
	maxLines, maxBytes := e.effectiveCrawlerLimits(crawler)

	if maxLines > 0 {
		e.trimCrawlerByLines(ctx, crawler.ID, maxLines)
	}
	if maxBytes > 0 {
		e.trimCrawlerByBytes(ctx, crawler.ID, maxBytes)
	}

	if quota := e.effectiveUserQuota(user); quota > 0 {
		e.trimUserByBytes(ctx, user.ID, quota)
	}
}

// effectiveCrawlerLimits resolves the crawler's caps: a NULL column falls
// back to the server default, and any value <= 0 disables that cap.
func (e *Engine) effectiveCrawlerLimits(crawler *storage.Crawler) (maxLines, maxBytes int64) {
	maxLines = int64(e.cfg.Logs.DefaultMaxLines)
	if crawler.LogMaxLines != nil {
		maxLines = *crawler.LogMaxLines
	}
	maxBytes = int64(e.cfg.Logs.DefaultMaxBytes)
	if crawler.LogMaxBytes != nil {
		maxBytes = *crawler.LogMaxBytes
	}
	return maxLines, maxBytes
}

func (e *Engine) effectiveUserQuota(user *storage.User) int64 {
	if user == nil {
		return 0
	}
	if user.LogQuotaBytes != nil {
		return *user.LogQuotaBytes
	}
	return int64(e.cfg.Logs.DefaultQuotaBytes)
}

func (e *Engine) trimChunk() int64 {
	chunk := int64(e.cfg.Logs.TrimChunkLines)
	if chunk < 1000 {
		chunk = 1000
	}
	return chunk
}

func (e *Engine) trimCrawlerByLines(ctx context.Context, crawlerID, maxLines int64) {
	chunk := e.trimChunk()

	for i := 0; i < crawlerTrimMaxLoops; i++ {
		var count int64
		if err := e.store.DB().QueryRowContext(ctx,
			"SELECT COUNT(*) FROM log_entries WHERE crawler_id = ?", crawlerID).Scan(&count); err != nil {
			log.Warn().Err(err).Int64("crawler_id", crawlerID).Msg("Log line trim aborted")
			return
		}
		if count <= maxLines {
			return
		}

		excess := count - maxLines
		if excess > chunk {
			excess = chunk
		}
		if err := e.deleteOldestCrawlerLogs(ctx, crawlerID, excess); err != nil {
			log.Warn().Err(err).Int64("crawler_id", crawlerID).Msg("Log line trim aborted")
			return
		}
	}
}

func (e *Engine) trimCrawlerByBytes(ctx context.Context, crawlerID, maxBytes int64) {
	chunk := e.trimChunk()

	for i := 0; i < crawlerTrimMaxLoops; i++ {
		var bytes int64
		if err := e.store.DB().QueryRowContext(ctx,
			"SELECT COALESCE(SUM(LENGTH(message)), 0) FROM log_entries WHERE crawler_id = ?",
			crawlerID).Scan(&bytes); err != nil {
			log.Warn().Err(err).Int64("crawler_id", crawlerID).Msg("Log byte trim aborted")
			return
		}
		if bytes <= maxBytes {
			return
		}

		if err := e.deleteOldestCrawlerLogs(ctx, crawlerID, chunk); err != nil {
			log.Warn().Err(err).Int64("crawler_id", crawlerID).Msg("Log byte trim aborted")
			return
		}
	}
}

func (e *Engine) trimUserByBytes(ctx context.Context, userID, quota int64) {
	chunk := e.trimChunk()

	for i := 0; i < userTrimMaxLoops; i++ {
		var bytes int64
		if err := e.store.DB().QueryRowContext(ctx, `
			SELECT COALESCE(SUM(LENGTH(l.message)), 0)
			FROM log_entries l
			JOIN crawlers c ON c.id = l.crawler_id
			WHERE c.user_id = ?`,
			userID).Scan(&bytes); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("User quota trim aborted")
			return
		}
		if bytes <= quota {
			return
		}

		result, err := e.store.DB().ExecContext(ctx, `
			DELETE FROM log_entries WHERE id IN (
				SELECT l.id FROM log_entries l
				JOIN crawlers c ON c.id = l.crawler_id
				WHERE c.user_id = ?
				ORDER BY l.id ASC
				LIMIT ?
			)`, userID, chunk)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("User quota trim aborted")
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return
		}
	}
}

func (e *Engine) deleteOldestCrawlerLogs(ctx context.Context, crawlerID, limit int64) error {
	_, err := e.store.DB().ExecContext(ctx, `
		DELETE FROM log_entries WHERE id IN (
			SELECT id FROM log_entries
			WHERE crawler_id = ?
			ORDER BY id ASC
			LIMIT ?
		)`, crawlerID, limit)
	return err
}

// PurgeCrawlerLogs removes every retained log line of one crawler and
// returns the number of deleted rows.
func (e *Engine) PurgeCrawlerLogs(ctx context.Context, crawlerID int64) (int64, error) {
	result, err := e.store.DB().ExecContext(ctx,
		"DELETE FROM log_entries WHERE crawler_id = ?", crawlerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
