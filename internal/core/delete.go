package core

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"watchpost/internal/storage"
)

// DeleteCrawler removes a crawler together with every dependent row in one
// transaction. Children go first, explicitly, so the procedure does not rely
// on foreign key enforcement: logs, heartbeats, runs, commands, alert state
// and events, and any quick link pointing at the crawler.
func (e *Engine) DeleteCrawler(ctx context.Context, crawler *storage.Crawler) error {
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM log_entries WHERE crawler_id = ?",
			"DELETE FROM crawler_heartbeats WHERE crawler_id = ?",
			"DELETE FROM crawler_runs WHERE crawler_id = ?",
			"DELETE FROM crawler_commands WHERE crawler_id = ?",
			"DELETE FROM alert_states WHERE crawler_id = ?",
			"DELETE FROM alert_events WHERE crawler_id = ?",
			"DELETE FROM quick_links WHERE target_type = 'crawler' AND crawler_id = ?",
			"DELETE FROM crawlers WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, stmt, crawler.ID); err != nil {
				return fmt.Errorf("delete crawler %d children: %w", crawler.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Int64("crawler_id", crawler.ID).
		Str("name", crawler.Name).
		Msg("Crawler deleted")
	return nil
}
