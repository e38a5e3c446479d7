package core

import (
	"time"

	"watchpost/internal/storage"
)

// Freshness windows for heartbeat-derived status.
const (
	// OnlineWindow is the maximum heartbeat age for an online crawler.
	OnlineWindow = 5 * time.Minute

	// WarningWindow is the maximum heartbeat age before a crawler is
	// considered offline.
	WarningWindow = 15 * time.Minute
)

// DeriveStatus computes the effective status of a crawler from its last
// heartbeat timestamp. This pure derivation is canonical on every read path;
// the stored status column only reflects the state at write time.
//
// A nil heartbeat means the crawler has never reported: offline.
func DeriveStatus(lastHeartbeat *time.Time, now time.Time) string {
	if lastHeartbeat == nil {
		return storage.CrawlerStatusOffline
	}

	age := now.Sub(*lastHeartbeat)
	switch {
	case age <= OnlineWindow:
		return storage.CrawlerStatusOnline
	case age <= WarningWindow:
		return storage.CrawlerStatusWarning
	default:
		return storage.CrawlerStatusOffline
	}
}
