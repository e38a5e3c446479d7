package core

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Scan caps keep stats queries bounded on large log tables. Regex matching
// happens in Go, so regex queries scan fewer rows.
const (
	StatsScanCap = 20000
	RegexScanCap = 5000
)

// Bucketing bounds.
const (
	statsMinHours     = 1
	statsMaxHours     = 168
	statsDefaultHours = 24
	statsMinBuckets   = 2
	statsMaxBuckets   = 240
	statsDefaultBuck  = 24
)

// StatsRequest selects the window, resolution, and filters of a stats query.
type StatsRequest struct {
	CrawlerID int64

	// Hours is the lookback window (1-168, default 24)
	Hours int

	// Buckets is the requested resolution (2-240, default 24). Day and week
	// granularity recompute it from the aligned edges.
	Buckets int

	// Granularity is "auto" (evenly spaced), "day", or "week"
	Granularity string

	// MinLevel / MaxLevel bound the severity range (canonical names)
	MinLevel string
	MaxLevel string

	// Keyword is a substring filter applied in SQL
	Keyword string

	// Regex is applied in Go; an invalid pattern degrades to substring
	Regex string
}

// StatsBucket is one slot of the histogram.
type StatsBucket struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int64     `json:"count"`
}

// StatsResult is the bucketed log volume for one query. From/To are the
// timestamps of the first and last matching rows; with no matches they fall
// back to the window bounds and Buckets is empty.
type StatsResult struct {
	From    time.Time     `json:"from"`
	To      time.Time     `json:"to"`
	Buckets []StatsBucket `json:"buckets"`

	// Total is the number of matching rows
	Total int64 `json:"total"`

	// Scanned is the number of rows examined; it stops growing at the
	// scan cap, so Total is a floor once Scanned hits the cap
	Scanned int64 `json:"scanned"`

	Cached bool `json:"cached"`
}

// LogStats computes the bucketed log volume for a crawler. Results are
// cached in the shared kv store for stats.cache_ttl_seconds; cache failures
// fall through to a fresh computation.
func (e *Engine) LogStats(ctx context.Context, req StatsRequest) (*StatsResult, error) {
	normalizeStatsRequest(&req)

	cacheKey := statsCacheKey(req)
	ttl := time.Duration(e.cfg.Stats.CacheTTLSeconds) * time.Second

	if ttl > 0 {
		if cached, err := e.kv.Get(ctx, cacheKey); err == nil {
			var result StatsResult
			if err := json.Unmarshal([]byte(cached), &result); err == nil {
				result.Cached = true
				return &result, nil
			}
		}
	}

	result, err := e.computeLogStats(ctx, req)
	if err != nil {
		return nil, err
	}

	if ttl > 0 {
		if raw, err := json.Marshal(result); err == nil {
			if err := e.kv.Set(ctx, cacheKey, string(raw), ttl); err != nil {
				log.Warn().Err(err).Msg("Failed to cache log stats")
			}
		}
	}

	return result, nil
}

func normalizeStatsRequest(req *StatsRequest) {
	if req.Hours == 0 {
		req.Hours = statsDefaultHours
	}
	if req.Hours < statsMinHours {
		req.Hours = statsMinHours
	}
	if req.Hours > statsMaxHours {
		req.Hours = statsMaxHours
	}

	if req.Buckets == 0 {
		req.Buckets = statsDefaultBuck
	}
	if req.Buckets < statsMinBuckets {
		req.Buckets = statsMinBuckets
	}
	if req.Buckets > statsMaxBuckets {
		req.Buckets = statsMaxBuckets
	}

	req.Granularity = strings.ToLower(strings.TrimSpace(req.Granularity))
	if req.Granularity != "day" && req.Granularity != "week" {
		req.Granularity = "auto"
	}
}

func statsCacheKey(req StatsRequest) string {
	return fmt.Sprintf("stats:%d:%d:%d:%s:%s:%s:%s:%s",
		req.CrawlerID, req.Hours, req.Buckets, req.Granularity,
		req.MinLevel, req.MaxLevel, req.Keyword, req.Regex)
}

func (e *Engine) computeLogStats(ctx context.Context, req StatsRequest) (*StatsResult, error) {
	now := time.Now().UTC()
	from := now.Add(-time.Duration(req.Hours) * time.Hour)

	// Build the SQL filter; regex matching stays in Go
	conditions := []string{"crawler_id = ?", "ts >= ?"}
	args := []interface{}{req.CrawlerID, from}

	if req.MinLevel != "" {
		if code, ok := LevelCode(req.MinLevel); ok {
			conditions = append(conditions, "level_code >= ?")
			args = append(args, code)
		}
	}
	if req.MaxLevel != "" {
		if code, ok := LevelCode(req.MaxLevel); ok {
			conditions = append(conditions, "level_code <= ?")
			args = append(args, code)
		}
	}
	if req.Keyword != "" {
		conditions = append(conditions, `message LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(req.Keyword)+"%")
	}

	scanCap := StatsScanCap
	matcher := func(string) bool { return true }
	if req.Regex != "" {
		scanCap = RegexScanCap
		if compiled, err := regexp.Compile(req.Regex); err == nil {
			matcher = compiled.MatchString
		} else {
			// Invalid pattern degrades to substring matching
			needle := req.Regex
			matcher = func(msg string) bool { return strings.Contains(msg, needle) }
		}
	}

	query := fmt.Sprintf(`
		SELECT ts, message FROM log_entries
		WHERE %s
		ORDER BY ts ASC
		LIMIT %d`,
		strings.Join(conditions, " AND "), scanCap)

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stats query: %w", err)
	}
	defer rows.Close()

	var scanned int64
	var matched []time.Time
	for rows.Next() {
		var ts time.Time
		var message string
		if err := rows.Scan(&ts, &message); err != nil {
			return nil, fmt.Errorf("stats scan: %w", err)
		}
		scanned++

		if matcher(message) {
			matched = append(matched, ts)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats iteration: %w", err)
	}

	// No matching rows: empty buckets, window bounds as From/To
	if len(matched) == 0 {
		return &StatsResult{From: from, To: now, Buckets: []StatsBucket{}, Scanned: scanned}, nil
	}

	// The grid spans the first and last matching timestamps, not the window
	start := matched[0]
	end := matched[len(matched)-1]

	edges := MakeEdges(start, end, req.Buckets, req.Granularity)
	result := &StatsResult{
		From:    start,
		To:      end,
		Buckets: make([]StatsBucket, len(edges)-1),
		Scanned: scanned,
	}
	for i := range result.Buckets {
		result.Buckets[i] = StatsBucket{Start: edges[i], End: edges[i+1]}
	}

	for _, ts := range matched {
		idx := bucketIndex(edges, ts)
		if idx < 0 {
			continue
		}
		result.Buckets[idx].Count++
		result.Total++
	}

	return result, nil
}

// MakeEdges returns the bucket boundaries for the window: always exactly
// bucketCount+1 instants for "auto", and day/week aligned boundaries (with a
// recomputed bucket count) otherwise.
func MakeEdges(from, to time.Time, bucketCount int, granularity string) []time.Time {
	switch granularity {
	case "day":
		return alignedEdges(from, to, 24*time.Hour)
	case "week":
		start := from.Truncate(24 * time.Hour)
		// Walk back to Monday
		for start.Weekday() != time.Monday {
			start = start.Add(-24 * time.Hour)
		}
		return alignedEdgesFrom(start, to, 7*24*time.Hour)
	default:
		edges := make([]time.Time, bucketCount+1)
		step := to.Sub(from) / time.Duration(bucketCount)
		for i := 0; i < bucketCount; i++ {
			edges[i] = from.Add(time.Duration(i) * step)
		}
		edges[bucketCount] = to
		return edges
	}
}

func alignedEdges(from, to time.Time, step time.Duration) []time.Time {
	return alignedEdgesFrom(from.Truncate(step), to, step)
}

func alignedEdgesFrom(start, to time.Time, step time.Duration) []time.Time {
	edges := []time.Time{start}
	for cursor := start; cursor.Before(to); cursor = cursor.Add(step) {
		edges = append(edges, cursor.Add(step))
	}
	return edges
}

// bucketIndex locates the bucket containing ts, or -1 when out of range.
// The final edge is inclusive so the newest row lands in the last bucket.
func bucketIndex(edges []time.Time, ts time.Time) int {
	if ts.Before(edges[0]) || ts.After(edges[len(edges)-1]) {
		return -1
	}
	idx := sort.Search(len(edges), func(i int) bool {
		return edges[i].After(ts)
	})
	if idx == 0 {
		return 0
	}
	if idx >= len(edges) {
		return len(edges) - 2
	}
	return idx - 1
}

// escapeLike escapes SQL LIKE metacharacters in a user keyword.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
