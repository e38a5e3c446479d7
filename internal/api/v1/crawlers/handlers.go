package crawlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"watchpost/internal/api/auth"
	"watchpost/internal/api/types"
	"watchpost/internal/core"
	"watchpost/internal/ratelimit"
	"watchpost/internal/storage"
)

// Handler manages all crawler-related operator endpoints.
type Handler struct {
	engine     *core.Engine
	storage    *storage.Storage
	logLimiter *ratelimit.Limiter
}

func NewHandler(engine *core.Engine, storage *storage.Storage, logLimiter *ratelimit.Limiter) *Handler {
	return &Handler{engine: engine, storage: storage, logLimiter: logLimiter}
}

// ownedCrawler loads the :id crawler and verifies the session owns it. A
// foreign crawler reads as not found so ids stay unguessable.
func (h *Handler) ownedCrawler(c *gin.Context) (*storage.Crawler, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid crawler id"))
		return nil, false
	}

	crawler, err := h.storage.Repos.Crawlers.GetByID(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Crawler"))
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to load crawler"))
		return nil, false
	}

	user := auth.SessionUser(c)
	if crawler.UserID != user.ID {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Crawler"))
		return nil, false
	}
	return crawler, true
}

// allowLogQuery applies the per-account log query rate limit.
func (h *Handler) allowLogQuery(c *gin.Context) bool {
	user := auth.SessionUser(c)
	if !h.logLimiter.Allow(c.Request.Context(), fmt.Sprintf("user:%d", user.ID)) {
		c.JSON(http.StatusTooManyRequests,
			types.RateLimitedErrorResponse("Log query rate limit exceeded"))
		return false
	}
	return true
}

// List handles GET /api/v1/crawlers.
//
// Supports status, group_id, api_key_id and keyword filters. Pinned crawlers
// sort first, then most recent heartbeat. The status filter works on the
// derived status, so filtering happens after the fetch and pagination is
// applied in memory.
func (h *Handler) List(c *gin.Context) {
	var pagination types.PaginationRequest
	if err := c.ShouldBindQuery(&pagination); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	pagination.Normalize()

	user := auth.SessionUser(c)
	query := h.storage.Repos.Crawlers.Select().Where("user_id = ?", user.ID)

	if groupID := c.Query("group_id"); groupID != "" {
		id, err := strconv.ParseInt(groupID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid group_id"))
			return
		}
		query = query.Where("group_id = ?", id)
	}
	if keyID := c.Query("api_key_id"); keyID != "" {
		id, err := strconv.ParseInt(keyID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid api_key_id"))
			return
		}
		query = query.Where("api_key_id = ?", id)
	}
	if keyword := c.Query("q"); keyword != "" {
		query = query.Where("name LIKE ?", "%"+keyword+"%")
	}

	crawlers, err := query.
		OrderBy("CASE WHEN pinned_at IS NOT NULL THEN 0 ELSE 1 END, last_heartbeat DESC").
		Execute(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list crawlers"))
		return
	}

	now := time.Now().UTC()
	statusFilter := strings.ToLower(c.Query("status"))

	responses := make([]CrawlerResponse, 0, len(crawlers))
	for i := range crawlers {
		resp := newCrawlerResponse(&crawlers[i], now)
		if statusFilter != "" && resp.Status != statusFilter {
			continue
		}
		responses = append(responses, resp)
	}

	total := int64(len(responses))
	start := pagination.Offset()
	if start > len(responses) {
		start = len(responses)
	}
	end := start + pagination.PageSize
	if end > len(responses) {
		end = len(responses)
	}

	c.JSON(http.StatusOK, types.ListResponse(responses[start:end], &pagination, total))
}

// Get handles GET /api/v1/crawlers/:id.
func (h *Handler) Get(c *gin.Context) {
	crawler, ok := h.ownedCrawler(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(newCrawlerResponse(crawler, time.Now().UTC())))
}

// Update handles PATCH /api/v1/crawlers/:id.
//
// Turning a crawler public creates its quick link on first use and reuses
// the slug afterwards; turning it private deactivates the link but keeps the
// slug stable for the next toggle.
func (h *Handler) Update(c *gin.Context) {
	var req UpdateCrawlerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	crawler, ok := h.ownedCrawler(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if req.Name != nil {
		crawler.Name = *req.Name
	}
	if req.GroupID != nil {
		if *req.GroupID == 0 {
			crawler.GroupID = nil
		} else {
			if _, err := h.storage.Repos.CrawlerGroups.First(ctx,
				"id = ? AND user_id = ?", *req.GroupID, crawler.UserID); err != nil {
				c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Unknown group"))
				return
			}
			crawler.GroupID = req.GroupID
		}
	}
	if req.Pinned != nil {
		if *req.Pinned {
			if crawler.PinnedAt == nil {
				now := time.Now().UTC()
				crawler.PinnedAt = &now
			}
		} else {
			crawler.PinnedAt = nil
		}
	}
	if req.LogMaxLines != nil {
		crawler.LogMaxLines = normalizeCap(*req.LogMaxLines)
	}
	if req.LogMaxBytes != nil {
		crawler.LogMaxBytes = normalizeCap(*req.LogMaxBytes)
	}
	if req.IsPublic != nil && *req.IsPublic != crawler.IsPublic {
		if err := h.togglePublic(c, crawler, *req.IsPublic); err != nil {
			c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to update quick link"))
			return
		}
	}

	if err := crawler.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if err := h.storage.Repos.Crawlers.Update(ctx, crawler); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to update crawler"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(newCrawlerResponse(crawler, time.Now().UTC())))
}

// normalizeCap maps the PATCH convention onto the stored column: 0 resets to
// the server default (NULL), negative disables the cap.
func normalizeCap(v int64) *int64 {
	if v == 0 {
		return nil
	}
	if v < 0 {
		disabled := int64(-1)
		return &disabled
	}
	return &v
}

func (h *Handler) togglePublic(c *gin.Context, crawler *storage.Crawler, public bool) error {
	ctx := c.Request.Context()
	crawler.IsPublic = public

	if !public {
		if crawler.PublicSlug != nil {
			if _, err := h.storage.DB().ExecContext(ctx,
				"UPDATE quick_links SET is_active = 0 WHERE slug = ?", *crawler.PublicSlug); err != nil {
				return err
			}
		}
		return nil
	}

	if crawler.PublicSlug != nil {
		_, err := h.storage.DB().ExecContext(ctx,
			"UPDATE quick_links SET is_active = 1 WHERE slug = ?", *crawler.PublicSlug)
		return err
	}

	user := auth.SessionUser(c)
	link := &storage.QuickLink{
		TargetType: storage.TargetTypeCrawler,
		CrawlerID:  &crawler.ID,
		AllowLogs:  false,
		IsActive:   true,
		CreatedBy:  user.ID,
	}
	if err := link.Validate(); err != nil {
		return err
	}
	if _, err := h.storage.Repos.QuickLinks.Create(ctx, link); err != nil {
		return err
	}
	crawler.PublicSlug = &link.Slug
	return nil
}

// Delete handles DELETE /api/v1/crawlers/:id. Dependent rows, including the
// crawler's quick link, go with it.
func (h *Handler) Delete(c *gin.Context) {
	crawler, ok := h.ownedCrawler(c)
	if !ok {
		return
	}

	if err := h.engine.DeleteCrawler(c.Request.Context(), crawler); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to delete crawler"))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"deleted": true}))
}

// Runs handles GET /api/v1/crawlers/:id/runs.
func (h *Handler) Runs(c *gin.Context) {
	var pagination types.PaginationRequest
	if err := c.ShouldBindQuery(&pagination); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	pagination.Normalize()

	crawler, ok := h.ownedCrawler(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	total, err := h.storage.Repos.CrawlerRuns.Count(ctx, "crawler_id = ?", crawler.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to count runs"))
		return
	}

	runs, err := h.storage.Repos.CrawlerRuns.Select().
		Where("crawler_id = ?", crawler.ID).
		OrderBy("id DESC").
		Limit(pagination.PageSize).
		Offset(pagination.Offset()).
		Execute(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list runs"))
		return
	}

	responses := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		responses = append(responses, RunResponse{
			ID:            run.ID,
			Status:        run.Status,
			StartedAt:     run.StartedAt,
			EndedAt:       run.EndedAt,
			LastHeartbeat: run.LastHeartbeat,
			SourceIP:      run.SourceIP,
		})
	}

	c.JSON(http.StatusOK, types.ListResponse(responses, &pagination, total))
}

// Heartbeats handles GET /api/v1/crawlers/:id/heartbeats.
//
// Query parameters:
//   - from, to: RFC3339 bounds (optional)
//   - limit: rows fetched newest-first (default 500, 1-5000)
//   - max_points: down-sampling target (default 600, 50-6000)
//
// When more rows match than max_points, evenly spaced samples are returned
// so charts stay bounded.
func (h *Handler) Heartbeats(c *gin.Context) {
	crawler, ok := h.ownedCrawler(c)
	if !ok {
		return
	}

	limit := clampQueryInt(c, "limit", 500, 1, 5000)
	maxPoints := clampQueryInt(c, "max_points", 600, 50, 6000)

	query := h.storage.Repos.Heartbeats.Select().Where("crawler_id = ?", crawler.ID)

	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid from timestamp"))
			return
		}
		query = query.Where("created_at >= ?", t.UTC())
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid to timestamp"))
			return
		}
		query = query.Where("created_at <= ?", t.UTC())
	}

	heartbeats, err := query.
		OrderBy("id DESC").
		Limit(limit).
		Execute(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list heartbeats"))
		return
	}

	// Restore chronological order for charting
	for i, j := 0, len(heartbeats)-1; i < j; i, j = i+1, j-1 {
		heartbeats[i], heartbeats[j] = heartbeats[j], heartbeats[i]
	}

	sampled := downsampleHeartbeats(heartbeats, maxPoints)

	responses := make([]HeartbeatResponse, 0, len(sampled))
	for _, hb := range sampled {
		resp := HeartbeatResponse{
			ID:        hb.ID,
			Status:    hb.Status,
			CreatedAt: hb.CreatedAt,
		}
		if hb.Payload != nil && json.Valid([]byte(*hb.Payload)) {
			resp.Payload = json.RawMessage(*hb.Payload)
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{
		"heartbeats": responses,
		"total":      len(heartbeats),
		"sampled":    len(responses) < len(heartbeats),
	}))
}

// downsampleHeartbeats picks evenly spaced samples, always keeping the last
// event so the newest state survives sampling.
func downsampleHeartbeats(heartbeats []storage.CrawlerHeartbeat, maxPoints int) []storage.CrawlerHeartbeat {
	if len(heartbeats) <= maxPoints {
		return heartbeats
	}

	sampled := make([]storage.CrawlerHeartbeat, 0, maxPoints)
	step := float64(len(heartbeats)-1) / float64(maxPoints-1)
	for i := 0; i < maxPoints; i++ {
		sampled = append(sampled, heartbeats[int(float64(i)*step)])
	}
	sampled[len(sampled)-1] = heartbeats[len(heartbeats)-1]
	return sampled
}

// Commands handles GET /api/v1/crawlers/:id/commands.
//
// Pages backwards with a before_id cursor so a poller never skips rows while
// new commands arrive.
func (h *Handler) Commands(c *gin.Context) {
	crawler, ok := h.ownedCrawler(c)
	if !ok {
		return
	}

	limit := clampQueryInt(c, "limit", 50, 1, 200)
	query := h.storage.Repos.Commands.Select().Where("crawler_id = ?", crawler.ID)

	if beforeID := c.Query("before_id"); beforeID != "" {
		id, err := strconv.ParseInt(beforeID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid before_id"))
			return
		}
		query = query.Where("id < ?", id)
	}
	if status := c.Query("status"); status != "" {
		if !storage.IsValidCommandStatus(status) {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid status filter"))
			return
		}
		query = query.Where("status = ?", status)
	}

	commands, err := query.OrderBy("id DESC").Limit(limit).Execute(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list commands"))
		return
	}

	responses := make([]CommandResponse, 0, len(commands))
	for _, cmd := range commands {
		responses = append(responses, newCommandResponse(&cmd))
	}

	c.JSON(http.StatusOK, types.SuccessResponse(responses))
}

func newCommandResponse(cmd *storage.CrawlerCommand) CommandResponse {
	resp := CommandResponse{
		ID:          cmd.ID,
		Command:     cmd.Command,
		Status:      cmd.Status,
		ExpiresAt:   cmd.ExpiresAt,
		ProcessedAt: cmd.ProcessedAt,
		CreatedAt:   cmd.CreatedAt,
	}
	if cmd.Payload != nil && json.Valid([]byte(*cmd.Payload)) {
		resp.Payload = json.RawMessage(*cmd.Payload)
	}
	if cmd.Result != nil && json.Valid([]byte(*cmd.Result)) {
		resp.Result = json.RawMessage(*cmd.Result)
	}
	return resp
}

// IssueCommand handles POST /api/v1/crawlers/:id/commands.
func (h *Handler) IssueCommand(c *gin.Context) {
	var req IssueCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	crawler, ok := h.ownedCrawler(c)
	if !ok {
		return
	}

	user := auth.SessionUser(c)
	cmd := &storage.CrawlerCommand{
		CrawlerID: crawler.ID,
		IssuedBy:  &user.ID,
		Command:   req.Command,
		Status:    storage.CommandStatusPending,
	}
	if req.Payload != nil {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid payload"))
			return
		}
		encoded := string(raw)
		cmd.Payload = &encoded
	}
	if req.TTLSeconds > 0 {
		expires := time.Now().UTC().Add(time.Duration(req.TTLSeconds) * time.Second)
		cmd.ExpiresAt = &expires
	}

	if err := h.engine.IssueCommand(c.Request.Context(), cmd); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(newCommandResponse(cmd)))
}

// applyLogFilters attaches the shared log query filters: before_id cursor,
// from/to date range, min_level/max_level severity range, run_id, device and
// ip substring filters, and a q keyword. With regex=true a valid q pattern is
// returned for matching in Go; an invalid pattern degrades to a substring
// filter. Responds with 400 and returns false on a malformed parameter.
func applyLogFilters(c *gin.Context, query *storage.SelectBuilder[storage.LogEntry]) (*storage.SelectBuilder[storage.LogEntry], *regexp.Regexp, bool) {
	if beforeID := c.Query("before_id"); beforeID != "" {
		id, err := strconv.ParseInt(beforeID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid before_id"))
			return nil, nil, false
		}
		query = query.Where("id < ?", id)
	}
	if from := c.Query("from"); from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid from timestamp"))
			return nil, nil, false
		}
		query = query.Where("ts >= ?", ts.UTC())
	}
	if to := c.Query("to"); to != "" {
		ts, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid to timestamp"))
			return nil, nil, false
		}
		query = query.Where("ts <= ?", ts.UTC())
	}
	if minLevel := c.Query("min_level"); minLevel != "" {
		code, ok := core.LevelCode(minLevel)
		if !ok {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Unknown level"))
			return nil, nil, false
		}
		query = query.Where("level_code >= ?", code)
	}
	if maxLevel := c.Query("max_level"); maxLevel != "" {
		code, ok := core.LevelCode(maxLevel)
		if !ok {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Unknown level"))
			return nil, nil, false
		}
		query = query.Where("level_code <= ?", code)
	}
	if runID := c.Query("run_id"); runID != "" {
		id, err := strconv.ParseInt(runID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid run_id"))
			return nil, nil, false
		}
		query = query.Where("run_id = ?", id)
	}
	if device := strings.TrimSpace(c.Query("device")); device != "" {
		query = query.Where("device_name LIKE ?", "%"+device+"%")
	}
	if ip := strings.TrimSpace(c.Query("ip")); ip != "" {
		query = query.Where("source_ip LIKE ?", "%"+ip+"%")
	}

	var pattern *regexp.Regexp
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		useRegex, _ := strconv.ParseBool(c.DefaultQuery("regex", "false"))
		if useRegex {
			if compiled, err := regexp.Compile(q); err == nil {
				pattern = compiled
			} else {
				query = query.Where("message LIKE ?", "%"+q+"%")
			}
		} else {
			query = query.Where("message LIKE ?", "%"+q+"%")
		}
	}

	return query, pattern, true
}

// fetchLogs runs the filtered query newest-first. Regex matching happens on
// a widened scan so the limit still fills up after filtering.
func fetchLogs(c *gin.Context, query *storage.SelectBuilder[storage.LogEntry], pattern *regexp.Regexp, limit int) ([]storage.LogEntry, error) {
	if pattern == nil {
		return query.OrderBy("id DESC").Limit(limit).Execute(c.Request.Context())
	}

	scan := limit * 10
	if scan < limit {
		scan = limit
	}
	if scan > core.RegexScanCap {
		scan = core.RegexScanCap
	}
	entries, err := query.OrderBy("id DESC").Limit(scan).Execute(c.Request.Context())
	if err != nil {
		return nil, err
	}

	matched := make([]storage.LogEntry, 0, limit)
	for _, entry := range entries {
		if !pattern.MatchString(entry.Message) {
			continue
		}
		matched = append(matched, entry)
		if len(matched) == limit {
			break
		}
	}
	return matched, nil
}

func newLogEntryResponses(entries []storage.LogEntry) []LogEntryResponse {
	responses := make([]LogEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, LogEntryResponse{
			ID:         entry.ID,
			RunID:      entry.RunID,
			Level:      entry.Level,
			LevelCode:  entry.LevelCode,
			Message:    entry.Message,
			TS:         entry.TS,
			SourceIP:   entry.SourceIP,
			DeviceName: entry.DeviceName,
		})
	}
	return responses
}

// Logs handles GET /api/v1/crawlers/:id/logs. Rate limited per account.
func (h *Handler) Logs(c *gin.Context) {
	if !h.allowLogQuery(c) {
		return
	}

	crawler, ok := h.ownedCrawler(c)
	if !ok {
		return
	}

	limit := clampQueryInt(c, "limit", 100, 1, 1000)
	query := h.storage.Repos.LogEntries.Select().Where("crawler_id = ?", crawler.ID)

	query, pattern, ok := applyLogFilters(c, query)
	if !ok {
		return
	}

	entries, err := fetchLogs(c, query, pattern, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list logs"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(newLogEntryResponses(entries)))
}

// ListAllLogs handles GET /api/v1/logs: log entries across every crawler the
// account owns, optionally narrowed by a crawler_ids list. Rate limited per
// account.
func (h *Handler) ListAllLogs(c *gin.Context) {
	if !h.allowLogQuery(c) {
		return
	}

	user := auth.SessionUser(c)
	ctx := c.Request.Context()

	owned, err := h.storage.Repos.Crawlers.Select().Where("user_id = ?", user.ID).Execute(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list crawlers"))
		return
	}

	// Foreign ids in the crawler_ids filter are dropped silently
	requested := parseIDList(c.Query("crawler_ids"))
	ids := make([]int64, 0, len(owned))
	for _, crawler := range owned {
		if len(requested) > 0 && !requested[crawler.ID] {
			continue
		}
		ids = append(ids, crawler.ID)
	}
	if len(ids) == 0 {
		c.JSON(http.StatusOK, types.SuccessResponse([]LogEntryResponse{}))
		return
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := h.storage.Repos.LogEntries.Select().
		Where("crawler_id IN ("+strings.Join(placeholders, ", ")+")", args...)

	query, pattern, ok := applyLogFilters(c, query)
	if !ok {
		return
	}

	limit := clampQueryInt(c, "limit", 200, 1, 1000)
	entries, err := fetchLogs(c, query, pattern, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list logs"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(newLogEntryResponses(entries)))
}

// parseIDList parses a comma separated id list; malformed entries are
// skipped.
func parseIDList(raw string) map[int64]bool {
	ids := make(map[int64]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids[id] = true
		}
	}
	return ids
}

// Stats handles GET /api/v1/crawlers/:id/stats. Rate limited per account.
func (h *Handler) Stats(c *gin.Context) {
	if !h.allowLogQuery(c) {
		return
	}

	crawler, ok := h.ownedCrawler(c)
	if !ok {
		return
	}

	req := core.StatsRequest{
		CrawlerID:   crawler.ID,
		Hours:       queryInt(c, "hours"),
		Buckets:     queryInt(c, "buckets"),
		Granularity: c.Query("granularity"),
		MinLevel:    c.Query("min_level"),
		MaxLevel:    c.Query("max_level"),
		Keyword:     c.Query("q"),
		Regex:       c.Query("regex"),
	}

	result, err := h.engine.LogStats(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to compute stats"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(result))
}

// Usage handles GET /api/v1/crawlers/:id/usage.
func (h *Handler) Usage(c *gin.Context) {
	crawler, ok := h.ownedCrawler(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	crawlerUsage, err := h.engine.CrawlerLogUsage(ctx, crawler.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to compute usage"))
		return
	}
	accountUsage, err := h.engine.UserLogUsage(ctx, crawler.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to compute usage"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(UsageResponse{
		Crawler: crawlerUsage,
		Account: accountUsage,
	}))
}

// AccountUsage handles GET /api/v1/logs/usage.
func (h *Handler) AccountUsage(c *gin.Context) {
	user := auth.SessionUser(c)

	usage, err := h.engine.UserLogUsage(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to compute usage"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(usage))
}

// PurgeLogs handles DELETE /api/v1/crawlers/:id/logs.
func (h *Handler) PurgeLogs(c *gin.Context) {
	crawler, ok := h.ownedCrawler(c)
	if !ok {
		return
	}

	deleted, err := h.engine.PurgeCrawlerLogs(c.Request.Context(), crawler.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to purge logs"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"deleted": deleted}))
}

// clampQueryInt parses a query int with a default and inclusive bounds.
func clampQueryInt(c *gin.Context, name string, def, min, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func queryInt(c *gin.Context, name string) int {
	v, _ := strconv.Atoi(c.Query(name))
	return v
}
