// Package alerts implements the operator endpoints for alert rules and the
// immutable event log of fired alerts.
package alerts

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"watchpost/internal/api/auth"
	"watchpost/internal/api/types"
	"watchpost/internal/storage"
)

// RuleRequest creates or updates an alert rule.
type RuleRequest struct {
	Name                *string               `json:"name,omitempty" binding:"omitempty,min=1,max=100"`
	Description         *string               `json:"description,omitempty" binding:"omitempty,max=500"`
	TriggerType         *string               `json:"trigger_type,omitempty" binding:"omitempty,oneof=status_offline payload_threshold"`
	TargetType          *string               `json:"target_type,omitempty" binding:"omitempty,oneof=all crawler api_key group"`
	TargetIDs           []int64               `json:"target_ids,omitempty"`
	PayloadField        *string               `json:"payload_field,omitempty" binding:"omitempty,max=200"`
	Comparator          *string               `json:"comparator,omitempty" binding:"omitempty,oneof=gt ge lt le eq ne"`
	Threshold           *float64              `json:"threshold,omitempty"`
	ConsecutiveFailures *int                  `json:"consecutive_failures,omitempty" binding:"omitempty,min=1,max=100"`
	CooldownMinutes     *int                  `json:"cooldown_minutes,omitempty" binding:"omitempty,min=0,max=10080"`
	Channels            []storage.RuleChannel `json:"channels,omitempty"`
	IsActive            *bool                 `json:"is_active,omitempty"`
}

// RuleResponse is a rule in API responses.
type RuleResponse struct {
	ID                  int64                 `json:"id"`
	Name                string                `json:"name"`
	Description         string                `json:"description,omitempty"`
	TriggerType         string                `json:"trigger_type"`
	TargetType          string                `json:"target_type"`
	TargetIDs           []int64               `json:"target_ids,omitempty"`
	PayloadField        *string               `json:"payload_field,omitempty"`
	Comparator          *string               `json:"comparator,omitempty"`
	Threshold           *float64              `json:"threshold,omitempty"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	CooldownMinutes     int                   `json:"cooldown_minutes"`
	Channels            []storage.RuleChannel `json:"channels"`
	IsActive            bool                  `json:"is_active"`
	LastTriggeredAt     *time.Time            `json:"last_triggered_at,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// EventResponse is one fired alert.
type EventResponse struct {
	ID             int64           `json:"id"`
	RuleID         int64           `json:"rule_id"`
	CrawlerID      int64           `json:"crawler_id"`
	TriggeredAt    time.Time       `json:"triggered_at"`
	Status         string          `json:"status"`
	Message        string          `json:"message"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ChannelResults json.RawMessage `json:"channel_results,omitempty"`
	Error          *string         `json:"error,omitempty"`
}

// Handler manages alert endpoints.
type Handler struct {
	storage *storage.Storage
}

func NewHandler(storage *storage.Storage) *Handler {
	return &Handler{storage: storage}
}

// ListRules handles GET /api/v1/alerts/rules.
func (h *Handler) ListRules(c *gin.Context) {
	user := auth.SessionUser(c)

	rules, err := h.storage.Repos.AlertRules.Select().
		Where("user_id = ?", user.ID).
		OrderBy("id DESC").
		Execute(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list rules"))
		return
	}

	responses := make([]RuleResponse, 0, len(rules))
	for i := range rules {
		responses = append(responses, newRuleResponse(&rules[i]))
	}
	c.JSON(http.StatusOK, types.SuccessResponse(responses))
}

// CreateRule handles POST /api/v1/alerts/rules.
func (h *Handler) CreateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if req.Name == nil || req.TriggerType == nil || req.TargetType == nil || len(req.Channels) == 0 {
		c.JSON(http.StatusBadRequest,
			types.ValidationErrorResponse("name, trigger_type, target_type and channels are required"))
		return
	}

	user := auth.SessionUser(c)
	rule := &storage.AlertRule{
		UserID:              user.ID,
		Name:                *req.Name,
		TriggerType:         *req.TriggerType,
		TargetType:          *req.TargetType,
		PayloadField:        req.PayloadField,
		Comparator:          req.Comparator,
		Threshold:           req.Threshold,
		ConsecutiveFailures: 1,
		IsActive:            true,
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.ConsecutiveFailures != nil {
		rule.ConsecutiveFailures = *req.ConsecutiveFailures
	}
	if req.CooldownMinutes != nil {
		rule.CooldownMinutes = *req.CooldownMinutes
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := applyRuleEncoding(rule, req.TargetIDs, req.Channels); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if _, err := h.storage.Repos.AlertRules.Create(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusConflict, types.ConflictErrorResponse("A rule with this name already exists"))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(newRuleResponse(rule)))
}

// GetRule handles GET /api/v1/alerts/rules/:id.
func (h *Handler) GetRule(c *gin.Context) {
	rule, ok := h.ownedRule(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(newRuleResponse(rule)))
}

// UpdateRule handles PATCH /api/v1/alerts/rules/:id.
func (h *Handler) UpdateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	rule, ok := h.ownedRule(c)
	if !ok {
		return
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.TriggerType != nil {
		rule.TriggerType = *req.TriggerType
	}
	if req.TargetType != nil {
		rule.TargetType = *req.TargetType
	}
	if req.PayloadField != nil {
		rule.PayloadField = req.PayloadField
	}
	if req.Comparator != nil {
		rule.Comparator = req.Comparator
	}
	if req.Threshold != nil {
		rule.Threshold = req.Threshold
	}
	if req.ConsecutiveFailures != nil {
		rule.ConsecutiveFailures = *req.ConsecutiveFailures
	}
	if req.CooldownMinutes != nil {
		rule.CooldownMinutes = *req.CooldownMinutes
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := applyRuleEncoding(rule, req.TargetIDs, req.Channels); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if err := h.storage.Repos.AlertRules.Update(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to update rule"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(newRuleResponse(rule)))
}

// DeleteRule handles DELETE /api/v1/alerts/rules/:id. The rule's hysteresis
// states go with it; past events stay.
func (h *Handler) DeleteRule(c *gin.Context) {
	rule, ok := h.ownedRule(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := h.storage.DB().ExecContext(ctx,
		"DELETE FROM alert_states WHERE rule_id = ?", rule.ID); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to delete rule state"))
		return
	}
	if err := h.storage.Repos.AlertRules.Delete(ctx, rule.ID); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to delete rule"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"deleted": true}))
}

// ListEvents handles GET /api/v1/alerts/events with rule and status filters.
func (h *Handler) ListEvents(c *gin.Context) {
	var pagination types.PaginationRequest
	if err := c.ShouldBindQuery(&pagination); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	pagination.Normalize()

	user := auth.SessionUser(c)
	ctx := c.Request.Context()

	condition := "user_id = ?"
	args := []interface{}{user.ID}

	if ruleID := c.Query("rule_id"); ruleID != "" {
		id, err := strconv.ParseInt(ruleID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid rule_id"))
			return
		}
		condition += " AND rule_id = ?"
		args = append(args, id)
	}
	if status := c.Query("status"); status != "" {
		if !storage.IsValidEventStatus(status) {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid status filter"))
			return
		}
		condition += " AND status = ?"
		args = append(args, status)
	}

	total, err := h.storage.Repos.AlertEvents.Count(ctx, condition, args...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to count events"))
		return
	}

	events, err := h.storage.Repos.AlertEvents.Select().
		Where(condition, args...).
		OrderBy("id DESC").
		Limit(pagination.PageSize).
		Offset(pagination.Offset()).
		Execute(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list events"))
		return
	}

	responses := make([]EventResponse, 0, len(events))
	for i := range events {
		responses = append(responses, newEventResponse(&events[i]))
	}

	c.JSON(http.StatusOK, types.ListResponse(responses, &pagination, total))
}

func (h *Handler) ownedRule(c *gin.Context) (*storage.AlertRule, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid rule id"))
		return nil, false
	}

	rule, err := h.storage.Repos.AlertRules.GetByID(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Rule"))
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to load rule"))
		return nil, false
	}

	user := auth.SessionUser(c)
	if rule.UserID != user.ID {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Rule"))
		return nil, false
	}
	return rule, true
}

// applyRuleEncoding stores the request's target ids and channels as the JSON
// text columns the evaluator reads.
func applyRuleEncoding(rule *storage.AlertRule, targetIDs []int64, channels []storage.RuleChannel) error {
	if targetIDs != nil {
		raw, err := json.Marshal(targetIDs)
		if err != nil {
			return err
		}
		encoded := string(raw)
		rule.TargetIDs = &encoded
	}
	if rule.TargetType == storage.TargetTypeAll {
		rule.TargetIDs = nil
	}
	if channels != nil {
		raw, err := json.Marshal(channels)
		if err != nil {
			return err
		}
		rule.Channels = string(raw)
	}
	return nil
}

func newRuleResponse(rule *storage.AlertRule) RuleResponse {
	resp := RuleResponse{
		ID:                  rule.ID,
		Name:                rule.Name,
		Description:         rule.Description,
		TriggerType:         rule.TriggerType,
		TargetType:          rule.TargetType,
		PayloadField:        rule.PayloadField,
		Comparator:          rule.Comparator,
		Threshold:           rule.Threshold,
		ConsecutiveFailures: rule.ConsecutiveFailures,
		CooldownMinutes:     rule.CooldownMinutes,
		IsActive:            rule.IsActive,
		LastTriggeredAt:     rule.LastTriggeredAt,
		CreatedAt:           rule.CreatedAt,
		UpdatedAt:           rule.UpdatedAt,
	}
	if rule.TargetIDs != nil {
		_ = json.Unmarshal([]byte(*rule.TargetIDs), &resp.TargetIDs)
	}
	_ = json.Unmarshal([]byte(rule.Channels), &resp.Channels)
	return resp
}

func newEventResponse(event *storage.AlertEvent) EventResponse {
	resp := EventResponse{
		ID:          event.ID,
		RuleID:      event.RuleID,
		CrawlerID:   event.CrawlerID,
		TriggeredAt: event.TriggeredAt,
		Status:      event.Status,
		Message:     event.Message,
		Error:       event.Error,
	}
	if event.Payload != nil && json.Valid([]byte(*event.Payload)) {
		resp.Payload = json.RawMessage(*event.Payload)
	}
	if event.ChannelResults != nil && json.Valid([]byte(*event.ChannelResults)) {
		resp.ChannelResults = json.RawMessage(*event.ChannelResults)
	}
	return resp
}
