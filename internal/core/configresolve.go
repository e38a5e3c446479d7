package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"watchpost/internal/storage"
)

// EffectiveConfig is the configuration document a worker should apply.
// HasConfig=false is the explicit "no config" sentinel.
type EffectiveConfig struct {
	HasConfig    bool   `json:"has_config"`
	AssignmentID int64  `json:"assignment_id,omitempty"`
	Name         string `json:"name,omitempty"`
	TargetType   string `json:"target_type,omitempty"`
	Format       string `json:"format,omitempty"`
	Content      string `json:"content,omitempty"`
	Version      int    `json:"version,omitempty"`
}

// ResolveConfig finds the effective configuration for a crawler. Precedence
// is crawler, then the crawler's API key, then its group; only active
// assignments count. No match returns the sentinel, not an error.
func (e *Engine) ResolveConfig(ctx context.Context, crawler *storage.Crawler) (*EffectiveConfig, error) {
	lookups := []struct {
		targetType string
		targetID   *int64
	}{
		{storage.TargetTypeCrawler, &crawler.ID},
		{storage.TargetTypeAPIKey, crawler.APIKeyID},
		{storage.TargetTypeGroup, crawler.GroupID},
	}

	for _, lookup := range lookups {
		if lookup.targetID == nil {
			continue
		}

		assignment, err := e.repos.ConfigAssignments.First(ctx,
			"user_id = ? AND target_type = ? AND target_id = ? AND is_active = 1",
			crawler.UserID, lookup.targetType, *lookup.targetID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve config (%s): %w", lookup.targetType, err)
		}

		return &EffectiveConfig{
			HasConfig:    true,
			AssignmentID: assignment.ID,
			Name:         assignment.Name,
			TargetType:   assignment.TargetType,
			Format:       assignment.Format,
			Content:      assignment.Content,
			Version:      assignment.Version,
		}, nil
	}

	return &EffectiveConfig{HasConfig: false}, nil
}

// ApplyAssignmentUpdate writes new fields onto an assignment. The version
// bumps only when the content actually changes; metadata edits leave it
// alone.
func (e *Engine) ApplyAssignmentUpdate(ctx context.Context, assignment *storage.ConfigAssignment, name, description, format, content *string, isActive *bool) error {
	if name != nil {
		assignment.Name = *name
	}
	if description != nil {
		assignment.Description = *description
	}
	if format != nil {
		assignment.Format = *format
	}
	if content != nil && *content != assignment.Content {
		assignment.Content = *content
		assignment.Version++
	}
	if isActive != nil {
		assignment.IsActive = *isActive
	}

	if err := assignment.Validate(); err != nil {
		return err
	}
	if err := e.repos.ConfigAssignments.Update(ctx, assignment); err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}
