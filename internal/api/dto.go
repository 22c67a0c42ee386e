package api

import "github.com/sybethiesant/flexerr/internal/models"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateRuleRequest creates a new lifecycle rule
type CreateRuleRequest struct {
	Name        string           `json:"name" binding:"required"`
	Priority    int              `json:"priority"`
	Active      *bool            `json:"active,omitempty"`
	TargetKind  models.MediaKind `json:"target_kind" binding:"required"`
	LibraryIDs  *string          `json:"library_ids,omitempty"`
	Conditions  *string          `json:"conditions,omitempty"`
	Actions     *string          `json:"actions,omitempty"`
	BufferDays  int              `json:"buffer_days"`
	SmartMode   bool             `json:"smart_mode"`
	SmartParams *string          `json:"smart_params,omitempty"`
}

// UpdateRuleRequest partially updates a rule
type UpdateRuleRequest struct {
	Name        *string           `json:"name,omitempty"`
	Priority    *int              `json:"priority,omitempty"`
	Active      *bool             `json:"active,omitempty"`
	TargetKind  *models.MediaKind `json:"target_kind,omitempty"`
	LibraryIDs  *string           `json:"library_ids,omitempty"`
	Conditions  *string           `json:"conditions,omitempty"`
	Actions     *string           `json:"actions,omitempty"`
	BufferDays  *int              `json:"buffer_days,omitempty"`
	SmartMode   *bool             `json:"smart_mode,omitempty"`
	SmartParams *string           `json:"smart_params,omitempty"`
}

// CreateExclusionRequest creates a standing protection entry
type CreateExclusionRequest struct {
	Kind      models.ExclusionKind `json:"kind" binding:"required"`
	Value     string               `json:"value" binding:"required"`
	ExpiresAt *string              `json:"expires_at,omitempty"` // RFC 3339
}

// RunRequest triggers an immediate evaluation pass
type RunRequest struct {
	DryRun bool `json:"dry_run"`
}

// StatusResponse reports scheduler state
type StatusResponse struct {
	Running bool `json:"running"`
}
