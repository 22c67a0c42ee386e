package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sybethiesant/flexerr/internal/database"
	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/models"
	"github.com/sybethiesant/flexerr/internal/rules"
	"github.com/sybethiesant/flexerr/internal/scheduler"
)

func (s *Server) healthCheck(c *gin.Context) {
	if err := database.HealthCheck(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

func (s *Server) listRules(c *gin.Context) {
	ruleList, err := s.rules.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": ruleList})
}

func (s *Server) createRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	rule := models.Rule{
		Name:        req.Name,
		Priority:    req.Priority,
		Active:      true,
		TargetKind:  req.TargetKind,
		LibraryIDs:  req.LibraryIDs,
		Conditions:  req.Conditions,
		Actions:     req.Actions,
		BufferDays:  req.BufferDays,
		SmartMode:   req.SmartMode,
		SmartParams: req.SmartParams,
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := validateRule(&rule); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	if err := s.rules.Create(c.Request.Context(), &rule); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) getRule(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}

	rule, err := s.rules.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) updateRule(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}

	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	rule, err := s.rules.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if req.TargetKind != nil {
		rule.TargetKind = *req.TargetKind
	}
	if req.LibraryIDs != nil {
		rule.LibraryIDs = req.LibraryIDs
	}
	if req.Conditions != nil {
		rule.Conditions = req.Conditions
	}
	if req.Actions != nil {
		rule.Actions = req.Actions
	}
	if req.BufferDays != nil {
		rule.BufferDays = *req.BufferDays
	}
	if req.SmartMode != nil {
		rule.SmartMode = *req.SmartMode
	}
	if req.SmartParams != nil {
		rule.SmartParams = req.SmartParams
	}

	if err := validateRule(rule); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	if err := s.rules.Update(c.Request.Context(), rule); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) deleteRule(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}

	if err := s.rules.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// validateRule rejects rules the engine could not evaluate: bad target
// kinds and unparseable condition or action payloads
func validateRule(rule *models.Rule) error {
	if !rule.TargetKind.Valid() {
		return errors.ValidationError("unknown target kind: " + string(rule.TargetKind))
	}
	if !rule.SmartMode && rule.TargetKind == models.MediaKindSeasons {
		return errors.ValidationError("seasons rules require smart mode")
	}
	if _, err := rules.ParseConditions(rule.Conditions); err != nil {
		return errors.ValidationError("invalid conditions: " + err.Error())
	}
	if _, err := rules.ParseActions(rule.Actions); err != nil {
		return err
	}
	return nil
}

func (s *Server) listQueue(c *gin.Context) {
	status := models.QueueStatus(c.Query("status"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	items, err := s.queue.List(c.Request.Context(), status, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": items})
}

func (s *Server) getQueueItem(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}

	item, err := s.queue.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// cancelQueueItem lets an operator withdraw a pending decision. Terminal
// items cannot be cancelled; the compare-and-set reports the conflict.
func (s *Server) cancelQueueItem(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}

	if err := s.queue.Transition(c.Request.Context(), id, models.QueueStatusCancelled, nil); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) listExclusions(c *gin.Context) {
	entries, err := s.exclusions.Exclusions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exclusions": entries})
}

func (s *Server) createExclusion(c *gin.Context) {
	var req CreateExclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	entry := models.ExclusionEntry{
		Kind:  req.Kind,
		Value: req.Value,
	}
	if req.ExpiresAt != nil {
		expires, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			s.badRequest(c, "expires_at must be RFC 3339")
			return
		}
		entry.ExpiresAt = &expires
	}

	if err := validateExclusion(&entry); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	if err := s.exclusions.Create(c.Request.Context(), &entry); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func validateExclusion(entry *models.ExclusionEntry) error {
	switch entry.Kind {
	case models.ExclusionKindManual, models.ExclusionKindUser, models.ExclusionKindCollection,
		models.ExclusionKindGenre, models.ExclusionKindTag:
		return nil
	case models.ExclusionKindTitleRegex:
		return rules.ValidateTitlePattern(entry.Value)
	default:
		return errors.ValidationError("unknown exclusion kind: " + string(entry.Kind))
	}
}

func (s *Server) deleteExclusion(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}

	if err := s.exclusions.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := s.audit.RecentEvents(c.Request.Context(), c.Query("type"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) listStats(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	stats, err := s.audit.RecentStats(c.Request.Context(), days)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// runNow triggers an immediate pass. Returns 409 when a pass is already
// in flight; scheduled and manual runs mutually exclude.
func (s *Server) runNow(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err.Error())
			return
		}
	}

	result, err := s.scheduler.Run(c.Request.Context(), req.DryRun)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Running: s.scheduler.Registry().Running(scheduler.PassKey),
	})
}

func (s *Server) idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		s.badRequest(c, "id must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

func (s *Server) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "bad request",
		Message: message,
	})
}

// fail maps application error codes to HTTP statuses
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.GetErrorCode(err) {
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeValidation, errors.CodeInvalidInput:
		status = http.StatusBadRequest
	case errors.CodeConflict, errors.CodeQueueTransition:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request.Context(), "request failed", err)
	}

	c.JSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	})
}
