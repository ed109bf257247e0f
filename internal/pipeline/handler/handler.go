// Package handler exposes the pipeline engine over HTTP.
package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/internal/pipeline/service"
	"crm_pipeline_backend/internal/pipeline/transport"
	"crm_pipeline_backend/platform/apperr"
	"crm_pipeline_backend/platform/config"
	"crm_pipeline_backend/platform/httpkit"
	"crm_pipeline_backend/platform/validator"
)

// Handler wires pipeline service operations to Gin routes.
type Handler struct {
	svc *service.Service
	cfg config.WebhookConfig
	val *validator.Validator
}

// New creates a pipeline HTTP handler.
func New(svc *service.Service, cfg config.WebhookConfig, val *validator.Validator) *Handler {
	return &Handler{svc: svc, cfg: cfg, val: val}
}

// RegisterRoutes mounts the authenticated pipeline routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:entityType/:entityId/stage", h.GetStage)
	rg.POST("/:entityType/:entityId/stage/advance", h.AdvanceStage)
	rg.GET("/:entityType/:entityId/stage/history", h.ListTransitions)
	rg.GET("/:entityType/:entityId/actions", h.ListActions)
	rg.POST("/:entityType/:entityId/actions", h.CreateAction)
	rg.GET("/:entityType/:entityId/next-action", h.SuggestNextAction)
	rg.POST("/actions/:actionId/validate", h.ValidateAction)
}

// RegisterWebhookRoutes mounts the unauthenticated collaborator callbacks.
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	rg.POST("/signature-complete", h.SignatureComplete)
}

// GetStage returns the opportunity's current stage, implicitly agent_initial
// when no stage row exists yet.
func (h *Handler) GetStage(c *gin.Context) {
	ref, ok := h.entityRef(c)
	if !ok {
		return
	}

	resp, err := h.svc.GetStage(c.Request.Context(), ref)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// AdvanceStage performs an explicit version-checked stage write.
func (h *Handler) AdvanceStage(c *gin.Context) {
	ref, ok := h.entityRef(c)
	if !ok {
		return
	}

	var req transport.AdvanceStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	resp, err := h.svc.AdvanceStage(c.Request.Context(), ref, identity.ActorID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// ListTransitions returns the immutable stage history.
func (h *Handler) ListTransitions(c *gin.Context) {
	ref, ok := h.entityRef(c)
	if !ok {
		return
	}

	resp, err := h.svc.ListTransitions(c.Request.Context(), ref)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// CreateAction opens a new pending action on the ledger.
func (h *Handler) CreateAction(c *gin.Context) {
	ref, ok := h.entityRef(c)
	if !ok {
		return
	}

	var req transport.CreateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	resp, err := h.svc.CreateAction(c.Request.Context(), ref, identity.ActorID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, resp)
}

// ListActions returns the opportunity's action ledger, optionally filtered.
func (h *Handler) ListActions(c *gin.Context) {
	ref, ok := h.entityRef(c)
	if !ok {
		return
	}

	var req transport.ListActionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	resp, err := h.svc.ListActions(c.Request.Context(), ref, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// SuggestNextAction returns the resolver's proposal for the opportunity.
func (h *Handler) SuggestNextAction(c *gin.Context) {
	ref, ok := h.entityRef(c)
	if !ok {
		return
	}

	resp, err := h.svc.SuggestNextAction(c.Request.Context(), ref)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// ValidateAction applies a human decision to a pending action.
func (h *Handler) ValidateAction(c *gin.Context) {
	actionID, err := uuid.Parse(c.Param("actionId"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid action id"))
		return
	}

	var req transport.ValidateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	resp, err := h.svc.ValidateAction(c.Request.Context(), actionID, identity.ActorID(), primaryRole(identity), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// SignatureComplete handles the signature+payment collaborator callback.
// The request body is authenticated with an HMAC-SHA256 signature header.
func (h *Handler) SignatureComplete(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("failed to read request body"))
		return
	}

	if !h.verifySignature(c.GetHeader("X-Webhook-Signature"), body) {
		httpkit.HandleError(c, apperr.Unauthorized("invalid webhook signature"))
		return
	}

	// Bound by hand because the body was already consumed for the HMAC check.
	var req transport.SignatureCompleteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpkit.HandleError(c, apperr.Validation("malformed request body"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	resp, err := h.svc.CompleteSignature(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// entityRef parses and validates the path's entity reference. On failure it
// writes the error response and returns ok=false.
func (h *Handler) entityRef(c *gin.Context) (domain.EntityRef, bool) {
	entityType := domain.EntityType(c.Param("entityType"))
	if !entityType.Valid() {
		httpkit.HandleError(c, apperr.Validation("entityType must be contact or lead"))
		return domain.EntityRef{}, false
	}

	entityID, err := uuid.Parse(c.Param("entityId"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid entity id"))
		return domain.EntityRef{}, false
	}

	return domain.EntityRef{EntityType: entityType, EntityID: entityID}, true
}

func (h *Handler) verifySignature(header string, body []byte) bool {
	secret := h.cfg.GetSignatureWebhookSecret()
	if secret == "" || header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// primaryRole picks the highest-privilege pipeline role the actor holds.
func primaryRole(identity httpkit.Identity) domain.Role {
	for _, role := range []domain.Role{domain.RoleAdmin, domain.RoleLawyer, domain.RoleAgent} {
		if identity.HasRole(string(role)) {
			return role
		}
	}
	return ""
}
