// Package web provides HTTP handlers for the signposting REST API.
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/persistence"
	"github.com/signpostkit/signpost/pkg/services"
)

// actorHeader carries the authenticated user id. Authentication itself is
// performed upstream by the practice platform.
const actorHeader = "X-User-Id"

type APIHandlers struct {
	templateService  *services.Template
	effectiveService *services.Effective
	instanceService  *services.Instance
	approvalService  *services.Approval
	importerService  *services.Importer
	persistence      persistence.Persistence
	validator        *validator.Validate
}

func NewAPIHandlers(
	templateService *services.Template,
	effectiveService *services.Effective,
	instanceService *services.Instance,
	approvalService *services.Approval,
	importerService *services.Importer,
	p persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		templateService:  templateService,
		effectiveService: effectiveService,
		instanceService:  instanceService,
		approvalService:  approvalService,
		importerService:  importerService,
		persistence:      p,
		validator:        validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Signpost API is healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Signpost API is unhealthy: " + err.Error()
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetEffectiveWorkflows(c fiber.Ctx) error {
	surgeryID := c.Params("surgeryId")
	if surgeryID == "" {
		return badRequest(c, "Surgery ID is required")
	}

	opts := services.EffectiveOptions{}

	if includeDraftsStr := c.Query("include_drafts"); includeDraftsStr != "" {
		includeDrafts, err := strconv.ParseBool(includeDraftsStr)
		if err != nil {
			return badRequest(c, "Invalid include_drafts value")
		}

		opts.IncludeDrafts = includeDrafts
	}

	if includeInactiveStr := c.Query("include_inactive"); includeInactiveStr != "" {
		includeInactive, err := strconv.ParseBool(includeInactiveStr)
		if err != nil {
			return badRequest(c, "Invalid include_inactive value")
		}

		opts.IncludeInactive = includeInactive
	}

	items, err := h.effectiveService.EffectiveWorkflows(c.Context(), surgeryID, opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(EffectiveWorkflowsResponse{
		SurgeryID: surgeryID,
		Workflows: items,
	})
}

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req CreateTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	template, err := h.templateService.CreateTemplate(c.Context(), &services.CreateTemplateRequest{
		Scope:            models.TemplateScope{SurgeryID: req.SurgeryID},
		Name:             req.Name,
		Description:      req.Description,
		Icon:             req.Icon,
		Colour:           req.Colour,
		WorkflowType:     models.WorkflowType(req.WorkflowType),
		SourceTemplateID: req.SourceTemplateID,
	}, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	template, err := h.templateService.GetTemplate(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) UpdateTemplate(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	var req UpdateTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	update := &services.UpdateTemplateRequest{
		Name:        req.Name,
		Description: req.Description,
		Icon:        req.Icon,
		Colour:      req.Colour,
		IsActive:    req.IsActive,
	}

	if req.WorkflowType != nil {
		workflowType := models.WorkflowType(*req.WorkflowType)
		update.WorkflowType = &workflowType
	}

	template, err := h.templateService.UpdateTemplate(c.Context(), id, update, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) DeleteTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	if err := h.templateService.DeleteTemplate(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateNode(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	templateID := c.Params("id")
	if templateID == "" {
		return badRequest(c, "Template ID is required")
	}

	var req CreateNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	node, err := h.templateService.CreateNode(c.Context(), templateID, &services.CreateNodeRequest{
		NodeType:          models.NodeType(req.NodeType),
		Title:             req.Title,
		Body:              req.Body,
		SortOrder:         req.SortOrder,
		IsStart:           req.IsStart,
		ActionKey:         models.ActionKey(req.ActionKey),
		DefaultNextNodeID: req.DefaultNextNodeID,
		PositionX:         req.PositionX,
		PositionY:         req.PositionY,
	}, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(node)
}

func (h *APIHandlers) UpdateNode(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	templateID := c.Params("id")
	nodeID := c.Params("nodeId")

	if templateID == "" || nodeID == "" {
		return badRequest(c, "Template ID and node ID are required")
	}

	var req UpdateNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	update := &services.UpdateNodeRequest{
		Title:     req.Title,
		Body:      req.Body,
		SortOrder: req.SortOrder,
		IsStart:   req.IsStart,
		PositionX: req.PositionX,
		PositionY: req.PositionY,
	}

	if req.ActionKey != nil {
		actionKey := models.ActionKey(*req.ActionKey)
		update.ActionKey = &actionKey
	}

	if req.DefaultNextNodeID.Set {
		if req.DefaultNextNodeID.Value == nil {
			update.ClearDefaultNext = true
		} else {
			update.DefaultNextNodeID = req.DefaultNextNodeID.Value
		}
	}

	node, err := h.templateService.UpdateNode(c.Context(), templateID, nodeID, update, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(node)
}

func (h *APIHandlers) DeleteNode(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	templateID := c.Params("id")
	nodeID := c.Params("nodeId")

	if templateID == "" || nodeID == "" {
		return badRequest(c, "Template ID and node ID are required")
	}

	if err := h.templateService.DeleteNode(c.Context(), templateID, nodeID, actor); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateOption(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	templateID := c.Params("id")
	nodeID := c.Params("nodeId")

	if templateID == "" || nodeID == "" {
		return badRequest(c, "Template ID and node ID are required")
	}

	var req CreateOptionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	option, err := h.templateService.CreateAnswerOption(c.Context(), templateID, nodeID, &services.CreateOptionRequest{
		Label:       req.Label,
		ValueKey:    req.ValueKey,
		Description: req.Description,
		NextNodeID:  req.NextNodeID,
		ActionKey:   models.ActionKey(req.ActionKey),
	}, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(option)
}

func (h *APIHandlers) UpdateOption(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	templateID := c.Params("id")
	nodeID := c.Params("nodeId")
	optionID := c.Params("optionId")

	if templateID == "" || nodeID == "" || optionID == "" {
		return badRequest(c, "Template ID, node ID and option ID are required")
	}

	var req UpdateOptionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	update := &services.UpdateOptionRequest{
		Label:       req.Label,
		ValueKey:    req.ValueKey,
		Description: req.Description,
	}

	if req.ActionKey != nil {
		actionKey := models.ActionKey(*req.ActionKey)
		update.ActionKey = &actionKey
	}

	if req.NextNodeID.Set {
		if req.NextNodeID.Value == nil {
			update.ClearNextNode = true
		} else {
			update.NextNodeID = req.NextNodeID.Value
		}
	}

	option, err := h.templateService.UpdateAnswerOption(c.Context(), templateID, nodeID, optionID, update, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(option)
}

func (h *APIHandlers) DeleteOption(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	templateID := c.Params("id")
	nodeID := c.Params("nodeId")
	optionID := c.Params("optionId")

	if templateID == "" || nodeID == "" || optionID == "" {
		return badRequest(c, "Template ID, node ID and option ID are required")
	}

	if err := h.templateService.DeleteAnswerOption(c.Context(), templateID, nodeID, optionID, actor); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ApproveTemplate(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	template, err := h.approvalService.Approve(c.Context(), id, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) SupersedeTemplate(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	template, err := h.approvalService.Supersede(c.Context(), id, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) ImportTemplate(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req ImportTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	template, err := h.importerService.Import(c.Context(), models.TemplateScope{SurgeryID: req.SurgeryID}, req.Document, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (h *APIHandlers) StartInstance(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req StartInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.instanceService.Start(c.Context(), &services.StartInstanceRequest{
		TemplateID: req.TemplateID,
		SurgeryID:  req.SurgeryID,
		Reference:  req.Reference,
	}, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.instanceService.GetInstance(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) AdvanceInstance(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	var req AdvanceInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.instanceService.Advance(c.Context(), id, req.OptionID, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) AcknowledgeInstance(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.instanceService.Acknowledge(c.Context(), id, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	actor, err := h.actor(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.instanceService.Cancel(c.Context(), id, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

var errMissingActor = errors.New(actorHeader + " header is required")

// actor extracts the acting user from the request headers.
func (h *APIHandlers) actor(c fiber.Ctx) (string, error) {
	actor := c.Get(actorHeader)
	if actor == "" {
		return "", errMissingActor
	}

	return actor, nil
}
