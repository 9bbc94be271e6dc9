// Package services implements the workflow template store, the
// effective-template resolver, the instance engine and the approval gate.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/signpostkit/signpost/pkg/cache"
	"github.com/signpostkit/signpost/pkg/eventbus"
	"github.com/signpostkit/signpost/pkg/events"
	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/persistence"
)

// CreateTemplateRequest describes a new template. When SourceTemplateID is
// set the new template is a surgery-level override and starts from a copy of
// the source template's graph.
type CreateTemplateRequest struct {
	Scope            models.TemplateScope
	Name             string
	Description      string
	Icon             string
	Colour           string
	WorkflowType     models.WorkflowType
	SourceTemplateID string
}

// UpdateTemplateRequest carries partial metadata updates. Metadata edits do
// not touch the graph and therefore do not demote an approved template.
type UpdateTemplateRequest struct {
	Name         *string
	Description  *string
	Icon         *string
	Colour       *string
	WorkflowType *models.WorkflowType
	IsActive     *bool
}

// CreateNodeRequest describes a new node in a template graph.
type CreateNodeRequest struct {
	NodeType          models.NodeType
	Title             string
	Body              string
	SortOrder         int
	IsStart           bool
	ActionKey         models.ActionKey
	DefaultNextNodeID *string
	PositionX         int
	PositionY         int
}

// UpdateNodeRequest carries partial node updates; nil fields are unchanged.
type UpdateNodeRequest struct {
	Title             *string
	Body              *string
	SortOrder         *int
	IsStart           *bool
	ActionKey         *models.ActionKey
	DefaultNextNodeID *string
	ClearDefaultNext  bool
	PositionX         *int
	PositionY         *int
}

// CreateOptionRequest describes a new answer option on a QUESTION node.
type CreateOptionRequest struct {
	Label       string
	ValueKey    string
	Description string
	NextNodeID  *string
	ActionKey   models.ActionKey
}

// UpdateOptionRequest carries partial answer option updates.
type UpdateOptionRequest struct {
	Label         *string
	ValueKey      *string
	Description   *string
	NextNodeID    *string
	ClearNextNode bool
	ActionKey     *models.ActionKey
}

// Template handles structural CRUD on templates, nodes and answer options.
// Every structural mutation on an APPROVED template atomically demotes it to
// DRAFT as part of the same save.
type Template struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	cache       cache.EffectiveCache
	logger      *slog.Logger
}

// NewTemplate creates a new template service. Publisher may be nil when no
// event bus is configured.
func NewTemplate(p persistence.Persistence, publisher eventbus.EventPublisher, c cache.EffectiveCache, logger *slog.Logger) *Template {
	if c == nil {
		c = cache.NewNoop()
	}

	return &Template{
		persistence: p,
		publisher:   publisher,
		cache:       c,
		logger:      logger,
	}
}

// CreateTemplate creates a new DRAFT template. Override creation copies the
// source template's graph so the surgery starts from the global content.
func (s *Template) CreateTemplate(ctx context.Context, req *CreateTemplateRequest, actor string) (*models.WorkflowTemplate, error) {
	if !validWorkflowType(req.WorkflowType) {
		return nil, NewServiceError("CreateTemplate", string(req.WorkflowType), ErrInvalidWorkflowType)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate template ID: %w", err)
	}

	now := time.Now().UTC()
	template := &models.WorkflowTemplate{
		ID:             id.String(),
		Scope:          req.Scope,
		Name:           req.Name,
		Description:    req.Description,
		Icon:           req.Icon,
		Colour:         req.Colour,
		WorkflowType:   req.WorkflowType,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusDraft,
		LastEditedBy:   actor,
		LastEditedAt:   &now,
		Nodes:          []*models.WorkflowNode{},
	}

	if req.SourceTemplateID != "" {
		source, err := s.overrideSource(ctx, req)
		if err != nil {
			return nil, err
		}

		template.SourceTemplateID = &source.ID
		template.Nodes = copyGraph(source.Nodes)

		if template.Name == "" {
			template.Name = source.Name
		}
	}

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to save template: %w", err)
	}

	s.invalidate(ctx, template.Scope)

	return template, nil
}

// GetTemplate returns a template with its full graph.
func (s *Template) GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	return s.persistence.TemplateRepository().GetByID(ctx, id)
}

// UpdateTemplate applies metadata updates. It does not demote approval:
// only graph mutations change what staff walk through.
func (s *Template) UpdateTemplate(ctx context.Context, id string, req *UpdateTemplateRequest, actor string) (*models.WorkflowTemplate, error) {
	template, err := s.persistence.TemplateRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if template.ApprovalStatus == models.ApprovalStatusSuperseded {
		return nil, NewServiceError("UpdateTemplate", id, ErrTemplateSuperseded)
	}

	if req.Name != nil {
		template.Name = *req.Name
	}

	if req.Description != nil {
		template.Description = *req.Description
	}

	if req.Icon != nil {
		template.Icon = *req.Icon
	}

	if req.Colour != nil {
		template.Colour = *req.Colour
	}

	if req.WorkflowType != nil {
		if !validWorkflowType(*req.WorkflowType) {
			return nil, NewServiceError("UpdateTemplate", string(*req.WorkflowType), ErrInvalidWorkflowType)
		}

		template.WorkflowType = *req.WorkflowType
	}

	if req.IsActive != nil {
		template.IsActive = *req.IsActive
	}

	s.touch(template, actor)

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to save template: %w", err)
	}

	s.invalidate(ctx, template.Scope)

	return template, nil
}

// DeleteTemplate soft-deletes a template; nodes and options go with it.
func (s *Template) DeleteTemplate(ctx context.Context, id string) error {
	template, err := s.persistence.TemplateRepository().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.persistence.TemplateRepository().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	s.invalidate(ctx, template.Scope)

	return nil
}

// CreateNode adds a node to a template graph.
func (s *Template) CreateNode(ctx context.Context, templateID string, req *CreateNodeRequest, actor string) (*models.WorkflowNode, error) {
	if req.Title == "" {
		return nil, NewServiceError("CreateNode", templateID, ErrTitleRequired)
	}

	if !models.ValidNodeType(req.NodeType) {
		return nil, NewServiceError("CreateNode", string(req.NodeType), ErrInvalidNodeType)
	}

	if !models.ValidActionKey(req.ActionKey) {
		return nil, NewServiceError("CreateNode", string(req.ActionKey), ErrInvalidActionKey)
	}

	template, err := s.mutableTemplate(ctx, "CreateNode", templateID)
	if err != nil {
		return nil, err
	}

	if req.DefaultNextNodeID != nil && template.NodeByID(*req.DefaultNextNodeID) == nil {
		return nil, NewServiceError("CreateNode", *req.DefaultNextNodeID, ErrCrossTemplateRef)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate node ID: %w", err)
	}

	node := &models.WorkflowNode{
		ID:                id.String(),
		NodeType:          req.NodeType,
		Title:             req.Title,
		Body:              req.Body,
		SortOrder:         req.SortOrder,
		IsStart:           req.IsStart,
		ActionKey:         req.ActionKey,
		DefaultNextNodeID: req.DefaultNextNodeID,
		PositionX:         req.PositionX,
		PositionY:         req.PositionY,
	}

	template.Nodes = append(template.Nodes, node)

	if err := s.commitStructural(ctx, template, actor); err != nil {
		return nil, err
	}

	return node, nil
}

// UpdateNode applies partial updates to a node.
func (s *Template) UpdateNode(ctx context.Context, templateID, nodeID string, req *UpdateNodeRequest, actor string) (*models.WorkflowNode, error) {
	template, err := s.mutableTemplate(ctx, "UpdateNode", templateID)
	if err != nil {
		return nil, err
	}

	node := template.NodeByID(nodeID)
	if node == nil {
		return nil, persistence.NewTemplateError("UpdateNode", templateID, persistence.ErrNodeNotFound)
	}

	if req.Title != nil {
		if *req.Title == "" {
			return nil, NewServiceError("UpdateNode", nodeID, ErrTitleRequired)
		}

		node.Title = *req.Title
	}

	if req.Body != nil {
		node.Body = *req.Body
	}

	if req.SortOrder != nil {
		node.SortOrder = *req.SortOrder
	}

	if req.IsStart != nil {
		node.IsStart = *req.IsStart
	}

	if req.ActionKey != nil {
		if !models.ValidActionKey(*req.ActionKey) {
			return nil, NewServiceError("UpdateNode", string(*req.ActionKey), ErrInvalidActionKey)
		}

		node.ActionKey = *req.ActionKey
	}

	if req.ClearDefaultNext {
		node.DefaultNextNodeID = nil
	} else if req.DefaultNextNodeID != nil {
		if template.NodeByID(*req.DefaultNextNodeID) == nil {
			return nil, NewServiceError("UpdateNode", *req.DefaultNextNodeID, ErrCrossTemplateRef)
		}

		node.DefaultNextNodeID = req.DefaultNextNodeID
	}

	if req.PositionX != nil {
		node.PositionX = *req.PositionX
	}

	if req.PositionY != nil {
		node.PositionY = *req.PositionY
	}

	if err := s.commitStructural(ctx, template, actor); err != nil {
		return nil, err
	}

	return node, nil
}

// DeleteNode removes a node and its answer options. Links pointing at the
// deleted node are nulled out in the same save, so a dangling next-node
// reference can never survive a commit.
func (s *Template) DeleteNode(ctx context.Context, templateID, nodeID string, actor string) error {
	template, err := s.mutableTemplate(ctx, "DeleteNode", templateID)
	if err != nil {
		return err
	}

	if template.NodeByID(nodeID) == nil {
		return persistence.NewTemplateError("DeleteNode", templateID, persistence.ErrNodeNotFound)
	}

	remaining := make([]*models.WorkflowNode, 0, len(template.Nodes)-1)

	for _, node := range template.Nodes {
		if node.ID == nodeID {
			continue
		}

		if node.DefaultNextNodeID != nil && *node.DefaultNextNodeID == nodeID {
			node.DefaultNextNodeID = nil
		}

		for _, option := range node.Options {
			if option.NextNodeID != nil && *option.NextNodeID == nodeID {
				option.NextNodeID = nil
			}
		}

		remaining = append(remaining, node)
	}

	template.Nodes = remaining

	return s.commitStructural(ctx, template, actor)
}

// CreateAnswerOption adds an answer option to a QUESTION node.
func (s *Template) CreateAnswerOption(ctx context.Context, templateID, nodeID string, req *CreateOptionRequest, actor string) (*models.WorkflowAnswerOption, error) {
	if req.Label == "" {
		return nil, NewServiceError("CreateAnswerOption", nodeID, ErrLabelRequired)
	}

	if req.ValueKey == "" {
		return nil, NewServiceError("CreateAnswerOption", nodeID, ErrValueKeyRequired)
	}

	if !models.ValidActionKey(req.ActionKey) {
		return nil, NewServiceError("CreateAnswerOption", string(req.ActionKey), ErrInvalidActionKey)
	}

	template, err := s.mutableTemplate(ctx, "CreateAnswerOption", templateID)
	if err != nil {
		return nil, err
	}

	node := template.NodeByID(nodeID)
	if node == nil {
		return nil, persistence.NewTemplateError("CreateAnswerOption", templateID, persistence.ErrNodeNotFound)
	}

	if !node.IsQuestion() {
		return nil, NewServiceError("CreateAnswerOption", nodeID, ErrOptionsOnQuestion)
	}

	if req.NextNodeID != nil && template.NodeByID(*req.NextNodeID) == nil {
		return nil, NewServiceError("CreateAnswerOption", *req.NextNodeID, ErrCrossTemplateRef)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate option ID: %w", err)
	}

	option := &models.WorkflowAnswerOption{
		ID:          id.String(),
		Label:       req.Label,
		ValueKey:    req.ValueKey,
		Description: req.Description,
		NextNodeID:  req.NextNodeID,
		ActionKey:   req.ActionKey,
	}

	node.Options = append(node.Options, option)

	if err := s.commitStructural(ctx, template, actor); err != nil {
		return nil, err
	}

	return option, nil
}

// UpdateAnswerOption applies partial updates to an answer option.
func (s *Template) UpdateAnswerOption(ctx context.Context, templateID, nodeID, optionID string, req *UpdateOptionRequest, actor string) (*models.WorkflowAnswerOption, error) {
	template, err := s.mutableTemplate(ctx, "UpdateAnswerOption", templateID)
	if err != nil {
		return nil, err
	}

	node := template.NodeByID(nodeID)
	if node == nil {
		return nil, persistence.NewTemplateError("UpdateAnswerOption", templateID, persistence.ErrNodeNotFound)
	}

	option := node.OptionByID(optionID)
	if option == nil {
		return nil, persistence.NewTemplateError("UpdateAnswerOption", templateID, persistence.ErrOptionNotFound)
	}

	if req.Label != nil {
		if *req.Label == "" {
			return nil, NewServiceError("UpdateAnswerOption", optionID, ErrLabelRequired)
		}

		option.Label = *req.Label
	}

	if req.ValueKey != nil {
		if *req.ValueKey == "" {
			return nil, NewServiceError("UpdateAnswerOption", optionID, ErrValueKeyRequired)
		}

		option.ValueKey = *req.ValueKey
	}

	if req.Description != nil {
		option.Description = *req.Description
	}

	if req.ClearNextNode {
		option.NextNodeID = nil
	} else if req.NextNodeID != nil {
		if template.NodeByID(*req.NextNodeID) == nil {
			return nil, NewServiceError("UpdateAnswerOption", *req.NextNodeID, ErrCrossTemplateRef)
		}

		option.NextNodeID = req.NextNodeID
	}

	if req.ActionKey != nil {
		if !models.ValidActionKey(*req.ActionKey) {
			return nil, NewServiceError("UpdateAnswerOption", string(*req.ActionKey), ErrInvalidActionKey)
		}

		option.ActionKey = *req.ActionKey
	}

	if err := s.commitStructural(ctx, template, actor); err != nil {
		return nil, err
	}

	return option, nil
}

// DeleteAnswerOption removes an answer option from its node.
func (s *Template) DeleteAnswerOption(ctx context.Context, templateID, nodeID, optionID string, actor string) error {
	template, err := s.mutableTemplate(ctx, "DeleteAnswerOption", templateID)
	if err != nil {
		return err
	}

	node := template.NodeByID(nodeID)
	if node == nil {
		return persistence.NewTemplateError("DeleteAnswerOption", templateID, persistence.ErrNodeNotFound)
	}

	if node.OptionByID(optionID) == nil {
		return persistence.NewTemplateError("DeleteAnswerOption", templateID, persistence.ErrOptionNotFound)
	}

	remaining := make([]*models.WorkflowAnswerOption, 0, len(node.Options)-1)

	for _, option := range node.Options {
		if option.ID != optionID {
			remaining = append(remaining, option)
		}
	}

	node.Options = remaining

	return s.commitStructural(ctx, template, actor)
}

// overrideSource validates and loads the template an override copies from.
// Overrides are surgery-level customisations of a global template: the new
// scope must be a surgery, the source must be global, and a surgery gets at
// most one live override per global template.
func (s *Template) overrideSource(ctx context.Context, req *CreateTemplateRequest) (*models.WorkflowTemplate, error) {
	if req.Scope.IsGlobal() {
		return nil, NewServiceError("CreateTemplate", req.SourceTemplateID, ErrOverrideScopeRequired)
	}

	source, err := s.persistence.TemplateRepository().GetByID(ctx, req.SourceTemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get source template: %w", err)
	}

	if !source.Scope.IsGlobal() {
		return nil, NewServiceError("CreateTemplate", req.SourceTemplateID, ErrSourceNotGlobal)
	}

	siblings, err := s.persistence.TemplateRepository().ByScope(ctx, req.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list surgery templates: %w", err)
	}

	for _, sibling := range siblings {
		if sibling.ApprovalStatus == models.ApprovalStatusSuperseded {
			continue
		}

		if sibling.SourceTemplateID != nil && *sibling.SourceTemplateID == source.ID {
			return nil, NewServiceError("CreateTemplate", source.ID, ErrOverrideExists)
		}
	}

	return source, nil
}

// mutableTemplate loads a template and rejects structural mutation of
// superseded versions.
func (s *Template) mutableTemplate(ctx context.Context, op, templateID string) (*models.WorkflowTemplate, error) {
	template, err := s.persistence.TemplateRepository().GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	if template.ApprovalStatus == models.ApprovalStatusSuperseded {
		return nil, NewServiceError(op, templateID, ErrTemplateSuperseded)
	}

	return template, nil
}

// commitStructural saves a graph mutation, demoting an APPROVED template to
// DRAFT in the same write so staff never see an "approved" template whose
// graph has drifted.
func (s *Template) commitStructural(ctx context.Context, template *models.WorkflowTemplate, actor string) error {
	demoted := false

	if template.ApprovalStatus == models.ApprovalStatusApproved {
		template.ApprovalStatus = models.ApprovalStatusDraft
		template.ApprovedBy = nil
		template.ApprovedAt = nil
		demoted = true
	}

	s.touch(template, actor)

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	s.invalidate(ctx, template.Scope)

	if demoted {
		s.publish(ctx, template.ID, events.TemplateDemoted{
			BaseEvent: events.BaseEvent{
				Type:      events.TemplateDemotedEvent,
				Timestamp: time.Now().UTC(),
				SurgeryID: template.Scope.SurgeryID,
				Actor:     actor,
			},
			TemplateID: template.ID,
			EditedBy:   actor,
		})
	}

	return nil
}

func (s *Template) touch(template *models.WorkflowTemplate, actor string) {
	now := time.Now().UTC()
	template.LastEditedBy = actor
	template.LastEditedAt = &now
}

// invalidate drops cached effective lists affected by a mutation. A global
// mutation invalidates every surgery.
func (s *Template) invalidate(ctx context.Context, scope models.TemplateScope) {
	if err := s.cache.InvalidateSurgery(ctx, scope.SurgeryID); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate effective cache", "surgery_id", scope.SurgeryID, "error", err)
	}
}

func (s *Template) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func validWorkflowType(t models.WorkflowType) bool {
	switch t {
	case models.WorkflowTypePrimary, models.WorkflowTypeSupporting, models.WorkflowTypeModule:
		return true
	default:
		return false
	}
}

// copyGraph deep-copies nodes and options with fresh ids, remapping every
// internal reference to the new ids.
func copyGraph(nodes []*models.WorkflowNode) []*models.WorkflowNode {
	idMap := make(map[string]string, len(nodes))

	for _, node := range nodes {
		idMap[node.ID] = uuid.New().String()
	}

	remap := func(ref *string) *string {
		if ref == nil {
			return nil
		}

		if mapped, ok := idMap[*ref]; ok {
			return &mapped
		}

		return nil
	}

	copied := make([]*models.WorkflowNode, 0, len(nodes))

	for _, node := range nodes {
		newNode := &models.WorkflowNode{
			ID:                idMap[node.ID],
			NodeType:          node.NodeType,
			Title:             node.Title,
			Body:              node.Body,
			SortOrder:         node.SortOrder,
			IsStart:           node.IsStart,
			ActionKey:         node.ActionKey,
			DefaultNextNodeID: remap(node.DefaultNextNodeID),
			PositionX:         node.PositionX,
			PositionY:         node.PositionY,
		}

		for _, option := range node.Options {
			newNode.Options = append(newNode.Options, &models.WorkflowAnswerOption{
				ID:          uuid.New().String(),
				Label:       option.Label,
				ValueKey:    option.ValueKey,
				Description: option.Description,
				NextNodeID:  remap(option.NextNodeID),
				ActionKey:   option.ActionKey,
			})
		}

		copied = append(copied, newNode)
	}

	return copied
}
