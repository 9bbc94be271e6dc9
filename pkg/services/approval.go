package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/signpostkit/signpost/pkg/cache"
	"github.com/signpostkit/signpost/pkg/eventbus"
	"github.com/signpostkit/signpost/pkg/events"
	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/persistence"
)

// AccessChecker answers role questions about an actor. The toolkit does not
// own identity; the surrounding platform does.
type AccessChecker interface {
	// IsGlobalAdmin reports whether the user may approve global templates.
	IsGlobalAdmin(ctx context.Context, userID string) (bool, error)

	// IsAdminOfSurgery reports whether the user administers the surgery.
	IsAdminOfSurgery(ctx context.Context, userID, surgeryID string) (bool, error)
}

// Approval gates the DRAFT → APPROVED transition and retires old versions.
// Approval is the only way a template becomes visible to reception staff,
// so the gate also refuses to approve a structurally broken graph.
type Approval struct {
	persistence persistence.Persistence
	access      AccessChecker
	publisher   eventbus.EventPublisher
	cache       cache.EffectiveCache
	logger      *slog.Logger
}

// NewApproval creates a new approval service.
func NewApproval(p persistence.Persistence, access AccessChecker, publisher eventbus.EventPublisher, c cache.EffectiveCache, logger *slog.Logger) *Approval {
	if c == nil {
		c = cache.NewNoop()
	}

	return &Approval{
		persistence: p,
		access:      access,
		publisher:   publisher,
		cache:       c,
		logger:      logger,
	}
}

// Approve marks a DRAFT template APPROVED. Surgery templates require an
// admin of that surgery (or a global admin); global templates require a
// global admin. The graph must be walkable before it goes live.
func (s *Approval) Approve(ctx context.Context, templateID, approver string) (*models.WorkflowTemplate, error) {
	template, err := s.persistence.TemplateRepository().GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	switch template.ApprovalStatus {
	case models.ApprovalStatusSuperseded:
		return nil, NewServiceError("Approve", templateID, ErrTemplateSuperseded)
	case models.ApprovalStatusApproved:
		return nil, NewServiceError("Approve", templateID, ErrAlreadyApproved)
	}

	if err := s.authorize(ctx, template, approver); err != nil {
		return nil, err
	}

	if err := ValidateGraph(template); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	template.ApprovalStatus = models.ApprovalStatusApproved
	template.ApprovedBy = &approver
	template.ApprovedAt = &now

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to save template: %w", err)
	}

	s.invalidate(ctx, template.Scope)

	s.publish(ctx, template.ID, events.TemplateApproved{
		BaseEvent: events.BaseEvent{
			Type:      events.TemplateApprovedEvent,
			Timestamp: now,
			SurgeryID: template.Scope.SurgeryID,
			Actor:     approver,
		},
		TemplateID: template.ID,
	})

	return template, nil
}

// Supersede retires a template version. Superseded templates drop out of
// every effective view and become immutable, but instances started from
// them keep running on their snapshots.
func (s *Approval) Supersede(ctx context.Context, templateID, actor string) (*models.WorkflowTemplate, error) {
	template, err := s.persistence.TemplateRepository().GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	if template.ApprovalStatus == models.ApprovalStatusSuperseded {
		return nil, NewServiceError("Supersede", templateID, ErrTemplateSuperseded)
	}

	if err := s.authorize(ctx, template, actor); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	template.ApprovalStatus = models.ApprovalStatusSuperseded
	template.IsActive = false
	template.LastEditedBy = actor
	template.LastEditedAt = &now

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to save template: %w", err)
	}

	s.invalidate(ctx, template.Scope)

	s.publish(ctx, template.ID, events.TemplateSuperseded{
		BaseEvent: events.BaseEvent{
			Type:      events.TemplateSupersededEvent,
			Timestamp: now,
			SurgeryID: template.Scope.SurgeryID,
			Actor:     actor,
		},
		TemplateID: template.ID,
	})

	return template, nil
}

func (s *Approval) authorize(ctx context.Context, template *models.WorkflowTemplate, userID string) error {
	global, err := s.access.IsGlobalAdmin(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to check global admin role: %w", err)
	}

	if global {
		return nil
	}

	if template.Scope.IsGlobal() {
		return NewServiceError("authorize", userID, ErrNotGlobalAdmin)
	}

	admin, err := s.access.IsAdminOfSurgery(ctx, userID, template.Scope.SurgeryID)
	if err != nil {
		return fmt.Errorf("failed to check surgery admin role: %w", err)
	}

	if !admin {
		return NewServiceError("authorize", userID, ErrNotSurgeryAdmin)
	}

	return nil
}

func (s *Approval) invalidate(ctx context.Context, scope models.TemplateScope) {
	if err := s.cache.InvalidateSurgery(ctx, scope.SurgeryID); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate effective cache", "surgery_id", scope.SurgeryID, "error", err)
	}
}

func (s *Approval) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// ValidateGraph checks that a template graph can actually be walked:
// exactly one start node, no dead-end options and no dead-end instructions.
// END nodes are exempt; reaching one is the walk ending.
func ValidateGraph(template *models.WorkflowTemplate) error {
	starts := template.StartNodes()

	switch {
	case len(starts) == 0:
		return NewServiceError("ValidateGraph", template.ID, ErrNoStartNode)
	case len(starts) > 1:
		return NewServiceError("ValidateGraph", template.ID, ErrMultipleStartNodes)
	}

	for _, node := range template.Nodes {
		switch node.NodeType {
		case models.NodeTypeQuestion:
			for _, option := range node.Options {
				if option.NextNodeID == nil && !option.ActionKey.IsTerminal() {
					return NewServiceError("ValidateGraph", option.ID, ErrDeadEndOption)
				}
			}
		case models.NodeTypeInstruction:
			if node.DefaultNextNodeID == nil && !node.ActionKey.IsTerminal() {
				return NewServiceError("ValidateGraph", node.ID, ErrDeadEndInstruction)
			}
		}
	}

	return nil
}
