package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signpostkit/signpost/pkg/eventbus"
	"github.com/signpostkit/signpost/pkg/events"
	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/otelhelper"
	"github.com/signpostkit/signpost/pkg/persistence"
)

// StartInstanceRequest describes a new walk through a template.
type StartInstanceRequest struct {
	TemplateID string
	SurgeryID  string
	Reference  string
}

// Instance drives workflow executions. Every transition is a
// load-validate-mutate-save cycle over the instance's own graph snapshot;
// the template is only read once, at start.
type Instance struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewInstance creates a new instance engine. Publisher may be nil. The
// tracer comes from the global provider, so spans are no-ops until a
// provider is installed.
func NewInstance(p persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Instance {
	return &Instance{
		persistence: p,
		publisher:   publisher,
		tracer:      otel.Tracer("signpost.instance"),
		logger:      logger,
	}
}

// GetInstance returns an instance with its snapshot and history.
func (s *Instance) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	return s.persistence.InstanceRepository().GetByID(ctx, id)
}

// Start begins a walk through a template. The template must be active and
// not superseded; drafts are allowed so admins can preview unapproved work.
// The graph is copied by value into the instance, so later template edits
// cannot touch a walk already in flight.
func (s *Instance) Start(ctx context.Context, req *StartInstanceRequest, actor string) (*models.WorkflowInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "instance.start",
		attribute.String(otelhelper.TemplateIDKey, req.TemplateID),
		attribute.String(otelhelper.SurgeryIDKey, req.SurgeryID),
		attribute.String(otelhelper.ActorKey, actor),
	)
	defer span.End()

	instance, err := s.start(ctx, req, actor)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return instance, err
}

func (s *Instance) start(ctx context.Context, req *StartInstanceRequest, actor string) (*models.WorkflowInstance, error) {
	if req.SurgeryID == "" {
		return nil, NewServiceError("Start", "surgery id", ErrEmptySurgeryID)
	}

	template, err := s.persistence.TemplateRepository().GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	// Only global templates and the surgery's own templates may be walked.
	if !template.Scope.IsGlobal() && template.Scope.SurgeryID != req.SurgeryID {
		return nil, NewServiceError("Start", req.TemplateID, ErrTemplateScopeMismatch)
	}

	if template.ApprovalStatus == models.ApprovalStatusSuperseded {
		return nil, NewServiceError("Start", req.TemplateID, ErrTemplateSuperseded)
	}

	if !template.IsActive {
		return nil, NewServiceError("Start", req.TemplateID, ErrTemplateInactive)
	}

	starts := template.StartNodes()

	switch {
	case len(starts) == 0:
		return nil, NewServiceError("Start", req.TemplateID, ErrNoStartNode)
	case len(starts) > 1:
		return nil, NewServiceError("Start", req.TemplateID, ErrMultipleStartNodes)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance ID: %w", err)
	}

	now := time.Now().UTC()
	instance := &models.WorkflowInstance{
		ID:            id.String(),
		TemplateID:    template.ID,
		SurgeryID:     req.SurgeryID,
		StartedBy:     actor,
		Status:        models.InstanceStatusActive,
		Reference:     req.Reference,
		CurrentNodeID: starts[0].ID,
		Snapshot: &models.GraphSnapshot{
			TemplateID:   template.ID,
			TemplateName: template.Name,
			TakenAt:      now,
			Nodes:        snapshotNodes(template.Nodes),
		},
		History: []*models.HistoryEntry{},
	}

	// A template can legitimately open on its outcome, e.g. a single-screen
	// "file without forwarding" workflow.
	if starts[0].IsEnd() {
		s.complete(instance, starts[0].ActionKey, now)
	}

	if err := s.persistence.InstanceRepository().Create(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	s.publish(ctx, instance.ID, events.InstanceStarted{
		BaseEvent:  s.baseEvent(events.InstanceStartedEvent, instance.SurgeryID, actor),
		InstanceID: instance.ID,
		TemplateID: instance.TemplateID,
	})

	if instance.Status == models.InstanceStatusCompleted {
		s.publishCompleted(ctx, instance, actor)
	}

	return instance, nil
}

// Advance answers the current QUESTION node with one of its options and
// moves the cursor. Two concurrent transitions from the same position race
// on the instance version; the loser gets a conflict and must refetch.
func (s *Instance) Advance(ctx context.Context, instanceID, optionID, actor string) (*models.WorkflowInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "instance.advance",
		attribute.String(otelhelper.InstanceIDKey, instanceID),
		attribute.String(otelhelper.ActorKey, actor),
	)
	defer span.End()

	instance, err := s.advance(ctx, instanceID, optionID, actor)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return instance, err
}

func (s *Instance) advance(ctx context.Context, instanceID, optionID, actor string) (*models.WorkflowInstance, error) {
	instance, node, err := s.activeInstance(ctx, "Advance", instanceID)
	if err != nil {
		return nil, err
	}

	if !node.IsQuestion() {
		return nil, NewServiceError("Advance", instance.CurrentNodeID, ErrNotQuestionNode)
	}

	option := node.OptionByID(optionID)
	if option == nil {
		return nil, NewServiceError("Advance", optionID, ErrUnknownOption)
	}

	now := time.Now().UTC()

	if err := s.appendHistory(instance, node.ID, option.ID, option.ValueKey, actor, now); err != nil {
		return nil, err
	}

	switch {
	case option.NextNodeID != nil:
		if err := s.moveCursor(instance, *option.NextNodeID, now); err != nil {
			return nil, NewServiceError("Advance", *option.NextNodeID, err)
		}
	case option.ActionKey.IsTerminal():
		s.complete(instance, option.ActionKey, now)
	default:
		return nil, NewServiceError("Advance", option.ID, ErrDeadEndOption)
	}

	if err := s.persistence.InstanceRepository().Update(ctx, instance, instance.Version); err != nil {
		return nil, err
	}

	s.publish(ctx, instance.ID, events.InstanceAdvanced{
		BaseEvent:  s.baseEvent(events.InstanceAdvancedEvent, instance.SurgeryID, actor),
		InstanceID: instance.ID,
		NodeID:     node.ID,
		OptionID:   option.ID,
	})

	if instance.Status == models.InstanceStatusCompleted {
		s.publishCompleted(ctx, instance, actor)
	}

	return instance, nil
}

// Acknowledge confirms the current INSTRUCTION node and moves on via its
// default link, or completes when the instruction carries a terminal action.
func (s *Instance) Acknowledge(ctx context.Context, instanceID, actor string) (*models.WorkflowInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "instance.acknowledge",
		attribute.String(otelhelper.InstanceIDKey, instanceID),
		attribute.String(otelhelper.ActorKey, actor),
	)
	defer span.End()

	instance, err := s.acknowledge(ctx, instanceID, actor)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return instance, err
}

func (s *Instance) acknowledge(ctx context.Context, instanceID, actor string) (*models.WorkflowInstance, error) {
	instance, node, err := s.activeInstance(ctx, "Acknowledge", instanceID)
	if err != nil {
		return nil, err
	}

	if node.NodeType != models.NodeTypeInstruction {
		return nil, NewServiceError("Acknowledge", instance.CurrentNodeID, ErrNotInstructionNode)
	}

	now := time.Now().UTC()

	if err := s.appendHistory(instance, node.ID, "", "", actor, now); err != nil {
		return nil, err
	}

	switch {
	case node.DefaultNextNodeID != nil:
		if err := s.moveCursor(instance, *node.DefaultNextNodeID, now); err != nil {
			return nil, NewServiceError("Acknowledge", *node.DefaultNextNodeID, err)
		}
	case node.ActionKey.IsTerminal():
		s.complete(instance, node.ActionKey, now)
	default:
		return nil, NewServiceError("Acknowledge", node.ID, ErrDeadEndInstruction)
	}

	if err := s.persistence.InstanceRepository().Update(ctx, instance, instance.Version); err != nil {
		return nil, err
	}

	s.publish(ctx, instance.ID, events.InstanceAdvanced{
		BaseEvent:  s.baseEvent(events.InstanceAdvancedEvent, instance.SurgeryID, actor),
		InstanceID: instance.ID,
		NodeID:     node.ID,
	})

	if instance.Status == models.InstanceStatusCompleted {
		s.publishCompleted(ctx, instance, actor)
	}

	return instance, nil
}

// Cancel abandons an active instance.
func (s *Instance) Cancel(ctx context.Context, instanceID, actor string) (*models.WorkflowInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "instance.cancel",
		attribute.String(otelhelper.InstanceIDKey, instanceID),
		attribute.String(otelhelper.ActorKey, actor),
	)
	defer span.End()

	instance, err := s.cancel(ctx, instanceID, actor)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return instance, err
}

func (s *Instance) cancel(ctx context.Context, instanceID, actor string) (*models.WorkflowInstance, error) {
	instance, err := s.persistence.InstanceRepository().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status != models.InstanceStatusActive {
		return nil, NewServiceError("Cancel", instanceID, ErrInstanceNotActive)
	}

	now := time.Now().UTC()
	instance.Status = models.InstanceStatusCancelled
	instance.CompletedAt = &now

	if err := s.persistence.InstanceRepository().Update(ctx, instance, instance.Version); err != nil {
		return nil, err
	}

	s.publish(ctx, instance.ID, events.InstanceCancelled{
		BaseEvent:  s.baseEvent(events.InstanceCancelledEvent, instance.SurgeryID, actor),
		InstanceID: instance.ID,
	})

	return instance, nil
}

// CancelStale cancels active instances started before the cutoff. Version
// conflicts are skipped, not failed: a conflict means someone is actively
// working the instance, which disqualifies it from being stale.
func (s *Instance) CancelStale(ctx context.Context, cutoff time.Time, actor string) (int, error) {
	stale, err := s.persistence.InstanceRepository().ActiveOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale instances: %w", err)
	}

	cancelled := 0

	for _, instance := range stale {
		now := time.Now().UTC()
		instance.Status = models.InstanceStatusCancelled
		instance.CompletedAt = &now

		if err := s.persistence.InstanceRepository().Update(ctx, instance, instance.Version); err != nil {
			if persistence.IsVersionConflict(err) {
				s.logger.InfoContext(ctx, "skipping stale instance with concurrent activity", "instance_id", instance.ID)
				continue
			}

			return cancelled, err
		}

		s.publish(ctx, instance.ID, events.InstanceCancelled{
			BaseEvent:  s.baseEvent(events.InstanceCancelledEvent, instance.SurgeryID, actor),
			InstanceID: instance.ID,
		})

		cancelled++
	}

	return cancelled, nil
}

// activeInstance loads an instance and resolves its cursor node, rejecting
// finished instances and snapshots missing the cursor node.
func (s *Instance) activeInstance(ctx context.Context, op, instanceID string) (*models.WorkflowInstance, *models.WorkflowNode, error) {
	instance, err := s.persistence.InstanceRepository().GetByID(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}

	if instance.Status != models.InstanceStatusActive {
		return nil, nil, NewServiceError(op, instanceID, ErrInstanceNotActive)
	}

	node := instance.CurrentNode()
	if node == nil {
		return nil, nil, NewServiceError(op, instance.CurrentNodeID, ErrMissingSnapshotNode)
	}

	return instance, node, nil
}

// moveCursor advances to a snapshotted node, completing the instance when
// the target is an END node.
func (s *Instance) moveCursor(instance *models.WorkflowInstance, nodeID string, now time.Time) error {
	target := instance.Snapshot.NodeByID(nodeID)
	if target == nil {
		return ErrMissingSnapshotNode
	}

	instance.CurrentNodeID = target.ID

	if target.IsEnd() {
		s.complete(instance, target.ActionKey, now)
	}

	return nil
}

func (s *Instance) complete(instance *models.WorkflowInstance, actionKey models.ActionKey, now time.Time) {
	instance.Status = models.InstanceStatusCompleted
	instance.ResultActionKey = actionKey
	instance.CompletedAt = &now
}

// appendHistory records a transition. Entry ids are UUIDv7 so the
// (created_at, id) ordering used when reading history back preserves
// insertion order even for same-timestamp entries.
func (s *Instance) appendHistory(instance *models.WorkflowInstance, nodeID, optionID, valueKey, actor string, now time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate history entry ID: %w", err)
	}

	instance.History = append(instance.History, &models.HistoryEntry{
		ID:        id.String(),
		NodeID:    nodeID,
		OptionID:  optionID,
		ValueKey:  valueKey,
		Actor:     actor,
		CreatedAt: now,
	})

	return nil
}

func (s *Instance) baseEvent(eventType events.EventType, surgeryID, actor string) events.BaseEvent {
	return events.BaseEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SurgeryID: surgeryID,
		Actor:     actor,
	}
}

func (s *Instance) publishCompleted(ctx context.Context, instance *models.WorkflowInstance, actor string) {
	s.publish(ctx, instance.ID, events.InstanceCompleted{
		BaseEvent:  s.baseEvent(events.InstanceCompletedEvent, instance.SurgeryID, actor),
		InstanceID: instance.ID,
		ActionKey:  instance.ResultActionKey,
	})
}

func (s *Instance) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// snapshotNodes copies a template graph by value, ids included, so the
// instance owns an immutable view of what the user was shown.
func snapshotNodes(nodes []*models.WorkflowNode) []*models.WorkflowNode {
	copied := make([]*models.WorkflowNode, 0, len(nodes))

	for _, node := range nodes {
		newNode := &models.WorkflowNode{
			ID:        node.ID,
			NodeType:  node.NodeType,
			Title:     node.Title,
			Body:      node.Body,
			SortOrder: node.SortOrder,
			IsStart:   node.IsStart,
			ActionKey: node.ActionKey,
			PositionX: node.PositionX,
			PositionY: node.PositionY,
		}

		if node.DefaultNextNodeID != nil {
			next := *node.DefaultNextNodeID
			newNode.DefaultNextNodeID = &next
		}

		for _, option := range node.Options {
			newOption := &models.WorkflowAnswerOption{
				ID:          option.ID,
				Label:       option.Label,
				ValueKey:    option.ValueKey,
				Description: option.Description,
				ActionKey:   option.ActionKey,
			}

			if option.NextNodeID != nil {
				next := *option.NextNodeID
				newOption.NextNodeID = &next
			}

			newNode.Options = append(newNode.Options, newOption)
		}

		copied = append(copied, newNode)
	}

	return copied
}
