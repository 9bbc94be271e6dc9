package services

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/persistence"
	"github.com/signpostkit/signpost/pkg/persistence/file"
)

func newTestInstanceService(t *testing.T) (*Instance, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	return NewInstance(p, nil, slog.Default()), p
}

func strPtr(s string) *string {
	return &s
}

// clinicLettersTemplate builds the walk reception staff take for an
// incoming clinic letter: classify it, then either forward to the GP or
// file it directly.
func clinicLettersTemplate(t *testing.T, p persistence.Persistence) *models.WorkflowTemplate {
	t.Helper()

	template := &models.WorkflowTemplate{
		ID:             "clinic-letters",
		Scope:          models.GlobalScope(),
		Name:           "Clinic Letters",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
		Nodes: []*models.WorkflowNode{
			{
				ID:       "classify",
				NodeType: models.NodeTypeQuestion,
				Title:    "Does the letter change the patient's care?",
				IsStart:  true,
				Options: []*models.WorkflowAnswerOption{
					{
						ID:         "yes",
						Label:      "Yes, action needed",
						ValueKey:   "action_needed",
						NextNodeID: strPtr("check-meds"),
					},
					{
						ID:         "no",
						Label:      "No, information only",
						ValueKey:   "information_only",
						NextNodeID: strPtr("file"),
					},
				},
			},
			{
				ID:                "check-meds",
				NodeType:          models.NodeTypeInstruction,
				Title:             "Check for medication changes before forwarding",
				DefaultNextNodeID: strPtr("forward"),
			},
			{
				ID:        "forward",
				NodeType:  models.NodeTypeEnd,
				Title:     "Forward to GP",
				ActionKey: models.ActionKeyForwardToGP,
			},
			{
				ID:        "file",
				NodeType:  models.NodeTypeEnd,
				Title:     "File without forwarding",
				ActionKey: models.ActionKeyFileWithoutForwarding,
			},
		},
	}

	require.NoError(t, p.TemplateRepository().Save(t.Context(), template))

	return template
}

func TestInstance_ClinicLettersWalk(t *testing.T) {
	service, p := newTestInstanceService(t)
	template := clinicLettersTemplate(t, p)

	instance, err := service.Start(t.Context(), &StartInstanceRequest{
		TemplateID: template.ID,
		SurgeryID:  "surgery-1",
		Reference:  "letter-2026-08-1234",
	}, "receptionist-1")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusActive, instance.Status)
	assert.Equal(t, "classify", instance.CurrentNodeID)
	assert.Equal(t, int64(1), instance.Version)
	require.NotNil(t, instance.Snapshot)
	assert.Len(t, instance.Snapshot.Nodes, 4)

	instance, err = service.Advance(t.Context(), instance.ID, "yes", "receptionist-1")
	require.NoError(t, err)

	assert.Equal(t, "check-meds", instance.CurrentNodeID)
	assert.Equal(t, models.InstanceStatusActive, instance.Status)

	instance, err = service.Acknowledge(t.Context(), instance.ID, "receptionist-1")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, models.ActionKeyForwardToGP, instance.ResultActionKey)
	assert.NotNil(t, instance.CompletedAt)

	// History reconstructs the full path for audit.
	require.Len(t, instance.History, 2)
	assert.Equal(t, "classify", instance.History[0].NodeID)
	assert.Equal(t, "action_needed", instance.History[0].ValueKey)
	assert.Equal(t, "check-meds", instance.History[1].NodeID)
	assert.Empty(t, instance.History[1].OptionID)
	assert.Equal(t, "receptionist-1", instance.History[1].Actor)

	// Version bumped once per transition.
	stored, err := p.InstanceRepository().GetByID(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Version)
}

func TestInstance_AdvanceToFilingEnd(t *testing.T) {
	service, p := newTestInstanceService(t)
	template := clinicLettersTemplate(t, p)

	instance, err := service.Start(t.Context(), &StartInstanceRequest{
		TemplateID: template.ID,
		SurgeryID:  "surgery-1",
	}, "receptionist-1")
	require.NoError(t, err)

	instance, err = service.Advance(t.Context(), instance.ID, "no", "receptionist-1")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, models.ActionKeyFileWithoutForwarding, instance.ResultActionKey)
	assert.Equal(t, "file", instance.CurrentNodeID)
}

func TestInstance_Start_RejectsBrokenStartConfiguration(t *testing.T) {
	service, p := newTestInstanceService(t)

	noStart := &models.WorkflowTemplate{
		ID:             "no-start",
		Scope:          models.GlobalScope(),
		Name:           "No Start",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
		Nodes: []*models.WorkflowNode{
			{ID: "n1", NodeType: models.NodeTypeEnd, Title: "End", ActionKey: models.ActionKeyOther},
		},
	}
	require.NoError(t, p.TemplateRepository().Save(t.Context(), noStart))

	_, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: "no-start", SurgeryID: "surgery-1"}, "staff-1")
	require.ErrorIs(t, err, ErrNoStartNode)
	assert.True(t, IsConfigurationError(err))

	twoStarts := &models.WorkflowTemplate{
		ID:             "two-starts",
		Scope:          models.GlobalScope(),
		Name:           "Two Starts",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
		Nodes: []*models.WorkflowNode{
			{ID: "a", NodeType: models.NodeTypeEnd, Title: "A", IsStart: true, ActionKey: models.ActionKeyOther},
			{ID: "b", NodeType: models.NodeTypeEnd, Title: "B", IsStart: true, ActionKey: models.ActionKeyOther},
		},
	}
	require.NoError(t, p.TemplateRepository().Save(t.Context(), twoStarts))

	_, err = service.Start(t.Context(), &StartInstanceRequest{TemplateID: "two-starts", SurgeryID: "surgery-1"}, "staff-1")
	require.ErrorIs(t, err, ErrMultipleStartNodes)
}

func TestInstance_Start_TemplateStateRules(t *testing.T) {
	service, p := newTestInstanceService(t)
	template := clinicLettersTemplate(t, p)

	template.IsActive = false
	require.NoError(t, p.TemplateRepository().Save(t.Context(), template))

	_, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "staff-1")
	require.ErrorIs(t, err, ErrTemplateInactive)

	template.IsActive = true
	template.ApprovalStatus = models.ApprovalStatusSuperseded
	require.NoError(t, p.TemplateRepository().Save(t.Context(), template))

	_, err = service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "staff-1")
	require.ErrorIs(t, err, ErrTemplateSuperseded)

	// Drafts start fine: admins preview unapproved work.
	template.ApprovalStatus = models.ApprovalStatusDraft
	require.NoError(t, p.TemplateRepository().Save(t.Context(), template))

	instance, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusActive, instance.Status)
}

func TestInstance_Start_RejectsForeignSurgeryTemplate(t *testing.T) {
	service, p := newTestInstanceService(t)

	template := &models.WorkflowTemplate{
		ID:             "surgery-b-triage",
		Scope:          models.SurgeryScope("surgery-b"),
		Name:           "Local Triage",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusDraft,
		Nodes: []*models.WorkflowNode{
			{ID: "done", NodeType: models.NodeTypeEnd, Title: "Surgery B local guidance", IsStart: true, ActionKey: models.ActionKeyOther},
		},
	}
	require.NoError(t, p.TemplateRepository().Save(t.Context(), template))

	// Surgery A never sees surgery B's content, draft or otherwise.
	_, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-a"}, "staff-a")
	require.ErrorIs(t, err, ErrTemplateScopeMismatch)
	assert.True(t, IsValidationError(err))

	// The owning surgery walks it as usual.
	instance, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-b"}, "staff-b")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
}

func TestInstance_HistoryEntryIDsPreserveOrder(t *testing.T) {
	service, p := newTestInstanceService(t)
	template := clinicLettersTemplate(t, p)

	instance, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "staff-1")
	require.NoError(t, err)

	_, err = service.Advance(t.Context(), instance.ID, "yes", "staff-1")
	require.NoError(t, err)

	_, err = service.Acknowledge(t.Context(), instance.ID, "staff-1")
	require.NoError(t, err)

	stored, err := p.InstanceRepository().GetByID(t.Context(), instance.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 2)

	first, err := uuid.Parse(stored.History[0].ID)
	require.NoError(t, err)
	second, err := uuid.Parse(stored.History[1].ID)
	require.NoError(t, err)

	// UUIDv7 ids sort in creation order, so the (created_at, id) read
	// ordering stays stable even when two entries share a timestamp.
	assert.Equal(t, uuid.Version(7), first.Version())
	assert.Equal(t, uuid.Version(7), second.Version())
	assert.Less(t, first.String(), second.String())
}

func TestInstance_Start_EndNodeCompletesImmediately(t *testing.T) {
	service, p := newTestInstanceService(t)

	template := &models.WorkflowTemplate{
		ID:             "single-screen",
		Scope:          models.GlobalScope(),
		Name:           "File Everything",
		WorkflowType:   models.WorkflowTypeModule,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
		Nodes: []*models.WorkflowNode{
			{ID: "done", NodeType: models.NodeTypeEnd, Title: "File it", IsStart: true, ActionKey: models.ActionKeyFileWithoutForwarding},
		},
	}
	require.NoError(t, p.TemplateRepository().Save(t.Context(), template))

	instance, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "staff-1")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, models.ActionKeyFileWithoutForwarding, instance.ResultActionKey)
	assert.NotNil(t, instance.CompletedAt)
}

func TestInstance_Advance_InvalidTransitions(t *testing.T) {
	service, p := newTestInstanceService(t)
	template := clinicLettersTemplate(t, p)

	instance, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "staff-1")
	require.NoError(t, err)

	_, err = service.Advance(t.Context(), instance.ID, "not-an-option", "staff-1")
	require.ErrorIs(t, err, ErrUnknownOption)

	_, err = service.Acknowledge(t.Context(), instance.ID, "staff-1")
	require.ErrorIs(t, err, ErrNotInstructionNode)

	instance, err = service.Advance(t.Context(), instance.ID, "yes", "staff-1")
	require.NoError(t, err)

	// Cursor now sits on an instruction; answering is the wrong verb.
	_, err = service.Advance(t.Context(), instance.ID, "yes", "staff-1")
	require.ErrorIs(t, err, ErrNotQuestionNode)

	instance, err = service.Acknowledge(t.Context(), instance.ID, "staff-1")
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusCompleted, instance.Status)

	_, err = service.Advance(t.Context(), instance.ID, "yes", "staff-1")
	require.ErrorIs(t, err, ErrInstanceNotActive)
}

func TestInstance_Advance_DeadEndOption(t *testing.T) {
	service, p := newTestInstanceService(t)

	template := &models.WorkflowTemplate{
		ID:             "dead-end",
		Scope:          models.GlobalScope(),
		Name:           "Dead End",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusDraft,
		Nodes: []*models.WorkflowNode{
			{
				ID:       "q",
				NodeType: models.NodeTypeQuestion,
				Title:    "Where now?",
				IsStart:  true,
				Options: []*models.WorkflowAnswerOption{
					{ID: "nowhere", Label: "Nowhere", ValueKey: "nowhere"},
				},
			},
		},
	}
	require.NoError(t, p.TemplateRepository().Save(t.Context(), template))

	instance, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "admin-1")
	require.NoError(t, err)

	_, err = service.Advance(t.Context(), instance.ID, "nowhere", "admin-1")
	require.ErrorIs(t, err, ErrDeadEndOption)

	// The failed transition persisted nothing.
	stored, err := p.InstanceRepository().GetByID(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusActive, stored.Status)
	assert.Empty(t, stored.History)
	assert.Equal(t, int64(1), stored.Version)
}

func TestInstance_Advance_OptionActionKeyCompletes(t *testing.T) {
	service, p := newTestInstanceService(t)

	template := &models.WorkflowTemplate{
		ID:             "short",
		Scope:          models.GlobalScope(),
		Name:           "Short Walk",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
		Nodes: []*models.WorkflowNode{
			{
				ID:       "q",
				NodeType: models.NodeTypeQuestion,
				Title:    "Already reviewed?",
				IsStart:  true,
				Options: []*models.WorkflowAnswerOption{
					{ID: "done", Label: "Yes", ValueKey: "reviewed", ActionKey: models.ActionKeyFileWithoutForwarding},
				},
			},
		},
	}
	require.NoError(t, p.TemplateRepository().Save(t.Context(), template))

	instance, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "staff-1")
	require.NoError(t, err)

	instance, err = service.Advance(t.Context(), instance.ID, "done", "staff-1")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, models.ActionKeyFileWithoutForwarding, instance.ResultActionKey)
	// Cursor stays on the question: the option itself was the outcome.
	assert.Equal(t, "q", instance.CurrentNodeID)
}

func TestInstance_SnapshotIsolatesTemplateEdits(t *testing.T) {
	service, p := newTestInstanceService(t)
	template := clinicLettersTemplate(t, p)

	instance, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "staff-1")
	require.NoError(t, err)

	// Gut the template mid-walk.
	template.Nodes = []*models.WorkflowNode{}
	require.NoError(t, p.TemplateRepository().Save(t.Context(), template))

	instance, err = service.Advance(t.Context(), instance.ID, "yes", "staff-1")
	require.NoError(t, err)

	instance, err = service.Acknowledge(t.Context(), instance.ID, "staff-1")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, models.ActionKeyForwardToGP, instance.ResultActionKey)
}

func TestInstance_Cancel(t *testing.T) {
	service, p := newTestInstanceService(t)
	template := clinicLettersTemplate(t, p)

	instance, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "staff-1")
	require.NoError(t, err)

	cancelled, err := service.Cancel(t.Context(), instance.ID, "staff-1")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	_, err = service.Cancel(t.Context(), instance.ID, "staff-1")
	require.ErrorIs(t, err, ErrInstanceNotActive)
}

func TestInstance_ConcurrentTransitionConflict(t *testing.T) {
	service, p := newTestInstanceService(t)
	template := clinicLettersTemplate(t, p)

	instance, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "staff-1")
	require.NoError(t, err)

	// First writer wins.
	_, err = service.Advance(t.Context(), instance.ID, "yes", "staff-1")
	require.NoError(t, err)

	// Second writer still holds the version-1 copy; its write must lose.
	err = p.InstanceRepository().Update(t.Context(), instance, instance.Version)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))
	assert.True(t, IsConflictError(err))
}

func TestInstance_CancelStale(t *testing.T) {
	service, p := newTestInstanceService(t)
	template := clinicLettersTemplate(t, p)

	stale, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "staff-1")
	require.NoError(t, err)

	fresh, err := service.Start(t.Context(), &StartInstanceRequest{TemplateID: template.ID, SurgeryID: "surgery-1"}, "staff-2")
	require.NoError(t, err)

	// Age the first instance past the cutoff.
	stale.CreatedAt = time.Now().UTC().Add(-100 * time.Hour)
	require.NoError(t, p.InstanceRepository().Update(t.Context(), stale, stale.Version))

	cancelled, err := service.CancelStale(t.Context(), time.Now().UTC().Add(-72*time.Hour), "janitor")
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	storedStale, err := p.InstanceRepository().GetByID(t.Context(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, storedStale.Status)

	storedFresh, err := p.InstanceRepository().GetByID(t.Context(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusActive, storedFresh.Status)
}
