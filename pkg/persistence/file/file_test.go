package file

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/persistence"
)

func TestTemplateRepository_SaveAndGet(t *testing.T) {
	p := NewPersistence(t.TempDir())

	next := "end"
	template := &models.WorkflowTemplate{
		ID:             "t1",
		Scope:          models.SurgeryScope("surgery-1"),
		Name:           "Clinic Letters",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusDraft,
		Nodes: []*models.WorkflowNode{
			{
				ID:       "q",
				NodeType: models.NodeTypeQuestion,
				Title:    "Urgent?",
				IsStart:  true,
				Options: []*models.WorkflowAnswerOption{
					{ID: "yes", Label: "Yes", ValueKey: "urgent", NextNodeID: &next},
				},
			},
			{ID: "end", NodeType: models.NodeTypeEnd, Title: "Forward", ActionKey: models.ActionKeyForwardToGP},
		},
	}

	require.NoError(t, p.TemplateRepository().Save(t.Context(), template))

	stored, err := p.TemplateRepository().GetByID(t.Context(), "t1")
	require.NoError(t, err)

	assert.Equal(t, "Clinic Letters", stored.Name)
	assert.False(t, stored.CreatedAt.IsZero())
	require.Len(t, stored.Nodes, 2)
	require.Len(t, stored.Nodes[0].Options, 1)
	assert.Equal(t, "urgent", stored.Nodes[0].Options[0].ValueKey)
}

func TestTemplateRepository_GetByID_NotFound(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, err := p.TemplateRepository().GetByID(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsTemplateNotFound(err))
}

func TestTemplateRepository_ByScope(t *testing.T) {
	p := NewPersistence(t.TempDir())

	for _, template := range []*models.WorkflowTemplate{
		{ID: "g1", Scope: models.GlobalScope(), Name: "Global One", WorkflowType: models.WorkflowTypePrimary},
		{ID: "s1", Scope: models.SurgeryScope("surgery-1"), Name: "Local One", WorkflowType: models.WorkflowTypePrimary},
		{ID: "s2", Scope: models.SurgeryScope("surgery-2"), Name: "Other Surgery", WorkflowType: models.WorkflowTypePrimary},
	} {
		require.NoError(t, p.TemplateRepository().Save(t.Context(), template))
	}

	global, err := p.TemplateRepository().ByScope(t.Context(), models.GlobalScope())
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, "g1", global[0].ID)

	local, err := p.TemplateRepository().ByScope(t.Context(), models.SurgeryScope("surgery-1"))
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "s1", local[0].ID)
}

func TestTemplateRepository_SoftDelete(t *testing.T) {
	p := NewPersistence(t.TempDir())

	template := &models.WorkflowTemplate{
		ID:           "t1",
		Scope:        models.GlobalScope(),
		Name:         "Short Lived",
		WorkflowType: models.WorkflowTypeModule,
	}
	require.NoError(t, p.TemplateRepository().Save(t.Context(), template))
	require.NoError(t, p.TemplateRepository().Delete(t.Context(), "t1"))

	_, err := p.TemplateRepository().GetByID(t.Context(), "t1")
	assert.True(t, persistence.IsTemplateNotFound(err))

	templates, err := p.TemplateRepository().ByScope(t.Context(), models.GlobalScope())
	require.NoError(t, err)
	assert.Empty(t, templates)
}

func TestInstanceRepository_CreateStartsAtVersionOne(t *testing.T) {
	p := NewPersistence(t.TempDir())

	instance := &models.WorkflowInstance{
		ID:         "i1",
		TemplateID: "t1",
		SurgeryID:  "surgery-1",
		StartedBy:  "staff-1",
		Status:     models.InstanceStatusActive,
		Snapshot:   &models.GraphSnapshot{TemplateID: "t1", Nodes: []*models.WorkflowNode{}},
		Version:    42, // ignored
	}

	require.NoError(t, p.InstanceRepository().Create(t.Context(), instance))

	stored, err := p.InstanceRepository().GetByID(t.Context(), "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestInstanceRepository_UpdateCompareAndSwap(t *testing.T) {
	p := NewPersistence(t.TempDir())

	instance := &models.WorkflowInstance{
		ID:         "i1",
		TemplateID: "t1",
		SurgeryID:  "surgery-1",
		StartedBy:  "staff-1",
		Status:     models.InstanceStatusActive,
		Snapshot:   &models.GraphSnapshot{TemplateID: "t1", Nodes: []*models.WorkflowNode{}},
	}
	require.NoError(t, p.InstanceRepository().Create(t.Context(), instance))

	instance.CurrentNodeID = "next"
	require.NoError(t, p.InstanceRepository().Update(t.Context(), instance, 1))
	assert.Equal(t, int64(2), instance.Version)

	// A writer still holding version 1 loses.
	staleCopy := &models.WorkflowInstance{
		ID:         "i1",
		TemplateID: "t1",
		SurgeryID:  "surgery-1",
		StartedBy:  "staff-1",
		Status:     models.InstanceStatusActive,
		Snapshot:   &models.GraphSnapshot{TemplateID: "t1", Nodes: []*models.WorkflowNode{}},
	}

	err := p.InstanceRepository().Update(t.Context(), staleCopy, 1)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	stored, err := p.InstanceRepository().GetByID(t.Context(), "i1")
	require.NoError(t, err)
	assert.Equal(t, "next", stored.CurrentNodeID)
	assert.Equal(t, int64(2), stored.Version)
}

func TestInstanceRepository_ActiveOlderThan(t *testing.T) {
	p := NewPersistence(t.TempDir())

	old := &models.WorkflowInstance{
		ID:         "old",
		TemplateID: "t1",
		SurgeryID:  "surgery-1",
		StartedBy:  "staff-1",
		Status:     models.InstanceStatusActive,
		CreatedAt:  time.Now().UTC().Add(-100 * time.Hour),
		Snapshot:   &models.GraphSnapshot{TemplateID: "t1", Nodes: []*models.WorkflowNode{}},
	}
	require.NoError(t, p.InstanceRepository().Create(t.Context(), old))

	finished := &models.WorkflowInstance{
		ID:         "finished",
		TemplateID: "t1",
		SurgeryID:  "surgery-1",
		StartedBy:  "staff-1",
		Status:     models.InstanceStatusCompleted,
		CreatedAt:  time.Now().UTC().Add(-100 * time.Hour),
		Snapshot:   &models.GraphSnapshot{TemplateID: "t1", Nodes: []*models.WorkflowNode{}},
	}
	require.NoError(t, p.InstanceRepository().Create(t.Context(), finished))

	recent := &models.WorkflowInstance{
		ID:         "recent",
		TemplateID: "t1",
		SurgeryID:  "surgery-1",
		StartedBy:  "staff-1",
		Status:     models.InstanceStatusActive,
		Snapshot:   &models.GraphSnapshot{TemplateID: "t1", Nodes: []*models.WorkflowNode{}},
	}
	require.NoError(t, p.InstanceRepository().Create(t.Context(), recent))

	stale, err := p.InstanceRepository().ActiveOlderThan(t.Context(), time.Now().UTC().Add(-72*time.Hour))
	require.NoError(t, err)

	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := NewPersistence(t.TempDir())

	require.NoError(t, p.HealthCheck(t.Context()))
	require.NoError(t, p.Close(t.Context()))
}
