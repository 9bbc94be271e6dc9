package services

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/persistence"
	"github.com/signpostkit/signpost/pkg/persistence/file"
)

func newTestResolver(t *testing.T) (*Effective, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	return NewEffective(p, nil, slog.Default()), p
}

func seedTemplate(t *testing.T, p persistence.Persistence, template *models.WorkflowTemplate) *models.WorkflowTemplate {
	t.Helper()

	if template.Nodes == nil {
		template.Nodes = []*models.WorkflowNode{}
	}

	require.NoError(t, p.TemplateRepository().Save(t.Context(), template))

	return template
}

func TestEffective_GlobalDefaultsShowThrough(t *testing.T) {
	service, p := newTestResolver(t)

	seedTemplate(t, p, &models.WorkflowTemplate{
		ID:             "global-1",
		Scope:          models.GlobalScope(),
		Name:           "Clinic Letters",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
	})

	items, err := service.EffectiveWorkflows(t.Context(), "surgery-1", EffectiveOptions{})
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, "global-1", items[0].TemplateID)
	assert.Equal(t, models.SourceTagGlobal, items[0].Source)
}

func TestEffective_ApprovedOverrideReplacesGlobal(t *testing.T) {
	service, p := newTestResolver(t)

	global := seedTemplate(t, p, &models.WorkflowTemplate{
		ID:             "global-1",
		Scope:          models.GlobalScope(),
		Name:           "Clinic Letters",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
	})

	seedTemplate(t, p, &models.WorkflowTemplate{
		ID:               "override-1",
		Scope:            models.SurgeryScope("surgery-1"),
		Name:             "Clinic Letters (local)",
		WorkflowType:     models.WorkflowTypePrimary,
		IsActive:         true,
		ApprovalStatus:   models.ApprovalStatusApproved,
		SourceTemplateID: &global.ID,
	})

	items, err := service.EffectiveWorkflows(t.Context(), "surgery-1", EffectiveOptions{})
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, "override-1", items[0].TemplateID)
	assert.Equal(t, models.SourceTagOverride, items[0].Source)

	// Another surgery keeps the global default.
	other, err := service.EffectiveWorkflows(t.Context(), "surgery-2", EffectiveOptions{})
	require.NoError(t, err)

	require.Len(t, other, 1)
	assert.Equal(t, "global-1", other[0].TemplateID)
}

func TestEffective_DraftOverrideFallsBackToGlobal(t *testing.T) {
	service, p := newTestResolver(t)

	global := seedTemplate(t, p, &models.WorkflowTemplate{
		ID:             "global-1",
		Scope:          models.GlobalScope(),
		Name:           "Test Results",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
	})

	seedTemplate(t, p, &models.WorkflowTemplate{
		ID:               "override-1",
		Scope:            models.SurgeryScope("surgery-1"),
		Name:             "Test Results (draft rework)",
		WorkflowType:     models.WorkflowTypePrimary,
		IsActive:         true,
		ApprovalStatus:   models.ApprovalStatusDraft,
		SourceTemplateID: &global.ID,
	})

	// Staff view: the approved global shows until the override is approved.
	items, err := service.EffectiveWorkflows(t.Context(), "surgery-1", EffectiveOptions{})
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, "global-1", items[0].TemplateID)
	assert.Equal(t, models.SourceTagGlobal, items[0].Source)

	// Admin view: the draft override takes the slot.
	admin, err := service.EffectiveWorkflows(t.Context(), "surgery-1", EffectiveOptions{IncludeDrafts: true})
	require.NoError(t, err)

	require.Len(t, admin, 1)
	assert.Equal(t, "override-1", admin[0].TemplateID)
	assert.Equal(t, models.SourceTagOverride, admin[0].Source)
}

func TestEffective_SupersededAlwaysExcluded(t *testing.T) {
	service, p := newTestResolver(t)

	seedTemplate(t, p, &models.WorkflowTemplate{
		ID:             "global-old",
		Scope:          models.GlobalScope(),
		Name:           "Old Version",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusSuperseded,
	})

	seedTemplate(t, p, &models.WorkflowTemplate{
		ID:             "local-old",
		Scope:          models.SurgeryScope("surgery-1"),
		Name:           "Old Local Version",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusSuperseded,
	})

	items, err := service.EffectiveWorkflows(t.Context(), "surgery-1", EffectiveOptions{
		IncludeDrafts:   true,
		IncludeInactive: true,
	})
	require.NoError(t, err)

	assert.Empty(t, items)
}

func TestEffective_VisibilityFlags(t *testing.T) {
	service, p := newTestResolver(t)

	seedTemplate(t, p, &models.WorkflowTemplate{
		ID:             "draft-1",
		Scope:          models.SurgeryScope("surgery-1"),
		Name:           "Draft Custom",
		WorkflowType:   models.WorkflowTypeSupporting,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusDraft,
	})

	seedTemplate(t, p, &models.WorkflowTemplate{
		ID:             "inactive-1",
		Scope:          models.SurgeryScope("surgery-1"),
		Name:           "Retired Custom",
		WorkflowType:   models.WorkflowTypeSupporting,
		IsActive:       false,
		ApprovalStatus: models.ApprovalStatusApproved,
	})

	staff, err := service.EffectiveWorkflows(t.Context(), "surgery-1", EffectiveOptions{})
	require.NoError(t, err)
	assert.Empty(t, staff)

	admin, err := service.EffectiveWorkflows(t.Context(), "surgery-1", EffectiveOptions{
		IncludeDrafts:   true,
		IncludeInactive: true,
	})
	require.NoError(t, err)
	assert.Len(t, admin, 2)
}

func TestEffective_DeterministicOrdering(t *testing.T) {
	service, p := newTestResolver(t)

	seedTemplate(t, p, &models.WorkflowTemplate{
		ID:             "module-1",
		Scope:          models.GlobalScope(),
		Name:           "Appointment Booking",
		WorkflowType:   models.WorkflowTypeModule,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
	})

	seedTemplate(t, p, &models.WorkflowTemplate{
		ID:             "primary-b",
		Scope:          models.GlobalScope(),
		Name:           "Test Results",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
	})

	seedTemplate(t, p, &models.WorkflowTemplate{
		ID:             "primary-a",
		Scope:          models.GlobalScope(),
		Name:           "Clinic Letters",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
	})

	seedTemplate(t, p, &models.WorkflowTemplate{
		ID:             "supporting-1",
		Scope:          models.GlobalScope(),
		Name:           "Sick Notes",
		WorkflowType:   models.WorkflowTypeSupporting,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
	})

	first, err := service.EffectiveWorkflows(t.Context(), "surgery-1", EffectiveOptions{})
	require.NoError(t, err)

	ids := make([]string, 0, len(first))
	for _, item := range first {
		ids = append(ids, item.TemplateID)
	}

	assert.Equal(t, []string{"primary-a", "primary-b", "supporting-1", "module-1"}, ids)

	// Resolution is pure: a second call returns the same list.
	second, err := service.EffectiveWorkflows(t.Context(), "surgery-1", EffectiveOptions{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEffective_EmptySurgeryID(t *testing.T) {
	service, _ := newTestResolver(t)

	_, err := service.EffectiveWorkflows(t.Context(), "", EffectiveOptions{})
	require.ErrorIs(t, err, ErrEmptySurgeryID)
}

// countingCache wraps entries in memory and counts resolver misses.
type countingCache struct {
	entries map[string][]*models.WorkflowLandingItem
	sets    int
}

func (c *countingCache) Get(_ context.Context, key string) ([]*models.WorkflowLandingItem, bool, error) {
	items, ok := c.entries[key]

	return items, ok, nil
}

func (c *countingCache) Set(_ context.Context, key string, items []*models.WorkflowLandingItem) error {
	c.entries[key] = items
	c.sets++

	return nil
}

func (c *countingCache) InvalidateSurgery(_ context.Context, _ string) error {
	c.entries = make(map[string][]*models.WorkflowLandingItem)

	return nil
}

func TestEffective_CachesResolvedLists(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	cacheImpl := &countingCache{entries: make(map[string][]*models.WorkflowLandingItem)}
	service := NewEffective(p, cacheImpl, slog.Default())

	seedTemplate(t, p, &models.WorkflowTemplate{
		ID:             "global-1",
		Scope:          models.GlobalScope(),
		Name:           "Clinic Letters",
		WorkflowType:   models.WorkflowTypePrimary,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusApproved,
	})

	_, err := service.EffectiveWorkflows(t.Context(), "surgery-1", EffectiveOptions{})
	require.NoError(t, err)

	_, err = service.EffectiveWorkflows(t.Context(), "surgery-1", EffectiveOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, cacheImpl.sets)

	// A different view resolves separately.
	_, err = service.EffectiveWorkflows(t.Context(), "surgery-1", EffectiveOptions{IncludeDrafts: true})
	require.NoError(t, err)

	assert.Equal(t, 2, cacheImpl.sets)
}
