package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/signpostkit/signpost/pkg/cache"
	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/persistence"
)

// EffectiveOptions selects which visibility layers the caller sees. The
// zero value is the reception-staff view: approved, active templates only.
type EffectiveOptions struct {
	IncludeDrafts   bool
	IncludeInactive bool
}

// Effective resolves the workflow set a surgery actually sees: global
// defaults, replaced by surgery overrides where one exists, plus the
// surgery's own custom workflows. Superseded versions never appear.
type Effective struct {
	persistence persistence.Persistence
	cache       cache.EffectiveCache
	logger      *slog.Logger
}

// NewEffective creates a new effective-workflow resolver.
func NewEffective(p persistence.Persistence, c cache.EffectiveCache, logger *slog.Logger) *Effective {
	if c == nil {
		c = cache.NewNoop()
	}

	return &Effective{
		persistence: p,
		cache:       c,
		logger:      logger,
	}
}

// EffectiveWorkflows resolves the landing list for a surgery. Resolution is
// pure over the stored templates: calling it twice without an intervening
// mutation returns the same list.
func (s *Effective) EffectiveWorkflows(ctx context.Context, surgeryID string, opts EffectiveOptions) ([]*models.WorkflowLandingItem, error) {
	if surgeryID == "" {
		return nil, NewServiceError("EffectiveWorkflows", "surgery id", ErrEmptySurgeryID)
	}

	key := cache.Key(surgeryID, opts.IncludeDrafts, opts.IncludeInactive)

	if items, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "effective cache read failed", "key", key, "error", err)
	} else if ok {
		return items, nil
	}

	items, err := s.resolve(ctx, surgeryID, opts)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, items); err != nil {
		s.logger.WarnContext(ctx, "effective cache write failed", "key", key, "error", err)
	}

	return items, nil
}

func (s *Effective) resolve(ctx context.Context, surgeryID string, opts EffectiveOptions) ([]*models.WorkflowLandingItem, error) {
	repo := s.persistence.TemplateRepository()

	global, err := repo.ByScope(ctx, models.GlobalScope())
	if err != nil {
		return nil, fmt.Errorf("failed to list global templates: %w", err)
	}

	local, err := repo.ByScope(ctx, models.SurgeryScope(surgeryID))
	if err != nil {
		return nil, fmt.Errorf("failed to list surgery templates: %w", err)
	}

	// Overrides are indexed by the global template they replace. A draft
	// override stays invisible to staff, so in the staff view its global
	// source shows through instead.
	overrides := make(map[string]*models.WorkflowTemplate, len(local))
	customs := make([]*models.WorkflowTemplate, 0, len(local))

	for _, template := range local {
		if template.ApprovalStatus == models.ApprovalStatusSuperseded {
			continue
		}

		if template.IsOverride() {
			overrides[*template.SourceTemplateID] = template
		} else {
			customs = append(customs, template)
		}
	}

	items := make([]*models.WorkflowLandingItem, 0, len(global)+len(customs))

	for _, template := range global {
		if template.ApprovalStatus == models.ApprovalStatusSuperseded {
			continue
		}

		if override, ok := overrides[template.ID]; ok {
			if s.visible(override, opts) {
				items = append(items, landingItem(override, models.SourceTagOverride))
				continue
			}
			// Fall through: the override is hidden in this view, the
			// global default still applies.
		}

		if s.visible(template, opts) {
			items = append(items, landingItem(template, models.SourceTagGlobal))
		}
	}

	for _, template := range customs {
		if s.visible(template, opts) {
			items = append(items, landingItem(template, models.SourceTagCustom))
		}
	}

	sortLandingItems(items)

	return items, nil
}

func (s *Effective) visible(template *models.WorkflowTemplate, opts EffectiveOptions) bool {
	if template.ApprovalStatus == models.ApprovalStatusDraft && !opts.IncludeDrafts {
		return false
	}

	if !template.IsActive && !opts.IncludeInactive {
		return false
	}

	return true
}

func landingItem(template *models.WorkflowTemplate, source models.SourceTag) *models.WorkflowLandingItem {
	return &models.WorkflowLandingItem{
		TemplateID:       template.ID,
		Name:             template.Name,
		Description:      template.Description,
		Icon:             template.Icon,
		Colour:           template.Colour,
		WorkflowType:     template.WorkflowType,
		ApprovalStatus:   template.ApprovalStatus,
		IsActive:         template.IsActive,
		Source:           source,
		SourceTemplateID: template.SourceTemplateID,
	}
}

var workflowTypeOrder = map[models.WorkflowType]int{
	models.WorkflowTypePrimary:    0,
	models.WorkflowTypeSupporting: 1,
	models.WorkflowTypeModule:     2,
}

// sortLandingItems orders by workflow type, then name, then id, so the
// landing page is stable across requests.
func sortLandingItems(items []*models.WorkflowLandingItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if workflowTypeOrder[items[i].WorkflowType] != workflowTypeOrder[items[j].WorkflowType] {
			return workflowTypeOrder[items[i].WorkflowType] < workflowTypeOrder[items[j].WorkflowType]
		}

		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}

		return items[i].TemplateID < items[j].TemplateID
	})
}
