// Package persistence provides the data storage abstraction layer for
// workflow templates and instances.
package persistence

import (
	"context"
	"time"

	"github.com/signpostkit/signpost/pkg/models"
)

// Persistence is the storage entry point. Implementations must make every
// mutating call atomic: a failed write leaves the stored aggregate unchanged.
type Persistence interface {
	TemplateRepository() TemplateRepository
	InstanceRepository() InstanceRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// TemplateRepository stores template aggregates (template + nodes + options).
// Save replaces the whole graph in one transaction, so structural edits are
// load-modify-save on the aggregate.
type TemplateRepository interface {
	// ByScope returns all non-deleted templates in the given scope.
	ByScope(ctx context.Context, scope models.TemplateScope) ([]*models.WorkflowTemplate, error)

	// GetByID returns the template with its full graph, or ErrTemplateNotFound.
	GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)

	// Save upserts the template and replaces its nodes and options.
	Save(ctx context.Context, template *models.WorkflowTemplate) error

	// Delete soft-deletes the template (nodes and options go with it).
	Delete(ctx context.Context, id string) error
}

// InstanceRepository stores workflow instances with their execution snapshot
// and answer history.
type InstanceRepository interface {
	// GetByID returns the instance, or ErrInstanceNotFound.
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)

	// Create persists a new instance at version 1.
	Create(ctx context.Context, instance *models.WorkflowInstance) error

	// Update persists the instance if the stored version still equals
	// expectedVersion, bumping the version; otherwise it returns
	// ErrInstanceVersionConflict and writes nothing.
	Update(ctx context.Context, instance *models.WorkflowInstance, expectedVersion int64) error

	// ActiveOlderThan returns ACTIVE instances created before the cutoff.
	ActiveOlderThan(ctx context.Context, cutoff time.Time) ([]*models.WorkflowInstance, error)
}
