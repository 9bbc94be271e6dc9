package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/persistence"
)

// InstanceRepository stores each instance as instances/<id>.json. The mutex
// makes the compare-and-swap in Update atomic within the process, matching
// the row-level CAS the SQL implementation gets from the database.
type InstanceRepository struct {
	root string
	mu   sync.Mutex
}

// NewInstanceRepository creates an instance repository rooted at root.
func NewInstanceRepository(root string) *InstanceRepository {
	return &InstanceRepository{root: root}
}

func (r *InstanceRepository) dir() string {
	return filepath.Join(r.root, "instances")
}

func (r *InstanceRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

// GetByID returns the instance, or ErrInstanceNotFound.
func (r *InstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	return r.read(r.path(id))
}

// Create persists a new instance at version 1.
func (r *InstanceRepository) Create(_ context.Context, instance *models.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir(), dirPerm); err != nil {
		return fmt.Errorf("failed to create instances directory: %w", err)
	}

	instance.Version = 1

	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	return r.write(instance)
}

// Update persists the instance only if the stored version still equals
// expectedVersion, then bumps the version.
func (r *InstanceRepository) Update(_ context.Context, instance *models.WorkflowInstance, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.read(r.path(instance.ID))
	if err != nil {
		return err
	}

	if stored.Version != expectedVersion {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceVersionConflict)
	}

	instance.Version = expectedVersion + 1
	instance.UpdatedAt = time.Now().UTC()

	return r.write(instance)
}

// ActiveOlderThan returns ACTIVE instances created before the cutoff.
func (r *InstanceRepository) ActiveOlderThan(_ context.Context, cutoff time.Time) ([]*models.WorkflowInstance, error) {
	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.WorkflowInstance{}, nil
		}

		return nil, fmt.Errorf("failed to read instances directory: %w", err)
	}

	stale := make([]*models.WorkflowInstance, 0)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		instance, err := r.read(filepath.Join(r.dir(), entry.Name()))
		if err != nil {
			return nil, err
		}

		if instance.Status == models.InstanceStatusActive && instance.CreatedAt.Before(cutoff) {
			stale = append(stale, instance)
		}
	}

	return stale, nil
}

func (r *InstanceRepository) read(path string) (*models.WorkflowInstance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			id := strings.TrimSuffix(filepath.Base(path), ".json")

			return nil, persistence.NewInstanceError("read", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to read instance file: %w", err)
	}

	var instance models.WorkflowInstance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance file %s: %w", path, err)
	}

	return &instance, nil
}

func (r *InstanceRepository) write(instance *models.WorkflowInstance) error {
	data, err := json.MarshalIndent(instance, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}

	return writeAtomic(r.path(instance.ID), data)
}
