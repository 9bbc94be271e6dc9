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

const dirPerm = 0o755

// TemplateRepository stores each template aggregate as templates/<id>.json.
// A mutex serializes writers; file persistence runs in a single process.
type TemplateRepository struct {
	root string
	mu   sync.Mutex
}

// NewTemplateRepository creates a template repository rooted at root.
func NewTemplateRepository(root string) *TemplateRepository {
	return &TemplateRepository{root: root}
}

func (r *TemplateRepository) dir() string {
	return filepath.Join(r.root, "templates")
}

func (r *TemplateRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

// ByScope returns all non-deleted templates in the given scope.
func (r *TemplateRepository) ByScope(_ context.Context, scope models.TemplateScope) ([]*models.WorkflowTemplate, error) {
	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.WorkflowTemplate{}, nil
		}

		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}

	templates := make([]*models.WorkflowTemplate, 0)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		template, err := r.read(filepath.Join(r.dir(), entry.Name()))
		if err != nil {
			return nil, err
		}

		if template.DeletedAt != nil {
			continue
		}

		if template.Scope == scope {
			templates = append(templates, template)
		}
	}

	return templates, nil
}

// GetByID returns the template with its full graph, or ErrTemplateNotFound.
func (r *TemplateRepository) GetByID(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	template, err := r.read(r.path(id))
	if err != nil {
		return nil, err
	}

	if template.DeletedAt != nil {
		return nil, persistence.NewTemplateError("GetByID", id, persistence.ErrTemplateNotFound)
	}

	return template, nil
}

// Save writes the whole aggregate atomically via a temp file and rename.
func (r *TemplateRepository) Save(_ context.Context, template *models.WorkflowTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir(), dirPerm); err != nil {
		return fmt.Errorf("failed to create templates directory: %w", err)
	}

	template.UpdatedAt = time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = template.UpdatedAt
	}

	data, err := json.MarshalIndent(template, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	return writeAtomic(r.path(template.ID), data)
}

// Delete soft-deletes the template.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	template, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	template.DeletedAt = &now

	return r.Save(ctx, template)
}

func (r *TemplateRepository) read(path string) (*models.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewTemplateError("read", filepath.Base(path), persistence.ErrTemplateNotFound)
		}

		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	var template models.WorkflowTemplate
	if err := json.Unmarshal(data, &template); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template file %s: %w", path, err)
	}

	return &template, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
