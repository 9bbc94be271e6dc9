// Package file provides file-based persistence for templates and instances.
// It is intended for unit tests and local development; every aggregate is
// stored as one JSON document.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/signpostkit/signpost/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root         string
	templateRepo *TemplateRepository
	instanceRepo *InstanceRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		templateRepo: NewTemplateRepository(cleanRoot),
		instanceRepo: NewInstanceRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) TemplateRepository() persistence.TemplateRepository {
	return fp.templateRepo
}

func (fp *Persistence) InstanceRepository() persistence.InstanceRepository {
	return fp.instanceRepo
}
