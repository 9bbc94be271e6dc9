// Package cache caches resolved effective-workflow lists per surgery.
package cache

import (
	"context"

	"github.com/signpostkit/signpost/pkg/models"
)

// EffectiveCache stores resolved landing lists keyed by surgery and
// visibility flags. Any template mutation for a surgery (or the global
// scope) must invalidate that surgery's entries before readers can observe
// the write, so a cached list is never staler than the last mutation.
type EffectiveCache interface {
	// Get returns the cached list and true, or nil and false on a miss.
	Get(ctx context.Context, key string) ([]*models.WorkflowLandingItem, bool, error)

	// Set stores the list under key.
	Set(ctx context.Context, key string, items []*models.WorkflowLandingItem) error

	// InvalidateSurgery drops every entry for the surgery. An empty surgery
	// id means a global-scope mutation, which invalidates all surgeries.
	InvalidateSurgery(ctx context.Context, surgeryID string) error
}

// Key builds the cache key for one resolved view of a surgery.
func Key(surgeryID string, includeDrafts, includeInactive bool) string {
	key := "effective:" + surgeryID
	if includeDrafts {
		key += ":drafts"
	}

	if includeInactive {
		key += ":inactive"
	}

	return key
}

// Noop is an EffectiveCache that caches nothing. Used when no redis URL is
// configured and in tests that assert resolver behaviour directly.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (Noop) Get(_ context.Context, _ string) ([]*models.WorkflowLandingItem, bool, error) {
	return nil, false, nil
}

func (Noop) Set(_ context.Context, _ string, _ []*models.WorkflowLandingItem) error {
	return nil
}

func (Noop) InvalidateSurgery(_ context.Context, _ string) error {
	return nil
}
