// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrTemplateNotFound indicates a template was not found by the given identifier.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrNodeNotFound indicates a node was not found within a template.
	ErrNodeNotFound = errors.New("node not found")

	// ErrOptionNotFound indicates an answer option was not found within a node.
	ErrOptionNotFound = errors.New("answer option not found")

	// ErrInstanceNotFound indicates a workflow instance was not found.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceVersionConflict indicates a compare-and-swap update lost a
	// race against a concurrent transition on the same instance.
	ErrInstanceVersionConflict = errors.New("instance version conflict")
)

// TemplateError wraps template-related errors with additional context.
type TemplateError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	TemplateID string
	Err        error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("%s operation failed for template %s: %v", e.Op, e.TemplateID, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

func (e *TemplateError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTemplateError creates a new template error with context.
func NewTemplateError(op, templateID string, err error) *TemplateError {
	return &TemplateError{
		Op:         op,
		TemplateID: templateID,
		Err:        err,
	}
}

// InstanceError wraps instance-related errors with additional context.
type InstanceError struct {
	Op         string
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{
		Op:         op,
		InstanceID: instanceID,
		Err:        err,
	}
}

// IsTemplateNotFound checks if an error indicates a template was not found.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsVersionConflict checks if an error indicates a lost compare-and-swap race.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrInstanceVersionConflict)
}
