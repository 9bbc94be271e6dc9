// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/signpostkit/signpost/pkg/persistence"
)

// Validation errors: malformed input, never retried (400 Bad Request).
var (
	ErrTitleRequired         = errors.New("node title is required")
	ErrLabelRequired         = errors.New("answer option label is required")
	ErrValueKeyRequired      = errors.New("answer option value key is required")
	ErrInvalidNodeType       = errors.New("invalid node type")
	ErrInvalidActionKey      = errors.New("invalid action key")
	ErrInvalidWorkflowType   = errors.New("invalid workflow type")
	ErrOptionsOnQuestion     = errors.New("answer options can only be attached to QUESTION nodes")
	ErrCrossTemplateRef      = errors.New("next node must belong to the same template")
	ErrInvalidDocument       = errors.New("template document failed schema validation")
	ErrEmptySurgeryID        = errors.New("surgery id cannot be empty")
	ErrOverrideScopeRequired = errors.New("an override template must be scoped to a surgery")
	ErrSourceNotGlobal       = errors.New("source template must be a global template")
	ErrOverrideExists        = errors.New("surgery already has an override of this template")
	ErrTemplateScopeMismatch = errors.New("template is not available to this surgery")
)

// Configuration errors: the template graph itself is malformed. Surfaced to
// admin-facing callers with enough detail to fix the template (422).
var (
	ErrNoStartNode         = errors.New("template has no start node")
	ErrMultipleStartNodes  = errors.New("template has more than one start node")
	ErrDeadEndOption       = errors.New("answer option has neither a next node nor an action key")
	ErrDeadEndInstruction  = errors.New("instruction node has neither a next node nor an action key")
	ErrMissingSnapshotNode = errors.New("snapshot does not contain the referenced node")
)

// Conflict errors: a concurrent mutation lost a race. The caller is
// expected to refetch and retry once (409).
var (
	ErrStaleInstance = errors.New("instance was modified concurrently")
)

// Invalid transition errors: operation attempted against an instance or
// template in the wrong state, terminal for that call (409/422).
var (
	ErrInstanceNotActive  = errors.New("instance is not active")
	ErrNotQuestionNode    = errors.New("current node is not a question")
	ErrNotInstructionNode = errors.New("current node is not an instruction")
	ErrUnknownOption      = errors.New("selected option does not belong to the current node")
	ErrTemplateSuperseded = errors.New("superseded templates are immutable")
	ErrTemplateInactive   = errors.New("template is not active")
	ErrAlreadyApproved    = errors.New("template is already approved")
)

// Authorization errors: the caller lacks the role required (403).
var (
	ErrNotSurgeryAdmin = errors.New("approver is not an admin of the template's surgery")
	ErrNotGlobalAdmin  = errors.New("approver is not a global administrator")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewServiceError creates a new service error with context.
func NewServiceError(op, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrTitleRequired) ||
		errors.Is(err, ErrLabelRequired) ||
		errors.Is(err, ErrValueKeyRequired) ||
		errors.Is(err, ErrInvalidNodeType) ||
		errors.Is(err, ErrInvalidActionKey) ||
		errors.Is(err, ErrInvalidWorkflowType) ||
		errors.Is(err, ErrOptionsOnQuestion) ||
		errors.Is(err, ErrCrossTemplateRef) ||
		errors.Is(err, ErrInvalidDocument) ||
		errors.Is(err, ErrEmptySurgeryID) ||
		errors.Is(err, ErrOverrideScopeRequired) ||
		errors.Is(err, ErrSourceNotGlobal) ||
		errors.Is(err, ErrOverrideExists) ||
		errors.Is(err, ErrTemplateScopeMismatch)
}

// IsConfigurationError checks if an error reports a malformed template graph.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrNoStartNode) ||
		errors.Is(err, ErrMultipleStartNodes) ||
		errors.Is(err, ErrDeadEndOption) ||
		errors.Is(err, ErrDeadEndInstruction) ||
		errors.Is(err, ErrMissingSnapshotNode)
}

// IsConflictError checks if an error is a lost concurrency race.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrStaleInstance) ||
		persistence.IsVersionConflict(err)
}

// IsInvalidTransitionError checks if an operation was attempted in the wrong state.
func IsInvalidTransitionError(err error) bool {
	return errors.Is(err, ErrInstanceNotActive) ||
		errors.Is(err, ErrNotQuestionNode) ||
		errors.Is(err, ErrNotInstructionNode) ||
		errors.Is(err, ErrUnknownOption) ||
		errors.Is(err, ErrTemplateSuperseded) ||
		errors.Is(err, ErrTemplateInactive) ||
		errors.Is(err, ErrAlreadyApproved)
}

// IsAuthorizationError checks if the caller lacked a required role.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrNotSurgeryAdmin) ||
		errors.Is(err, ErrNotGlobalAdmin)
}
