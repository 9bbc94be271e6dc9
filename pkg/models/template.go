// Package models defines the core domain models for the signposting workflow toolkit.
package models

import "time"

// ApprovalStatus represents the editorial lifecycle state of a template version.
type ApprovalStatus string

const (
	ApprovalStatusDraft      ApprovalStatus = "DRAFT"      // Editable, hidden from reception staff
	ApprovalStatusApproved   ApprovalStatus = "APPROVED"   // Visible to reception staff
	ApprovalStatusSuperseded ApprovalStatus = "SUPERSEDED" // Replaced by a newer version, immutable
)

// WorkflowType controls how a template is grouped on the landing page.
type WorkflowType string

const (
	WorkflowTypePrimary    WorkflowType = "PRIMARY"
	WorkflowTypeSupporting WorkflowType = "SUPPORTING"
	WorkflowTypeModule     WorkflowType = "MODULE"
)

// TemplateScope identifies the tenant a template belongs to. The zero value
// is the global scope shared by every surgery; there is no sentinel surgery id.
type TemplateScope struct {
	SurgeryID string `json:"surgery_id,omitempty"`
}

// GlobalScope returns the scope of the shared default templates.
func GlobalScope() TemplateScope {
	return TemplateScope{}
}

// SurgeryScope returns the scope of a single surgery.
func SurgeryScope(surgeryID string) TemplateScope {
	return TemplateScope{SurgeryID: surgeryID}
}

func (s TemplateScope) IsGlobal() bool {
	return s.SurgeryID == ""
}

// WorkflowTemplate is a named workflow graph definition scoped to a surgery
// or to the global scope. The template exclusively owns its nodes; nodes
// exclusively own their answer options.
type WorkflowTemplate struct {
	ID               string          `json:"id"`
	Scope            TemplateScope   `json:"scope"`
	Name             string          `json:"name"          validate:"required,min=3"`
	Description      string          `json:"description"`
	Icon             string          `json:"icon,omitempty"`
	Colour           string          `json:"colour,omitempty"`
	WorkflowType     WorkflowType    `json:"workflow_type" validate:"required,oneof=PRIMARY SUPPORTING MODULE"`
	IsActive         bool            `json:"is_active"`
	ApprovalStatus   ApprovalStatus  `json:"approval_status"`
	ApprovedBy       *string         `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	LastEditedBy     string          `json:"last_edited_by,omitempty"`
	LastEditedAt     *time.Time      `json:"last_edited_at,omitempty"`
	SourceTemplateID *string         `json:"source_template_id,omitempty"` // Set on surgery-level overrides of a global template
	Nodes            []*WorkflowNode `json:"nodes"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        *time.Time      `json:"deleted_at,omitempty"`
}

// IsOverride reports whether the template is a surgery-level customisation
// of a global template.
func (t *WorkflowTemplate) IsOverride() bool {
	return t.SourceTemplateID != nil && *t.SourceTemplateID != ""
}

// NodeByID returns the node with the given id, or nil.
func (t *WorkflowTemplate) NodeByID(nodeID string) *WorkflowNode {
	for _, node := range t.Nodes {
		if node.ID == nodeID {
			return node
		}
	}

	return nil
}

// StartNodes returns every node flagged as a start node. A correctly
// authored template has exactly one; callers decide how to treat the rest.
func (t *WorkflowTemplate) StartNodes() []*WorkflowNode {
	var starts []*WorkflowNode

	for _, node := range t.Nodes {
		if node.IsStart {
			starts = append(starts, node)
		}
	}

	return starts
}

// SourceTag describes which inheritance layer an effective template came from.
type SourceTag string

const (
	SourceTagGlobal   SourceTag = "global"   // Global default, no surgery override
	SourceTagOverride SourceTag = "override" // Surgery customisation of a global template
	SourceTagCustom   SourceTag = "custom"   // Fully local surgery workflow
)

// WorkflowLandingItem is one entry of the resolved effective workflow set
// for a surgery, as shown on the landing page and the admin management table.
type WorkflowLandingItem struct {
	TemplateID       string         `json:"template_id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Icon             string         `json:"icon,omitempty"`
	Colour           string         `json:"colour,omitempty"`
	WorkflowType     WorkflowType   `json:"workflow_type"`
	ApprovalStatus   ApprovalStatus `json:"approval_status"`
	IsActive         bool           `json:"is_active"`
	Source           SourceTag      `json:"source"`
	SourceTemplateID *string        `json:"source_template_id,omitempty"`
}
