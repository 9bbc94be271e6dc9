// Package web provides HTTP request and response types for the signposting API.
package web

import (
	"encoding/json"

	"github.com/signpostkit/signpost/pkg/models"
)

// CreateTemplateRequest represents the request body for creating a template.
// An empty surgery_id creates a global template. Setting source_template_id
// creates a surgery override seeded from the source's graph.
type CreateTemplateRequest struct {
	SurgeryID        string `json:"surgery_id,omitempty"`
	Name             string `json:"name"                         validate:"required,min=3"`
	Description      string `json:"description"`
	Icon             string `json:"icon,omitempty"`
	Colour           string `json:"colour,omitempty"`
	WorkflowType     string `json:"workflow_type"                validate:"required,oneof=PRIMARY SUPPORTING MODULE"`
	SourceTemplateID string `json:"source_template_id,omitempty"`
}

// UpdateTemplateRequest represents partial metadata updates to a template.
type UpdateTemplateRequest struct {
	Name         *string `json:"name,omitempty"          validate:"omitempty,min=3"`
	Description  *string `json:"description,omitempty"`
	Icon         *string `json:"icon,omitempty"`
	Colour       *string `json:"colour,omitempty"`
	WorkflowType *string `json:"workflow_type,omitempty" validate:"omitempty,oneof=PRIMARY SUPPORTING MODULE"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

// CreateNodeRequest represents the request body for adding a node.
type CreateNodeRequest struct {
	NodeType          string  `json:"node_type"                      validate:"required,oneof=INSTRUCTION QUESTION END"`
	Title             string  `json:"title"                          validate:"required"`
	Body              string  `json:"body,omitempty"`
	SortOrder         int     `json:"sort_order"`
	IsStart           bool    `json:"is_start"`
	ActionKey         string  `json:"action_key,omitempty"           validate:"omitempty,oneof=FORWARD_TO_GP FILE_WITHOUT_FORWARDING OTHER"`
	DefaultNextNodeID *string `json:"default_next_node_id,omitempty"`
	PositionX         int     `json:"position_x"`
	PositionY         int     `json:"position_y"`
}

// UpdateNodeRequest represents partial node updates. Sending an explicit
// null for default_next_node_id clears the link; omitting it leaves the
// link unchanged.
type UpdateNodeRequest struct {
	Title             *string          `json:"title,omitempty"      validate:"omitempty,min=1"`
	Body              *string          `json:"body,omitempty"`
	SortOrder         *int             `json:"sort_order,omitempty"`
	IsStart           *bool            `json:"is_start,omitempty"`
	ActionKey         *string          `json:"action_key,omitempty" validate:"omitempty,oneof=FORWARD_TO_GP FILE_WITHOUT_FORWARDING OTHER"`
	DefaultNextNodeID nullableString   `json:"default_next_node_id"`
	PositionX         *int             `json:"position_x,omitempty"`
	PositionY         *int             `json:"position_y,omitempty"`
}

// CreateOptionRequest represents the request body for adding an answer option.
type CreateOptionRequest struct {
	Label       string  `json:"label"                  validate:"required"`
	ValueKey    string  `json:"value_key"              validate:"required"`
	Description string  `json:"description,omitempty"`
	NextNodeID  *string `json:"next_node_id,omitempty"`
	ActionKey   string  `json:"action_key,omitempty"   validate:"omitempty,oneof=FORWARD_TO_GP FILE_WITHOUT_FORWARDING OTHER"`
}

// UpdateOptionRequest represents partial answer option updates.
type UpdateOptionRequest struct {
	Label       *string        `json:"label,omitempty"       validate:"omitempty,min=1"`
	ValueKey    *string        `json:"value_key,omitempty"   validate:"omitempty,min=1"`
	Description *string        `json:"description,omitempty"`
	NextNodeID  nullableString `json:"next_node_id"`
	ActionKey   *string        `json:"action_key,omitempty"  validate:"omitempty,oneof=FORWARD_TO_GP FILE_WITHOUT_FORWARDING OTHER"`
}

// ImportTemplateRequest represents the request body for importing an
// exported template document.
type ImportTemplateRequest struct {
	SurgeryID string          `json:"surgery_id,omitempty"`
	Document  json.RawMessage `json:"document" validate:"required"`
}

// StartInstanceRequest represents the request body for starting a walk.
type StartInstanceRequest struct {
	TemplateID string `json:"template_id"         validate:"required"`
	SurgeryID  string `json:"surgery_id"          validate:"required"`
	Reference  string `json:"reference,omitempty"`
}

// AdvanceInstanceRequest represents the request body for answering the
// current question node.
type AdvanceInstanceRequest struct {
	OptionID string `json:"option_id" validate:"required"`
}

// EffectiveWorkflowsResponse wraps the resolved landing list for a surgery.
type EffectiveWorkflowsResponse struct {
	SurgeryID string                        `json:"surgery_id"`
	Workflows []*models.WorkflowLandingItem `json:"workflows"`
}

// nullableString distinguishes "field absent" from "field set to null" in
// partial updates, which is the difference between keeping and clearing a
// next-node link.
type nullableString struct {
	Set   bool
	Value *string
}

func (n *nullableString) UnmarshalJSON(data []byte) error {
	n.Set = true

	if string(data) == "null" {
		n.Value = nil

		return nil
	}

	return json.Unmarshal(data, &n.Value)
}
