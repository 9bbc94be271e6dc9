package models

// WorkflowAnswerOption is one selectable answer on a QUESTION node. An
// option may carry a next-node transition, a terminal action, or both for
// audit purposes; NextNodeID takes precedence during execution.
type WorkflowAnswerOption struct {
	ID          string    `json:"id"        validate:"required"`
	Label       string    `json:"label"     validate:"required"`
	ValueKey    string    `json:"value_key" validate:"required"` // Machine-stable identifier recorded in the answer history
	Description string    `json:"description,omitempty"`
	NextNodeID  *string   `json:"next_node_id,omitempty"` // Must reference a node in the same template
	ActionKey   ActionKey `json:"action_key,omitempty"`
}
