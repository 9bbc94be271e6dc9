package models

// NodeType represents the kind of a workflow node.
type NodeType string

const (
	NodeTypeInstruction NodeType = "INSTRUCTION" // Displayed text, acknowledged by the user
	NodeTypeQuestion    NodeType = "QUESTION"    // Requires an answer option selection
	NodeTypeEnd         NodeType = "END"         // Terminal node
)

// ValidNodeType reports whether t is one of the enumerated node kinds.
func ValidNodeType(t NodeType) bool {
	switch t {
	case NodeTypeInstruction, NodeTypeQuestion, NodeTypeEnd:
		return true
	default:
		return false
	}
}

// ActionKey is the enumerated terminal action recorded when a walk ends.
// The empty key means no action.
type ActionKey string

const (
	ActionKeyNone                  ActionKey = ""
	ActionKeyForwardToGP           ActionKey = "FORWARD_TO_GP"
	ActionKeyFileWithoutForwarding ActionKey = "FILE_WITHOUT_FORWARDING"
	ActionKeyOther                 ActionKey = "OTHER"
)

// IsTerminal reports whether the key ends an instance walk.
func (k ActionKey) IsTerminal() bool {
	return k != ActionKeyNone
}

// ValidActionKey reports whether k is one of the enumerated keys (or none).
func ValidActionKey(k ActionKey) bool {
	switch k {
	case ActionKeyNone, ActionKeyForwardToGP, ActionKeyFileWithoutForwarding, ActionKeyOther:
		return true
	default:
		return false
	}
}

// WorkflowNode is one node of a template graph. QUESTION nodes own answer
// options; INSTRUCTION nodes continue via DefaultNextNodeID. Position and
// sort order are presentation-only and never affect execution.
type WorkflowNode struct {
	ID                string                  `json:"id"        validate:"required"`
	NodeType          NodeType                `json:"node_type" validate:"required,oneof=INSTRUCTION QUESTION END"`
	Title             string                  `json:"title"     validate:"required"`
	Body              string                  `json:"body,omitempty"`
	SortOrder         int                     `json:"sort_order"`
	IsStart           bool                    `json:"is_start"`
	ActionKey         ActionKey               `json:"action_key,omitempty"`
	DefaultNextNodeID *string                 `json:"default_next_node_id,omitempty"`
	PositionX         int                     `json:"position_x"`
	PositionY         int                     `json:"position_y"`
	Options           []*WorkflowAnswerOption `json:"options,omitempty"`
}

func (n *WorkflowNode) IsQuestion() bool {
	return n.NodeType == NodeTypeQuestion
}

func (n *WorkflowNode) IsEnd() bool {
	return n.NodeType == NodeTypeEnd
}

// OptionByID returns the answer option with the given id, or nil.
func (n *WorkflowNode) OptionByID(optionID string) *WorkflowAnswerOption {
	for _, option := range n.Options {
		if option.ID == optionID {
			return option
		}
	}

	return nil
}
