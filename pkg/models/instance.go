package models

import "time"

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusActive    InstanceStatus = "ACTIVE"
	InstanceStatusCompleted InstanceStatus = "COMPLETED"
	InstanceStatusCancelled InstanceStatus = "CANCELLED"
)

// GraphSnapshot is a by-value copy of a template's node/option graph, taken
// when an instance starts. The engine walks only the snapshot, so editing
// the template mid-execution can never leave a cursor pointing at a node
// that no longer exists.
type GraphSnapshot struct {
	TemplateID   string          `json:"template_id"`
	TemplateName string          `json:"template_name"`
	TakenAt      time.Time       `json:"taken_at"`
	Nodes        []*WorkflowNode `json:"nodes"`
}

// NodeByID returns the snapshotted node with the given id, or nil.
func (s *GraphSnapshot) NodeByID(nodeID string) *WorkflowNode {
	for _, node := range s.Nodes {
		if node.ID == nodeID {
			return node
		}
	}

	return nil
}

// HistoryEntry records one step taken through an instance, sufficient to
// reconstruct the full path for audit.
type HistoryEntry struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"node_id"`
	OptionID  string    `json:"option_id,omitempty"` // Empty for INSTRUCTION acknowledgements
	ValueKey  string    `json:"value_key,omitempty"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowInstance is a single execution of a template for one surgery.
// Version supports compare-and-swap updates: concurrent transitions from
// the same cursor position must not both succeed.
type WorkflowInstance struct {
	ID              string          `json:"id"`
	TemplateID      string          `json:"template_id" validate:"required"`
	SurgeryID       string          `json:"surgery_id"  validate:"required"`
	StartedBy       string          `json:"started_by"  validate:"required"`
	Status          InstanceStatus  `json:"status"`
	Reference       string          `json:"reference,omitempty"` // Free-text case reference
	CurrentNodeID   string          `json:"current_node_id"`
	ResultActionKey ActionKey       `json:"result_action_key,omitempty"`
	Version         int64           `json:"version"`
	Snapshot        *GraphSnapshot  `json:"snapshot"`
	History         []*HistoryEntry `json:"history"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// CurrentNode returns the snapshotted node the cursor points at, or nil.
func (i *WorkflowInstance) CurrentNode() *WorkflowNode {
	if i.Snapshot == nil {
		return nil
	}

	return i.Snapshot.NodeByID(i.CurrentNodeID)
}
