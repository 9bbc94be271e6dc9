package services

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/persistence"
	"github.com/signpostkit/signpost/pkg/persistence/file"
)

func newTestImporter(t *testing.T) (*Importer, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	importer, err := NewImporter(p, nil, slog.Default())
	require.NoError(t, err)

	return importer, p
}

const validDocument = `{
  "name": "Clinic Letters",
  "description": "Route incoming clinic letters",
  "workflow_type": "PRIMARY",
  "nodes": [
    {
      "id": "classify",
      "node_type": "QUESTION",
      "title": "Does the letter change the patient's care?",
      "is_start": true,
      "options": [
        {"label": "Yes", "value_key": "action_needed", "next_node_id": "forward"},
        {"label": "No", "value_key": "information_only", "action_key": "FILE_WITHOUT_FORWARDING"}
      ]
    },
    {
      "id": "forward",
      "node_type": "END",
      "title": "Forward to GP",
      "action_key": "FORWARD_TO_GP"
    }
  ]
}`

func TestImporter_ImportValidDocument(t *testing.T) {
	importer, p := newTestImporter(t)

	template, err := importer.Import(t.Context(), models.SurgeryScope("surgery-1"), []byte(validDocument), "admin-1")
	require.NoError(t, err)

	assert.Equal(t, "Clinic Letters", template.Name)
	assert.Equal(t, models.ApprovalStatusDraft, template.ApprovalStatus)
	assert.Equal(t, "surgery-1", template.Scope.SurgeryID)
	require.Len(t, template.Nodes, 2)

	// Document-local ids were replaced; links still resolve.
	starts := template.StartNodes()
	require.Len(t, starts, 1)
	assert.NotEqual(t, "classify", starts[0].ID)
	require.Len(t, starts[0].Options, 2)
	require.NotNil(t, starts[0].Options[0].NextNodeID)
	assert.NotNil(t, template.NodeByID(*starts[0].Options[0].NextNodeID))

	stored, err := p.TemplateRepository().GetByID(t.Context(), template.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Nodes, 2)
}

func TestImporter_RejectsSchemaViolations(t *testing.T) {
	importer, _ := newTestImporter(t)

	tests := []struct {
		name     string
		document string
	}{
		{"not json", `{{`},
		{"missing name", `{"workflow_type": "PRIMARY", "nodes": [{"id": "a", "node_type": "END", "title": "T"}]}`},
		{"bad workflow type", `{"name": "Test Doc", "workflow_type": "BANANA", "nodes": [{"id": "a", "node_type": "END", "title": "T"}]}`},
		{"empty nodes", `{"name": "Test Doc", "workflow_type": "PRIMARY", "nodes": []}`},
		{"untitled node", `{"name": "Test Doc", "workflow_type": "PRIMARY", "nodes": [{"id": "a", "node_type": "END"}]}`},
		{"bad action key", `{"name": "Test Doc", "workflow_type": "PRIMARY", "nodes": [{"id": "a", "node_type": "END", "title": "T", "action_key": "SHRED"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := importer.Import(t.Context(), models.GlobalScope(), []byte(tt.document), "admin-1")
			require.ErrorIs(t, err, ErrInvalidDocument)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestImporter_RejectsUnresolvableLinks(t *testing.T) {
	importer, _ := newTestImporter(t)

	document := `{
	  "name": "Dangling",
	  "workflow_type": "PRIMARY",
	  "nodes": [
	    {"id": "a", "node_type": "INSTRUCTION", "title": "T", "is_start": true, "default_next_node_id": "missing"}
	  ]
	}`

	_, err := importer.Import(t.Context(), models.GlobalScope(), []byte(document), "admin-1")
	require.ErrorIs(t, err, ErrCrossTemplateRef)
}

func TestImporter_RejectsDuplicateNodeIDs(t *testing.T) {
	importer, _ := newTestImporter(t)

	document := `{
	  "name": "Duplicates",
	  "workflow_type": "PRIMARY",
	  "nodes": [
	    {"id": "a", "node_type": "END", "title": "One", "action_key": "OTHER", "is_start": true},
	    {"id": "a", "node_type": "END", "title": "Two", "action_key": "OTHER"}
	  ]
	}`

	_, err := importer.Import(t.Context(), models.GlobalScope(), []byte(document), "admin-1")
	require.ErrorIs(t, err, ErrInvalidDocument)
}
