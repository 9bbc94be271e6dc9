package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/signpostkit/signpost/pkg/cache"
	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/persistence"
)

// templateDocumentSchema validates an exported template document before any
// of it is trusted. Node references use document-local ids that the import
// remaps to fresh ids.
const templateDocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "workflow_type", "nodes"],
  "properties": {
    "name": {"type": "string", "minLength": 3},
    "description": {"type": "string"},
    "icon": {"type": "string"},
    "colour": {"type": "string"},
    "workflow_type": {"enum": ["PRIMARY", "SUPPORTING", "MODULE"]},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "node_type", "title"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "node_type": {"enum": ["INSTRUCTION", "QUESTION", "END"]},
          "title": {"type": "string", "minLength": 1},
          "body": {"type": "string"},
          "sort_order": {"type": "integer"},
          "is_start": {"type": "boolean"},
          "action_key": {"enum": ["", "FORWARD_TO_GP", "FILE_WITHOUT_FORWARDING", "OTHER"]},
          "default_next_node_id": {"type": "string"},
          "position_x": {"type": "integer"},
          "position_y": {"type": "integer"},
          "options": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["label", "value_key"],
              "properties": {
                "label": {"type": "string", "minLength": 1},
                "value_key": {"type": "string", "minLength": 1},
                "description": {"type": "string"},
                "next_node_id": {"type": "string"},
                "action_key": {"enum": ["", "FORWARD_TO_GP", "FILE_WITHOUT_FORWARDING", "OTHER"]}
              }
            }
          }
        }
      }
    }
  }
}`

type templateDocument struct {
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Icon         string              `json:"icon"`
	Colour       string              `json:"colour"`
	WorkflowType models.WorkflowType `json:"workflow_type"`
	Nodes        []nodeDocument      `json:"nodes"`
}

type nodeDocument struct {
	ID                string                 `json:"id"`
	NodeType          models.NodeType        `json:"node_type"`
	Title             string                 `json:"title"`
	Body              string                 `json:"body"`
	SortOrder         int                    `json:"sort_order"`
	IsStart           bool                   `json:"is_start"`
	ActionKey         models.ActionKey       `json:"action_key"`
	DefaultNextNodeID string                 `json:"default_next_node_id"`
	PositionX         int                    `json:"position_x"`
	PositionY         int                    `json:"position_y"`
	Options           []answerOptionDocument `json:"options"`
}

type answerOptionDocument struct {
	Label       string           `json:"label"`
	ValueKey    string           `json:"value_key"`
	Description string           `json:"description"`
	NextNodeID  string           `json:"next_node_id"`
	ActionKey   models.ActionKey `json:"action_key"`
}

// Importer turns exported template documents into DRAFT templates. Nothing
// imported goes live without going through the approval gate.
type Importer struct {
	persistence persistence.Persistence
	cache       cache.EffectiveCache
	schema      *gojsonschema.Schema
	logger      *slog.Logger
}

// NewImporter creates a template importer. The schema is compiled once.
func NewImporter(p persistence.Persistence, c cache.EffectiveCache, logger *slog.Logger) (*Importer, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(templateDocumentSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile template document schema: %w", err)
	}

	if c == nil {
		c = cache.NewNoop()
	}

	return &Importer{
		persistence: p,
		cache:       c,
		schema:      schema,
		logger:      logger,
	}, nil
}

// Import validates a template document and creates a DRAFT template in the
// given scope. Document-local node ids are replaced with fresh ids; every
// link in the document must resolve within the document.
func (s *Importer) Import(ctx context.Context, scope models.TemplateScope, document []byte, actor string) (*models.WorkflowTemplate, error) {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return nil, NewServiceError("Import", err.Error(), ErrInvalidDocument)
	}

	if !result.Valid() {
		return nil, NewServiceError("Import", schemaFailures(result), ErrInvalidDocument)
	}

	var doc templateDocument
	if err := json.Unmarshal(document, &doc); err != nil {
		return nil, NewServiceError("Import", err.Error(), ErrInvalidDocument)
	}

	idMap := make(map[string]string, len(doc.Nodes))

	for _, node := range doc.Nodes {
		if _, exists := idMap[node.ID]; exists {
			return nil, NewServiceError("Import", "duplicate node id "+node.ID, ErrInvalidDocument)
		}

		idMap[node.ID] = uuid.New().String()
	}

	resolve := func(localID string) (*string, error) {
		if localID == "" {
			return nil, nil
		}

		mapped, ok := idMap[localID]
		if !ok {
			return nil, NewServiceError("Import", localID, ErrCrossTemplateRef)
		}

		return &mapped, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate template ID: %w", err)
	}

	now := time.Now().UTC()
	template := &models.WorkflowTemplate{
		ID:             id.String(),
		Scope:          scope,
		Name:           doc.Name,
		Description:    doc.Description,
		Icon:           doc.Icon,
		Colour:         doc.Colour,
		WorkflowType:   doc.WorkflowType,
		IsActive:       true,
		ApprovalStatus: models.ApprovalStatusDraft,
		LastEditedBy:   actor,
		LastEditedAt:   &now,
		Nodes:          make([]*models.WorkflowNode, 0, len(doc.Nodes)),
	}

	for _, nodeDoc := range doc.Nodes {
		defaultNext, err := resolve(nodeDoc.DefaultNextNodeID)
		if err != nil {
			return nil, err
		}

		node := &models.WorkflowNode{
			ID:                idMap[nodeDoc.ID],
			NodeType:          nodeDoc.NodeType,
			Title:             nodeDoc.Title,
			Body:              nodeDoc.Body,
			SortOrder:         nodeDoc.SortOrder,
			IsStart:           nodeDoc.IsStart,
			ActionKey:         nodeDoc.ActionKey,
			DefaultNextNodeID: defaultNext,
			PositionX:         nodeDoc.PositionX,
			PositionY:         nodeDoc.PositionY,
		}

		for _, optionDoc := range nodeDoc.Options {
			next, err := resolve(optionDoc.NextNodeID)
			if err != nil {
				return nil, err
			}

			node.Options = append(node.Options, &models.WorkflowAnswerOption{
				ID:          uuid.New().String(),
				Label:       optionDoc.Label,
				ValueKey:    optionDoc.ValueKey,
				Description: optionDoc.Description,
				NextNodeID:  next,
				ActionKey:   optionDoc.ActionKey,
			})
		}

		template.Nodes = append(template.Nodes, node)
	}

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to save imported template: %w", err)
	}

	if err := s.cache.InvalidateSurgery(ctx, scope.SurgeryID); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate effective cache", "surgery_id", scope.SurgeryID, "error", err)
	}

	return template, nil
}

func schemaFailures(result *gojsonschema.Result) string {
	messages := make([]string, 0, len(result.Errors()))

	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return strings.Join(messages, "; ")
}
