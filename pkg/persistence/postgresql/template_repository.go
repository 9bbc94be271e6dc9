package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/persistence"
)

// TemplateRepository handles template aggregate database operations.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

const templateColumns = `
	id
  , surgery_id
  , name
  , description
  , icon
  , colour
  , workflow_type
  , is_active
  , approval_status
  , approved_by
  , approved_at
  , last_edited_by
  , last_edited_at
  , source_template_id
  , created_at
  , updated_at
  , deleted_at
`

// ByScope returns all non-deleted templates in the given scope, with graphs.
func (r *TemplateRepository) ByScope(ctx context.Context, scope models.TemplateScope) ([]*models.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + `
		FROM workflow_templates
		WHERE deleted_at IS NULL AND surgery_id IS NOT DISTINCT FROM $1
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, surgeryIDParam(scope))
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	templates := make([]*models.WorkflowTemplate, 0)

	for rows.Next() {
		template, err := r.scanTemplateBase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	for _, template := range templates {
		if err := r.loadGraph(ctx, template); err != nil {
			return nil, fmt.Errorf("failed to load template graph: %w", err)
		}
	}

	return templates, nil
}

// GetByID returns the template with its full graph, or ErrTemplateNotFound.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + `
		FROM workflow_templates
		WHERE id = $1 AND deleted_at IS NULL`

	row := r.db.QueryRowContext(ctx, query, id)

	template, err := r.scanTemplateBase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTemplateError("GetByID", id, persistence.ErrTemplateNotFound)
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	if err := r.loadGraph(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to load template graph: %w", err)
	}

	return template, nil
}

// Save upserts the template base row and replaces its nodes and answer
// options in a single transaction.
func (r *TemplateRepository) Save(ctx context.Context, template *models.WorkflowTemplate) error {
	now := time.Now().UTC()

	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	templateQuery := `
		INSERT INTO workflow_templates (id, surgery_id, name, description, icon, colour,
			workflow_type, is_active, approval_status, approved_by, approved_at,
			last_edited_by, last_edited_at, source_template_id, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			surgery_id = EXCLUDED.surgery_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			icon = EXCLUDED.icon,
			colour = EXCLUDED.colour,
			workflow_type = EXCLUDED.workflow_type,
			is_active = EXCLUDED.is_active,
			approval_status = EXCLUDED.approval_status,
			approved_by = EXCLUDED.approved_by,
			approved_at = EXCLUDED.approved_at,
			last_edited_by = EXCLUDED.last_edited_by,
			last_edited_at = EXCLUDED.last_edited_at,
			source_template_id = EXCLUDED.source_template_id,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, templateQuery,
		template.ID,
		surgeryIDParam(template.Scope),
		template.Name,
		template.Description,
		nullIfEmpty(template.Icon),
		nullIfEmpty(template.Colour),
		template.WorkflowType,
		template.IsActive,
		template.ApprovalStatus,
		template.ApprovedBy,
		template.ApprovedAt,
		nullIfEmpty(template.LastEditedBy),
		template.LastEditedAt,
		template.SourceTemplateID,
		template.CreatedAt,
		template.UpdatedAt,
		template.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save template base: %w", err)
	}

	// Replace the graph wholesale: options first because of the FK.
	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_answer_options WHERE template_id = $1", template.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing answer options: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE template_id = $1", template.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing nodes: %w", err)
	}

	if err = r.saveNodes(ctx, tx, template); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete soft deletes a template by setting the deleted_at timestamp.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE workflow_templates SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewTemplateError("Delete", id, persistence.ErrTemplateNotFound)
	}

	return nil
}

func (r *TemplateRepository) saveNodes(ctx context.Context, tx *sql.Tx, template *models.WorkflowTemplate) error {
	nodeQuery := `
		INSERT INTO workflow_nodes (template_id, id, node_type, title, body, sort_order,
			is_start, action_key, default_next_node_id, position_x, position_y)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	optionQuery := `
		INSERT INTO workflow_answer_options (template_id, node_id, id, label, value_key,
			description, next_node_id, action_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, node := range template.Nodes {
		_, err := tx.ExecContext(ctx, nodeQuery,
			template.ID,
			node.ID,
			node.NodeType,
			node.Title,
			node.Body,
			node.SortOrder,
			node.IsStart,
			string(node.ActionKey),
			node.DefaultNextNodeID,
			node.PositionX,
			node.PositionY,
		)
		if err != nil {
			return fmt.Errorf("failed to save node: %w", err)
		}
	}

	for _, node := range template.Nodes {
		for _, option := range node.Options {
			_, err := tx.ExecContext(ctx, optionQuery,
				template.ID,
				node.ID,
				option.ID,
				option.Label,
				option.ValueKey,
				option.Description,
				option.NextNodeID,
				string(option.ActionKey),
			)
			if err != nil {
				return fmt.Errorf("failed to save answer option: %w", err)
			}
		}
	}

	return nil
}

func (r *TemplateRepository) loadGraph(ctx context.Context, template *models.WorkflowTemplate) error {
	nodesQuery := `
		SELECT id, node_type, title, body, sort_order, is_start, action_key,
			default_next_node_id, position_x, position_y
		FROM workflow_nodes
		WHERE template_id = $1
		ORDER BY sort_order, created_at
	`

	rows, err := r.db.QueryContext(ctx, nodesQuery, template.ID)
	if err != nil {
		return fmt.Errorf("failed to query template nodes: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	nodes := make([]*models.WorkflowNode, 0)
	nodesByID := make(map[string]*models.WorkflowNode)

	for rows.Next() {
		var (
			node      models.WorkflowNode
			actionKey string
		)

		err := rows.Scan(
			&node.ID,
			&node.NodeType,
			&node.Title,
			&node.Body,
			&node.SortOrder,
			&node.IsStart,
			&actionKey,
			&node.DefaultNextNodeID,
			&node.PositionX,
			&node.PositionY,
		)
		if err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}

		node.ActionKey = models.ActionKey(actionKey)
		nodes = append(nodes, &node)
		nodesByID[node.ID] = &node
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating nodes: %w", err)
	}

	template.Nodes = nodes

	optionsQuery := `
		SELECT node_id, id, label, value_key, description, next_node_id, action_key
		FROM workflow_answer_options
		WHERE template_id = $1
		ORDER BY created_at
	`

	optionRows, err := r.db.QueryContext(ctx, optionsQuery, template.ID)
	if err != nil {
		return fmt.Errorf("failed to query answer options: %w", err)
	}

	defer func() {
		err := optionRows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	for optionRows.Next() {
		var (
			nodeID    string
			option    models.WorkflowAnswerOption
			actionKey string
		)

		err := optionRows.Scan(
			&nodeID,
			&option.ID,
			&option.Label,
			&option.ValueKey,
			&option.Description,
			&option.NextNodeID,
			&actionKey,
		)
		if err != nil {
			return fmt.Errorf("failed to scan answer option: %w", err)
		}

		option.ActionKey = models.ActionKey(actionKey)

		node, ok := nodesByID[nodeID]
		if !ok {
			return fmt.Errorf("answer option %s references unknown node %s", option.ID, nodeID)
		}

		node.Options = append(node.Options, &option)
	}

	if err := optionRows.Err(); err != nil {
		return fmt.Errorf("error iterating answer options: %w", err)
	}

	return nil
}

func (r *TemplateRepository) scanTemplateBase(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowTemplate, error) {
	var (
		template                           models.WorkflowTemplate
		surgeryID, icon, colour, lastEdited sql.NullString
	)

	err := scanner.Scan(
		&template.ID,
		&surgeryID,
		&template.Name,
		&template.Description,
		&icon,
		&colour,
		&template.WorkflowType,
		&template.IsActive,
		&template.ApprovalStatus,
		&template.ApprovedBy,
		&template.ApprovedAt,
		&lastEdited,
		&template.LastEditedAt,
		&template.SourceTemplateID,
		&template.CreatedAt,
		&template.UpdatedAt,
		&template.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	template.Scope = models.SurgeryScope(surgeryID.String)
	template.Icon = icon.String
	template.Colour = colour.String
	template.LastEditedBy = lastEdited.String

	return &template, nil
}

// surgeryIDParam maps the scope to the nullable surgery_id column.
func surgeryIDParam(scope models.TemplateScope) any {
	if scope.IsGlobal() {
		return nil
	}

	return scope.SurgeryID
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}

	return s
}
