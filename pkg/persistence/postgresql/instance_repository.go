package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/signpostkit/signpost/pkg/models"
	"github.com/signpostkit/signpost/pkg/persistence"
)

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const instanceColumns = `
	id
  , template_id
  , surgery_id
  , started_by
  , status
  , reference
  , current_node_id
  , result_action_key
  , version
  , snapshot
  , created_at
  , updated_at
  , completed_at
`

// GetByID returns the instance with its history, or ErrInstanceNotFound.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	instance, err := r.scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	if err := r.loadHistory(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to load instance history: %w", err)
	}

	return instance, nil
}

// Create persists a new instance at version 1.
func (r *InstanceRepository) Create(ctx context.Context, instance *models.WorkflowInstance) error {
	now := time.Now().UTC()

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now
	instance.Version = 1

	snapshotJSON, err := json.Marshal(instance.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO workflow_instances (id, template_id, surgery_id, started_by, status,
			reference, current_node_id, result_action_key, version, snapshot,
			created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(ctx, query,
		instance.ID,
		instance.TemplateID,
		instance.SurgeryID,
		instance.StartedBy,
		instance.Status,
		instance.Reference,
		nullIfEmpty(instance.CurrentNodeID),
		string(instance.ResultActionKey),
		instance.Version,
		snapshotJSON,
		instance.CreatedAt,
		instance.UpdatedAt,
		instance.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert instance: %w", err)
	}

	if err = r.saveHistory(ctx, tx, instance); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Update persists the instance only if the stored version still equals
// expectedVersion. The version check and the write are a single statement,
// so two concurrent transitions from the same cursor cannot both commit.
func (r *InstanceRepository) Update(ctx context.Context, instance *models.WorkflowInstance, expectedVersion int64) error {
	instance.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		UPDATE workflow_instances SET
			status = $1,
			reference = $2,
			current_node_id = $3,
			result_action_key = $4,
			version = version + 1,
			updated_at = $5,
			completed_at = $6
		WHERE id = $7 AND version = $8
	`

	result, err := tx.ExecContext(ctx, query,
		instance.Status,
		instance.Reference,
		nullIfEmpty(instance.CurrentNodeID),
		string(instance.ResultActionKey),
		instance.UpdatedAt,
		instance.CompletedAt,
		instance.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err = persistence.ErrInstanceVersionConflict

		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceVersionConflict)
	}

	if err = r.saveHistory(ctx, tx, instance); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	instance.Version = expectedVersion + 1

	return nil
}

// ActiveOlderThan returns ACTIVE instances created before the cutoff.
func (r *InstanceRepository) ActiveOlderThan(ctx context.Context, cutoff time.Time) ([]*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, models.InstanceStatusActive, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale instances: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

// saveHistory appends any history entries not yet persisted. Entries carry
// unique ids, so the insert is idempotent.
func (r *InstanceRepository) saveHistory(ctx context.Context, tx *sql.Tx, instance *models.WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instance_history (id, instance_id, node_id, option_id, value_key, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	for _, entry := range instance.History {
		_, err := tx.ExecContext(ctx, query,
			entry.ID,
			instance.ID,
			entry.NodeID,
			nullIfEmpty(entry.OptionID),
			entry.ValueKey,
			entry.Actor,
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save history entry: %w", err)
		}
	}

	return nil
}

func (r *InstanceRepository) loadHistory(ctx context.Context, instance *models.WorkflowInstance) error {
	query := `
		SELECT id, node_id, option_id, value_key, actor, created_at
		FROM workflow_instance_history
		WHERE instance_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, instance.ID)
	if err != nil {
		return fmt.Errorf("failed to query instance history: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	history := make([]*models.HistoryEntry, 0)

	for rows.Next() {
		var (
			entry    models.HistoryEntry
			optionID sql.NullString
		)

		err := rows.Scan(&entry.ID, &entry.NodeID, &optionID, &entry.ValueKey, &entry.Actor, &entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to scan history entry: %w", err)
		}

		entry.OptionID = optionID.String
		history = append(history, &entry)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating history: %w", err)
	}

	instance.History = history

	return nil
}

func (r *InstanceRepository) scanInstance(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowInstance, error) {
	var (
		instance      models.WorkflowInstance
		currentNodeID sql.NullString
		actionKey     string
		snapshotJSON  []byte
	)

	err := scanner.Scan(
		&instance.ID,
		&instance.TemplateID,
		&instance.SurgeryID,
		&instance.StartedBy,
		&instance.Status,
		&instance.Reference,
		&currentNodeID,
		&actionKey,
		&instance.Version,
		&snapshotJSON,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&instance.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.CurrentNodeID = currentNodeID.String
	instance.ResultActionKey = models.ActionKey(actionKey)

	if snapshotJSON != nil {
		err := json.Unmarshal(snapshotJSON, &instance.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
	}

	return &instance, nil
}
