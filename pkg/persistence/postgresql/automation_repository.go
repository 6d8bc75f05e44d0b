package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/woolane/journey/pkg/models"
	"github.com/woolane/journey/pkg/persistence"
)

// AutomationRepository handles automation rows. The graph is stored as
// JSONB; the engine treats it as a single document because it is only
// ever read and written whole.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger}
}

const automationColumns = `
	id, account_id, name, trigger_type, reentry, active,
	nodes, edges, created_at, updated_at
`

// Save upserts an automation, assigning an id when missing.
func (r *AutomationRepository) Save(ctx context.Context, automation *models.Automation) error {
	now := time.Now().UTC()
	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	if automation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate automation ID: %w", err)
		}

		automation.ID = id.String()
	}

	if automation.Reentry == "" {
		automation.Reentry = models.ReentryOnce
	}

	nodesJSON, err := json.Marshal(automation.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(automation.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	query := `
		INSERT INTO automations (` + automationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			name = EXCLUDED.name,
			trigger_type = EXCLUDED.trigger_type,
			reentry = EXCLUDED.reentry,
			active = EXCLUDED.active,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		automation.ID,
		automation.AccountID,
		automation.Name,
		automation.TriggerType,
		automation.Reentry,
		automation.Active,
		nodesJSON,
		edgesJSON,
		automation.CreatedAt,
		automation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save automation %s: %w", automation.ID, err)
	}

	return nil
}

// GetByID returns one automation or ErrAutomationNotFound.
func (r *AutomationRepository) GetByID(ctx context.Context, id string) (*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE id = $1`

	automation, err := scanAutomation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrAutomationNotFound
		}

		return nil, fmt.Errorf("failed to scan automation %s: %w", id, err)
	}

	return automation, nil
}

// All returns every automation, newest first.
func (r *AutomationRepository) All(ctx context.Context) ([]*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations ORDER BY created_at DESC`

	return r.query(ctx, query)
}

// ActiveByTrigger returns active automations matching the trigger
// type.
func (r *AutomationRepository) ActiveByTrigger(ctx context.Context, trigger models.TriggerType) ([]*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE active AND trigger_type = $1 ORDER BY created_at`

	return r.query(ctx, query, trigger)
}

// SetActive flips the active flag.
func (r *AutomationRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE automations SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update automation %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrAutomationNotFound
	}

	return nil
}

func (r *AutomationRepository) query(ctx context.Context, query string, args ...any) ([]*models.Automation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return automations, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*models.Automation, error) {
	var (
		automation models.Automation
		nodesJSON  []byte
		edgesJSON  []byte
	)

	err := row.Scan(
		&automation.ID,
		&automation.AccountID,
		&automation.Name,
		&automation.TriggerType,
		&automation.Reentry,
		&automation.Active,
		&nodesJSON,
		&edgesJSON,
		&automation.CreatedAt,
		&automation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(nodesJSON, &automation.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(edgesJSON, &automation.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	return &automation, nil
}
