package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/woolane/journey/pkg/models"
	"github.com/woolane/journey/pkg/persistence"
)

// AutomationRepository stores automations as JSON files under
// <root>/automations.
type AutomationRepository struct {
	root string
	mu   *sync.Mutex
}

func (r *AutomationRepository) dir() string {
	return filepath.Join(r.root, "automations")
}

// Save writes an automation, assigning an id and timestamps when
// missing.
func (r *AutomationRepository) Save(_ context.Context, automation *models.Automation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create automations directory: %w", err)
	}

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

	data, err := json.MarshalIndent(automation, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal automation %s: %w", automation.ID, err)
	}

	path := filepath.Join(r.dir(), automation.ID+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write automation %s: %w", automation.ID, err)
	}

	return nil
}

// GetByID reads one automation. It returns ErrAutomationNotFound for
// unknown ids.
func (r *AutomationRepository) GetByID(_ context.Context, id string) (*models.Automation, error) {
	return r.read(id)
}

func (r *AutomationRepository) read(id string) (*models.Automation, error) {
	path := filepath.Clean(filepath.Join(r.dir(), id+".json"))

	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrAutomationNotFound
		}

		return nil, fmt.Errorf("failed to read automation %s: %w", id, err)
	}

	var automation models.Automation
	if err := json.Unmarshal(body, &automation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal automation %s: %w", id, err)
	}

	return &automation, nil
}

// All returns every stored automation, newest first.
func (r *AutomationRepository) All(_ context.Context) ([]*models.Automation, error) {
	root := os.DirFS(r.dir())

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}

	automations := make([]*models.Automation, 0, len(files))

	for _, file := range files {
		automation, err := r.read(file[:len(file)-len(".json")])
		if err != nil {
			return nil, err
		}

		automations = append(automations, automation)
	}

	sort.Slice(automations, func(i, j int) bool {
		return automations[i].CreatedAt.After(automations[j].CreatedAt)
	})

	return automations, nil
}

// ActiveByTrigger returns active automations with a matching trigger
// type.
func (r *AutomationRepository) ActiveByTrigger(ctx context.Context, trigger models.TriggerType) ([]*models.Automation, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Automation, 0)

	for _, automation := range all {
		if automation.Active && automation.TriggerType == trigger {
			matched = append(matched, automation)
		}
	}

	return matched, nil
}

// SetActive flips the active flag of a stored automation.
func (r *AutomationRepository) SetActive(ctx context.Context, id string, active bool) error {
	automation, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	automation.Active = active

	return r.Save(ctx, automation)
}
