// Package web provides the HTTP surface of the flow engine: read-only
// enrollment data for dashboards and the authoring endpoints that
// persist and activate automations.
package web

import (
	"encoding/json"

	"github.com/woolane/journey/pkg/models"
)

// CreateAutomationRequest carries a new automation plus its graph as
// the UI's document form. The document is schema-checked and decoded
// before the graph is validated.
type CreateAutomationRequest struct {
	Name        string               `json:"name"         validate:"required,min=3"`
	AccountID   string               `json:"account_id"`
	TriggerType models.TriggerType   `json:"trigger_type" validate:"required"`
	Reentry     models.ReentryPolicy `json:"reentry,omitempty"`
	Graph       json.RawMessage      `json:"graph"        validate:"required"`
}

// SetActiveRequest flips an automation's active flag.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// StatsResponse is the dashboard view of one automation's
// enrollments.
type StatsResponse struct {
	AutomationID string           `json:"automation_id"`
	Counts       map[string]int64 `json:"counts"`
	Total        int64            `json:"total"`
}

// ExitAllResponse reports a bulk drain.
type ExitAllResponse struct {
	AutomationID string `json:"automation_id"`
	Exited       int    `json:"exited"`
}
