// Package models defines the core domain models for the marketing
// automation flow engine.
package models

import "time"

// TriggerType identifies the domain event that enrolls contacts into
// an automation.
type TriggerType string

const (
	TriggerOrderCreated          TriggerType = "order_created"
	TriggerOrderCompleted        TriggerType = "order_completed"
	TriggerReviewLeft            TriggerType = "review_left"
	TriggerCartAbandoned         TriggerType = "cart_abandoned"
	TriggerTagAdded              TriggerType = "tag_added"
	TriggerTagRemoved            TriggerType = "tag_removed"
	TriggerCustomerSignup        TriggerType = "customer_signup"
	TriggerSubscriptionCreated   TriggerType = "subscription_created"
	TriggerSubscriptionCancelled TriggerType = "subscription_cancelled"
	TriggerManual                TriggerType = "manual"
)

// IsValid reports whether t is a known trigger type.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerOrderCreated, TriggerOrderCompleted, TriggerReviewLeft,
		TriggerCartAbandoned, TriggerTagAdded, TriggerTagRemoved,
		TriggerCustomerSignup, TriggerSubscriptionCreated,
		TriggerSubscriptionCancelled, TriggerManual:
		return true
	default:
		return false
	}
}

// ReentryPolicy controls whether a contact may be enrolled again after
// a previous journey through the same automation reached a terminal
// state. A second concurrent journey is never allowed.
type ReentryPolicy string

const (
	ReentryOnce    ReentryPolicy = "once"    // one journey per contact, ever
	ReentryAllowed ReentryPolicy = "allowed" // re-enroll after a terminal state
)

// Automation owns one flow graph, a trigger type and an active flag.
// Automations are never hard-deleted while enrollments reference them;
// operators disable them via Active instead.
type Automation struct {
	ID          string        `json:"id"`
	AccountID   string        `json:"account_id"`
	Name        string        `json:"name"         validate:"required,min=3"`
	TriggerType TriggerType   `json:"trigger_type" validate:"required"`
	Reentry     ReentryPolicy `json:"reentry,omitempty"`
	Active      bool          `json:"active"`
	Nodes       []*Node       `json:"nodes"`
	Edges       []*Edge       `json:"edges"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NodeByID finds a node in the automation's graph by id.
func (a *Automation) NodeByID(nodeID string) *Node {
	for _, n := range a.Nodes {
		if n.ID == nodeID {
			return n
		}
	}

	return nil
}
