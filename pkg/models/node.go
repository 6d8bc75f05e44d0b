package models

import "time"

// NodeType is the closed set of node variants in a flow graph. Action
// behavior is further discriminated by ActionKind so that execution
// can switch exhaustively over a small set of cases.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeAction    NodeType = "action"
	NodeTypeDelay     NodeType = "delay"
	NodeTypeCondition NodeType = "condition"
)

// ActionKind discriminates the behavior of action nodes.
type ActionKind string

const (
	ActionSendEmail ActionKind = "send_email"
	ActionSendSMS   ActionKind = "send_sms"
	ActionAddTag    ActionKind = "add_tag"
	ActionRemoveTag ActionKind = "remove_tag"
	ActionWebhook   ActionKind = "webhook"
	ActionGoal      ActionKind = "goal"
	ActionJump      ActionKind = "jump"
	ActionExit      ActionKind = "exit"
)

// IsValid reports whether k is a known action kind.
func (k ActionKind) IsValid() bool {
	switch k {
	case ActionSendEmail, ActionSendSMS, ActionAddTag, ActionRemoveTag,
		ActionWebhook, ActionGoal, ActionJump, ActionExit:
		return true
	default:
		return false
	}
}

// Edge labels used to disambiguate the two branches of a condition
// node. All other edges are unlabeled.
const (
	EdgeLabelTrue  = "true"
	EdgeLabelFalse = "false"
)

// Node is one vertex of a flow graph. Exactly one of the config
// pointers is set, matching Type (Action for action nodes, Delay for
// delay nodes, Condition for condition nodes). Trigger nodes carry no
// config; they only mark the entry point.
type Node struct {
	ID        string           `json:"id"   validate:"required"`
	Type      NodeType         `json:"type" validate:"required"`
	Kind      ActionKind       `json:"kind,omitempty"`
	Action    *ActionConfig    `json:"action,omitempty"`
	Delay     *DelayConfig     `json:"delay,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
}

// ActionConfig carries the parameters of an action node. Which fields
// are required depends on the node's Kind; the executor rejects
// misconfigured nodes at execution time.
type ActionConfig struct {
	Template  string         `json:"template,omitempty"`  // send_email / send_sms
	Tag       string         `json:"tag,omitempty"`       // add_tag / remove_tag
	URL       string         `json:"url,omitempty"`       // webhook
	GoalName  string         `json:"goal_name,omitempty"` // goal
	JumpTo    string         `json:"jump_to,omitempty"`   // jump
	Variables map[string]any `json:"variables,omitempty"`
}

// DelayUnit is the unit of a relative delay.
type DelayUnit string

const (
	DelayMinutes DelayUnit = "minutes"
	DelayHours   DelayUnit = "hours"
	DelayDays    DelayUnit = "days"
	DelayWeeks   DelayUnit = "weeks"
)

// Duration converts n units to a time.Duration. Unknown units yield
// zero.
func (u DelayUnit) Duration(n int) time.Duration {
	switch u {
	case DelayMinutes:
		return time.Duration(n) * time.Minute
	case DelayHours:
		return time.Duration(n) * time.Hour
	case DelayDays:
		return time.Duration(n) * 24 * time.Hour
	case DelayWeeks:
		return time.Duration(n) * 7 * 24 * time.Hour
	default:
		return 0
	}
}

// DelayConfig describes how long a delay node holds an enrollment.
// Duration/Unit give a relative wait. UntilTime ("15:04", wall clock)
// and UntilDays (weekday names) additionally snap the wake time to the
// next matching calendar slot.
type DelayConfig struct {
	Duration  int       `json:"duration"`
	Unit      DelayUnit `json:"unit"`
	UntilTime string    `json:"until_time,omitempty"`
	UntilDays []string  `json:"until_days,omitempty"`
}

// ConditionConfig describes a field/operator/value test evaluated
// against the subject's live attributes.
type ConditionConfig struct {
	Field    string `json:"field"    validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    any    `json:"value"`
}

// Edge connects two nodes. Label is empty except on the two outbound
// edges of a condition node.
type Edge struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Label  string `json:"label,omitempty"`
}
