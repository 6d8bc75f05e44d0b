// Package events defines the engine's event types: inbound domain
// events that enroll contacts, and enrollment lifecycle notifications
// published for dashboards.
package events

import (
	"errors"
	"time"

	"github.com/woolane/journey/pkg/models"
)

type EventType string

// Kafka topics.
const Topic = "journey.events"               // Enrollment lifecycle events
const DomainEventsTopic = "journey.triggers" // Inbound domain events from the surrounding application

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Enrollment lifecycle events.
	EnrollmentCreatedEvent   EventType = "enrollment.created"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	EnrollmentExitedEvent    EventType = "enrollment.exited"
	EnrollmentFailedEvent    EventType = "enrollment.failed"
)

var (
	ErrMissingEventType = errors.New("domain event has no type")
	ErrMissingIdentity  = errors.New("domain event has no identity")
	ErrMissingEventID   = errors.New("domain event has no event id")
)

// DomainEvent is an external fact observed by the surrounding
// application (order placed, tag added, signup). EventID is the
// upstream idempotency key; observing the same id twice never creates
// a second enrollment.
type DomainEvent struct {
	Type      models.TriggerType `json:"type"`
	AccountID string             `json:"account_id,omitempty"`
	Identity  string             `json:"identity"`
	EventID   string             `json:"event_id"`
	Payload   map[string]any     `json:"payload,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func (e *DomainEvent) Validate() error {
	if !e.Type.IsValid() {
		return ErrMissingEventType
	}

	if e.Identity == "" {
		return ErrMissingIdentity
	}

	if e.EventID == "" {
		return ErrMissingEventID
	}

	return nil
}

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	AutomationID string         `json:"automation_id"`
	TickerID     string         `json:"ticker_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type EnrollmentCreated struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	Identity     string `json:"identity"`
	EntryNodeID  string `json:"entry_node_id"`
}

func (e EnrollmentCreated) GetType() EventType {
	return EnrollmentCreatedEvent
}

type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID string   `json:"enrollment_id"`
	Identity     string   `json:"identity"`
	Goals        []string `json:"goals,omitempty"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

type EnrollmentExited struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	Identity     string `json:"identity"`
	NodeID       string `json:"node_id"`
}

func (e EnrollmentExited) GetType() EventType {
	return EnrollmentExitedEvent
}

type EnrollmentFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	Identity     string `json:"identity"`
	NodeID       string `json:"node_id"`
	Error        string `json:"error"`
	Attempts     int    `json:"attempts"`
}

func (e EnrollmentFailed) GetType() EventType {
	return EnrollmentFailedEvent
}
