// Package events defines event types for template and instance lifecycle notifications.
package events

import (
	"time"

	"github.com/signpostkit/signpost/pkg/models"
)

type EventType string

// Kafka topic.
const Topic = "signpost.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Template lifecycle events.
	TemplateApprovedEvent   EventType = "template.approved"
	TemplateDemotedEvent    EventType = "template.demoted"
	TemplateSupersededEvent EventType = "template.superseded"

	// Instance lifecycle events.
	InstanceStartedEvent   EventType = "instance.started"
	InstanceAdvancedEvent  EventType = "instance.advanced"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceCancelledEvent EventType = "instance.cancelled"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SurgeryID string    `json:"surgery_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
}

type TemplateApproved struct {
	BaseEvent

	TemplateID string `json:"template_id"`
}

func (e TemplateApproved) GetType() EventType {
	return TemplateApprovedEvent
}

// TemplateDemoted is published when a structural edit sends an APPROVED
// template back to DRAFT.
type TemplateDemoted struct {
	BaseEvent

	TemplateID string `json:"template_id"`
	EditedBy   string `json:"edited_by"`
}

func (e TemplateDemoted) GetType() EventType {
	return TemplateDemotedEvent
}

type TemplateSuperseded struct {
	BaseEvent

	TemplateID string `json:"template_id"`
}

func (e TemplateSuperseded) GetType() EventType {
	return TemplateSupersededEvent
}

type InstanceStarted struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	TemplateID string `json:"template_id"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceAdvanced struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	NodeID     string `json:"node_id"`
	OptionID   string `json:"option_id,omitempty"`
}

func (e InstanceAdvanced) GetType() EventType {
	return InstanceAdvancedEvent
}

type InstanceCompleted struct {
	BaseEvent

	InstanceID string           `json:"instance_id"`
	ActionKey  models.ActionKey `json:"action_key,omitempty"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceCancelled struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}
