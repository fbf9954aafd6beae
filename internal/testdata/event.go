// Package testdata builds the events, sources and destinations exercised by scenarios and
// loads the scenario catalog.
package testdata

import (
	"maps"
	"time"
)

const (
	defaultEventName = "test_event"
	defaultUserID    = "test_user"
)

// Event is a single tracking call sent to a source.
type Event struct {
	Name        string
	UserID      string
	AnonymousID string
	Properties  map[string]any
	Context     map[string]any
	Timestamp   time.Time
}

// EventBuilder assembles an Event step by step.
type EventBuilder struct {
	event Event
}

// NewEventBuilder starts from a named default event stamped with the current time.
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{event: Event{
		Name:       defaultEventName,
		UserID:     defaultUserID,
		Properties: map[string]any{},
		Context:    map[string]any{},
		Timestamp:  time.Now().UTC(),
	}}
}

func (builder *EventBuilder) Name(eventName string) *EventBuilder {
	builder.event.Name = eventName
	return builder
}

func (builder *EventBuilder) UserID(userID string) *EventBuilder {
	builder.event.UserID = userID
	builder.event.AnonymousID = ""
	return builder
}

// AnonymousID identifies the event without a user id.
func (builder *EventBuilder) AnonymousID(anonymousID string) *EventBuilder {
	builder.event.AnonymousID = anonymousID
	builder.event.UserID = ""
	return builder
}

func (builder *EventBuilder) Property(key string, value any) *EventBuilder {
	builder.event.Properties[key] = value
	return builder
}

func (builder *EventBuilder) Properties(properties map[string]any) *EventBuilder {
	maps.Copy(builder.event.Properties, properties)
	return builder
}

func (builder *EventBuilder) Context(key string, value any) *EventBuilder {
	builder.event.Context[key] = value
	return builder
}

func (builder *EventBuilder) Timestamp(timestamp time.Time) *EventBuilder {
	builder.event.Timestamp = timestamp.UTC()
	return builder
}

// Build returns a copy; later builder calls do not affect it.
func (builder *EventBuilder) Build() Event {
	built := builder.event
	built.Properties = maps.Clone(builder.event.Properties)
	built.Context = maps.Clone(builder.event.Context)
	return built
}
