// Package shared contains common domain types, errors and events
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted by the engine after a grant commits.
const (
	EventAchievementGranted EventType = "achievement.granted"
	EventPointsAwarded      EventType = "points.awarded"
	EventLevelChanged       EventType = "points.level_changed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a published event.
type EventHandler func(event Event) error

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event. The aggregate is always the user.
func NewBaseEvent(eventType EventType, userID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: userID,
		Version:     1,
	}
}

// AchievementGrantedEvent is emitted once per newly granted achievement.
type AchievementGrantedEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	Title         string `json:"title"`
	CourseID      string `json:"course_id,omitempty"`
	Points        int    `json:"points"`
}

// Payload implements Event interface.
func (e AchievementGrantedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id": e.AchievementID,
		"title":          e.Title,
		"course_id":      e.CourseID,
		"points":         e.Points,
	}
}

// NewAchievementGrantedEvent creates a new AchievementGrantedEvent.
func NewAchievementGrantedEvent(userID, achievementID, title, courseID string, points int, at time.Time) AchievementGrantedEvent {
	return AchievementGrantedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementGranted, userID, at),
		AchievementID: achievementID,
		Title:         title,
		CourseID:      courseID,
		Points:        points,
	}
}

// PointsAwardedEvent is emitted after a ledger entry is appended.
type PointsAwardedEvent struct {
	BaseEvent
	Points int    `json:"points"`
	Action string `json:"action"`
}

// Payload implements Event interface.
func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"points": e.Points,
		"action": e.Action,
	}
}

// NewPointsAwardedEvent creates a new PointsAwardedEvent.
func NewPointsAwardedEvent(userID string, points int, action string, at time.Time) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent: NewBaseEvent(EventPointsAwarded, userID, at),
		Points:    points,
		Action:    action,
	}
}

// LevelChangedEvent is emitted when a snapshot write moves the user to another level.
type LevelChangedEvent struct {
	BaseEvent
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
}

// Payload implements Event interface.
func (e LevelChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
	}
}

// NewLevelChangedEvent creates a new LevelChangedEvent.
func NewLevelChangedEvent(userID string, oldLevel, newLevel int, at time.Time) LevelChangedEvent {
	return LevelChangedEvent{
		BaseEvent: NewBaseEvent(EventLevelChanged, userID, at),
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
	}
}
