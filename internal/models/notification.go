package models

import "time"

const (
	NotificationTypeDemurrage = "demurrage_alert"

	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"

	EntityTypeContainer = "container"
)

type Notification struct {
	ID         uint64
	Type       string
	Priority   string
	Title      string
	Message    string
	EntityType string
	EntityID   uint64
	Metadata   map[string]any
	Read       bool
	CreatedAt  time.Time
}
