package models

import "time"

// NotificationChannel identifies how a notification is delivered.
type NotificationChannel string

const (
	NotificationChannelInApp   NotificationChannel = "IN_APP"
	NotificationChannelWebPush NotificationChannel = "WEB_PUSH"
)

// Notification is an in-app message addressed to a single user.
type Notification struct {
	ID        string              `db:"id" json:"id"`
	UserID    string              `db:"user_id" json:"user_id"`
	Channel   NotificationChannel `db:"channel" json:"channel"`
	Title     string              `db:"title" json:"title"`
	Body      string              `db:"body" json:"body"`
	ReadAt    *time.Time          `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time           `db:"created_at" json:"created_at"`
}
