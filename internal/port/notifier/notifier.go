// Package notifier defines the port for paging operators about
// orchestration outcomes that need a human.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier has no destination.
var ErrNotConfigured = errors.New("notifier: not configured")

// Level is the severity of a notification.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Field is a short labelled value shown alongside the message.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Notification is the payload sent through a Notifier. It never carries
// the patient's query text.
type Notification struct {
	Title   string  `json:"title"`
	Message string  `json:"message"`
	Level   Level   `json:"level"`
	Source  string  `json:"source"` // event type, e.g. "orchestration.emergency"
	Fields  []Field `json:"fields,omitempty"`
}

// Notifier delivers notifications to one destination.
type Notifier interface {
	// Name identifies the destination kind, e.g. "slack".
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
