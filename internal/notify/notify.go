package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	"taskminder/internal/logger"
)

var ErrNotificationFailed = errors.New("notification failed")

// Notifier delivers one rendered message. Implementations may fail and are not idempotent.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(ctx context.Context, recipient, subject, body string) error

func (f NotifierFunc) Notify(ctx context.Context, recipient, subject, body string) error {
	return f(ctx, recipient, subject, body)
}

// ReminderSubject and ReminderBody render the message sent when a task's deadline arrives.
func ReminderSubject(description string) string {
	return fmt.Sprintf("%s Pending", description)
}

func ReminderBody(description string) string {
	return fmt.Sprintf("<html><p>%s is pending</p></html>", html.EscapeString(description))
}

// Log writes reminders to the service log instead of sending them.
type Log struct {
	Log *logger.Logger
}

func (n *Log) Notify(_ context.Context, recipient, subject, body string) error {
	if recipient == "" {
		return fmt.Errorf("%w: empty recipient", ErrNotificationFailed)
	}
	n.Log.Infow("reminder", "to", recipient, "subject", subject, "body", body)
	return nil
}
