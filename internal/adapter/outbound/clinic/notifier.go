package clinic

import (
	"context"
	"log/slog"
)

// Reminder is one outbound appointment reminder.
type Reminder struct {
	TenantID      string
	AppointmentID string
	PatientName   string
	Channel       string
	Address       string
	StartsAt      string
}

// Notifier delivers reminders. Deliveries cannot be recalled, which is why
// the reminder tool is marked non-transactional.
type Notifier interface {
	Send(ctx context.Context, r Reminder) error
}

// LogNotifier writes reminders to the log instead of a provider.
type LogNotifier struct {
	Logger *slog.Logger
}

// Send logs the reminder.
func (n LogNotifier) Send(_ context.Context, r Reminder) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("appointment reminder",
		"tenant_id", r.TenantID,
		"appointment_id", r.AppointmentID,
		"channel", r.Channel,
		"starts_at", r.StartsAt,
	)
	return nil
}
