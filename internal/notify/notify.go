package notify

import (
	"context"
	"fmt"

	"github.com/tahmid-hasan/schedly/internal/model"
)

// Sender delivers a single message. Implementations must respect ctx
// deadlines; callers treat any error as a logged, non-fatal outcome.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Mailer renders appointment mail and hands it to a Sender.
type Mailer struct {
	sender Sender
}

func NewMailer(sender Sender) *Mailer {
	return &Mailer{sender: sender}
}

func (m *Mailer) SendConfirmation(ctx context.Context, email, name string, appt model.Appointment) error {
	body := fmt.Sprintf(
		"Dear %s,\n\nYour appointment has been confirmed:\n\n  Service: %s\n  Date: %s\n  Time: %s\n\nThank you for choosing our services!\n",
		name,
		appt.Service,
		appt.Date.Format("2006-01-02"),
		appt.Start.String(),
	)
	return m.sender.Send(ctx, email, "Appointment Confirmation", body)
}

func (m *Mailer) SendReminder(ctx context.Context, email, name string, appt model.Appointment) error {
	body := fmt.Sprintf(
		"Dear %s,\n\nThis is a reminder of your upcoming appointment:\n\n  Service: %s\n  Date: %s\n  Time: %s\n\nPlease arrive 5 minutes early.\n",
		name,
		appt.Service,
		appt.Date.Format("2006-01-02"),
		appt.Start.String(),
	)
	return m.sender.Send(ctx, email, "Appointment Reminder", body)
}
