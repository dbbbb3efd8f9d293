// Package email sends operational alert mail and polls an inbox for inbound
// lead messages.
package email

import (
	"context"

	"estate_portal_backend/platform/config"
)

// Sender delivers operational alerts.
type Sender interface {
	SendDeadLetterAlert(ctx context.Context, alert DeadLetterAlert) error
}

// NoopSender drops every alert. It is used when SMTP or ALERT_EMAIL_TO is not configured.
type NoopSender struct{}

func (NoopSender) SendDeadLetterAlert(ctx context.Context, alert DeadLetterAlert) error {
	return nil
}

// NewSender returns an SMTP sender when alerts are configured and a NoopSender otherwise.
func NewSender(cfg config.SMTPConfig) (Sender, error) {
	if !cfg.IsAlertEmailEnabled() {
		return NoopSender{}, nil
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
		cfg.GetAlertEmailTo(),
	), nil
}
