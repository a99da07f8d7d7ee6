package notify

import (
	"fmt"

	"trustcenter.dev/internal/config"
)

// FromConfig selects the mailer named by cfg.Provider.
func FromConfig(cfg config.EmailConfig) (Mailer, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogMailer(), nil
	case "smtp":
		return NewSMTPMailer(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		})
	case "resend":
		return NewResendMailer(cfg.ResendAPIKey, "")
	case "sendgrid":
		return NewSendGridMailer(cfg.SendGridAPIKey, "")
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
