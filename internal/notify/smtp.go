package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	SenderName string
}

// SMTP sends reminders as HTML email. A new connection is dialed per message.
type SMTP struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp: host is required")
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.SenderName == "" {
		cfg.SenderName = "TaskManager"
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTP{cfg: cfg}, nil
}

func (s *SMTP) Notify(ctx context.Context, recipient, subject, body string) error {
	m := mail.NewMsg()
	if err := m.FromFormat(s.cfg.SenderName, s.cfg.From); err != nil {
		return fmt.Errorf("%w: from: %v", ErrNotificationFailed, err)
	}
	if err := m.To(recipient); err != nil {
		return fmt.Errorf("%w: to %q: %v", ErrNotificationFailed, recipient, err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextHTML, body)

	opts := []mail.Option{mail.WithPort(s.cfg.Port)}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	c, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("%w: client: %v", ErrNotificationFailed, err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("%w: send: %v", ErrNotificationFailed, err)
	}
	return nil
}
