// Package mailer sends the emails produced by send actions.
package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/config"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

// Email is a plain text or HTML message.
type Email struct {
	To      []string
	Cc      []string
	Subject string
	Body    string
	HTML    bool
}

// Mailer delivers an Email.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// dialer is the part of *mail.Client used to deliver messages.
type dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPMailer delivers mail over SMTP.
type SMTPMailer struct {
	from   string
	client dialer
	log    *zap.Logger
}

var _ Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(cfg config.SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: smtp.host is not set", apperrors.ErrBadRequest)
	}
	opts := []mail.Option{mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &SMTPMailer{from: cfg.From, client: client, log: logger.Log.Named("mailer")}, nil
}

// Build converts an Email into a go-mail message.
func (m *SMTPMailer) Build(email Email) (*mail.Msg, error) {
	to := cleanAddresses(email.To)
	if len(to) == 0 {
		return nil, fmt.Errorf("%w: email has no recipients", apperrors.ErrValidation)
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("%w: invalid sender %q: %w", apperrors.ErrValidation, m.from, err)
	}
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("%w: invalid recipient: %w", apperrors.ErrValidation, err)
	}
	if cc := cleanAddresses(email.Cc); len(cc) > 0 {
		if err := msg.Cc(cc...); err != nil {
			return nil, fmt.Errorf("%w: invalid cc: %w", apperrors.ErrValidation, err)
		}
	}
	msg.Subject(email.Subject)
	if email.HTML {
		msg.SetBodyString(mail.TypeTextHTML, email.Body)
	} else {
		msg.SetBodyString(mail.TypeTextPlain, email.Body)
	}
	return msg, nil
}

func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	msg, err := m.Build(email)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		m.log.Error("Failed to send email", zap.Strings("to", email.To), zap.Error(err))
		return fmt.Errorf("%w: send email: %w", apperrors.ErrActionFailed, err)
	}
	m.log.Info("Email sent", zap.Strings("to", email.To), zap.String("subject", email.Subject))
	return nil
}

// cleanAddresses splits comma separated entries and drops blanks.
func cleanAddresses(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, addr := range strings.Split(entry, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}
