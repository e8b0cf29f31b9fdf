// Package notify routes critical pipeline failures to operators by mail.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/zingest/zingest/internal/config"
	"github.com/zingest/zingest/internal/log"
)

// Mailer sends failure notices over plain SMTP.
type Mailer struct {
	host string
	from string
	to   []string

	// send is swapped in tests.
	send func(addr, from string, to []string, msg []byte) error
}

// New returns a mailer, or nil when email routing is disabled.
func New(cfg config.Email) *Mailer {
	if !cfg.Enabled {
		return nil
	}
	to := strings.Fields(strings.ReplaceAll(cfg.To, ",", " "))
	return &Mailer{
		host: cfg.Host,
		from: cfg.From,
		to:   to,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// Notify sends one failure notice. Delivery problems are logged, never
// surfaced; mail is a best-effort side channel.
func (m *Mailer) Notify(ctx context.Context, subject, body string) {
	logger := log.WithComponentFromContext(ctx, "notify")
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [zingest] %s\r\nDate: %s\r\n\r\n%s\r\n",
		m.from, strings.Join(m.to, ", "), subject,
		time.Now().Format(time.RFC1123Z), body)
	if err := m.send(m.host, m.from, m.to, []byte(msg)); err != nil {
		logger.Error().Err(err).Str("event", "notify.send_failed").
			Str("subject", subject).Msg("failure notice could not be delivered")
		return
	}
	logger.Info().Str("event", "notify.sent").Str("subject", subject).
		Msg("failure notice delivered")
}
