package infra

import (
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Mailer sends report and anomaly e-mails, optionally with a PDF attachment.
type Mailer struct {
	host     string
	user     string
	password string
	from     string
	addr     string
}

func NewMailer(cfg SMTPConfig) *Mailer {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &Mailer{
		host:     cfg.Host,
		user:     cfg.User,
		password: cfg.Password,
		from:     from,
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
}

// Configured reports whether an SMTP host was set.
func (m *Mailer) Configured() bool { return m != nil && m.host != "" }

// Send delivers one message to the given recipients. attachPath may be empty.
func (m *Mailer) Send(to []string, subject, body, attachPath string) error {
	if !m.Configured() {
		return fmt.Errorf("mailer: smtp host not configured")
	}
	e := email.NewEmail()
	e.From = m.from
	e.To = to
	e.Subject = subject
	e.Text = []byte(body)

	if attachPath != "" {
		if _, err := e.AttachFile(attachPath); err != nil {
			return fmt.Errorf("mailer: attach file: %w", err)
		}
	}

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.password, m.host)
	}
	return e.Send(m.addr, auth)
}
