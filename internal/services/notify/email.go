package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/rs/zerolog"
)

const implicitTLSPort = 465

// Mailer delivers a fully formatted message.
type Mailer interface {
	Send(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// DefaultMailer uses net/smtp. Port 465 uses implicit TLS; other ports upgrade with
// STARTTLS when the server offers it.
type DefaultMailer struct {
	Timeout time.Duration
}

// Send delivers msg through the server at addr.
func (m *DefaultMailer) Send(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, _ := strconv.Atoi(portStr)

	dialer := &net.Dialer{Timeout: m.Timeout}
	var conn net.Conn
	if port == implicitTLSPort {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = client.Close() }()

	if port != implicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}

	return client.Quit()
}

// Email sends reports by SMTP.
type Email struct {
	cfg    models.SMTPConfig
	mailer Mailer
	logger zerolog.Logger
	now    func() time.Time
}

// NewEmail creates an email notifier.
func NewEmail(logger zerolog.Logger, cfg models.SMTPConfig) *Email {
	return NewEmailWithMailer(logger, cfg, &DefaultMailer{Timeout: 30 * time.Second})
}

// NewEmailWithMailer creates an email notifier with a custom mailer (for testing).
func NewEmailWithMailer(logger zerolog.Logger, cfg models.SMTPConfig, mailer Mailer) *Email {
	return &Email{cfg: cfg, mailer: mailer, logger: logger, now: time.Now}
}

// Notify sends one plain-text email to the configured To and CC recipients.
// Unparseable addresses are skipped.
func (e *Email) Notify(ctx context.Context, subject, body string) error {
	from, err := mail.ParseAddress(e.cfg.From)
	if err != nil {
		return fmt.Errorf("invalid from address %q: %w", e.cfg.From, err)
	}

	to := e.parseList(e.cfg.To)
	cc := e.parseList(e.cfg.CC)
	if len(to) == 0 {
		return errors.New("no valid recipient address")
	}

	recipients := make([]string, 0, len(to)+len(cc))
	for _, a := range append(append([]*mail.Address{}, to...), cc...) {
		recipients = append(recipients, a.Address)
	}

	msg := buildMessage(from, to, cc, subject, body, e.now())

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))

	e.logger.Info().
		Str("smtp", addr).
		Int("recipients", len(recipients)).
		Msg("sending email report")

	if err := e.mailer.Send(ctx, addr, auth, from.Address, recipients, msg); err != nil {
		return fmt.Errorf("could not send email: %w", err)
	}

	e.logger.Info().Msg("email report sent")
	return nil
}

func (e *Email) parseList(raw []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(raw))
	for _, s := range raw {
		a, err := mail.ParseAddress(s)
		if err != nil {
			e.logger.Warn().Err(err).Str("address", s).Msg("skipping invalid email address")
			continue
		}
		out = append(out, a)
	}
	return out
}

func buildMessage(from *mail.Address, to, cc []*mail.Address, subject, body string, date time.Time) []byte {
	headers := []string{
		"From: " + from.String(),
		"To: " + joinAddresses(to),
	}
	if len(cc) > 0 {
		headers = append(headers, "Cc: "+joinAddresses(cc))
	}
	headers = append(headers,
		"Subject: "+mime.QEncoding.Encode("utf-8", subject),
		"Date: "+date.Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: 8bit",
	)

	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\n", "\r\n")

	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body)
}

func joinAddresses(list []*mail.Address) string {
	parts := make([]string, len(list))
	for i, a := range list {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}
