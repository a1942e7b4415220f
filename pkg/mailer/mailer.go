package mailer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"

	"github.com/ds124wfegd/library-reservations/config"
)

const defaultTimeout = 15 * time.Second

// SMTPMailer sends HTML mail through an SMTP relay.
type SMTPMailer struct {
	from    string
	host    string
	timeout time.Duration
	options []mail.Option
}

func NewSMTPMailer(cfg config.EmailConfig) *SMTPMailer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	options := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	return &SMTPMailer{
		from:    cfg.From,
		host:    cfg.Host,
		timeout: timeout,
		options: options,
	}
}

// Send delivers one message. Every read and write on the connection is bound
// by ctx and the configured timeout, so a stalled relay cannot hold the caller.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := BuildMessage(m.from, to, subject, htmlBody, time.Now())
	if err != nil {
		return err
	}

	var release func() bool
	defer func() {
		if release != nil {
			release()
		}
	}()

	dial := func(dialCtx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		deadline := time.Now().Add(m.timeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
		release = context.AfterFunc(ctx, func() {
			_ = conn.SetDeadline(time.Now())
		})
		return conn, nil
	}

	client, err := mail.NewClient(m.host, append(m.options, mail.WithDialContextFunc(dial))...)
	if err != nil {
		return fmt.Errorf("smtp client for %s: %w", m.host, err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send to %s: %w", to, ctxErr)
		}
		// the connection deadline can fire just before ctx is marked done
		if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
			return fmt.Errorf("smtp send to %s: %w", to, context.DeadlineExceeded)
		}
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}

	logrus.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Debug("Email sent")
	return nil
}

// BuildMessage renders a UTF-8 HTML message. Addresses are parsed, so header
// injection through them is rejected.
func BuildMessage(from, to, subject, htmlBody string, date time.Time) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDateWithValue(date)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)
	return msg, nil
}
