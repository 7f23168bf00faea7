package alerts

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/badoux/checkmail"
	"github.com/sirupsen/logrus"
	"github.com/streamvigil/vigil/config"
)

// SMTPSender delivers mail over a fresh SMTP connection per message. Alert
// volume is low enough that connection reuse is not worth the state.
type SMTPSender struct {
	cfg config.MailSettings
	log *logrus.Entry
}

func NewSMTPSender(cfg config.MailSettings, log *logrus.Logger) *SMTPSender {
	if log == nil {
		log = logrus.New()
	}
	return &SMTPSender{cfg: cfg, log: log.WithField("component", "email")}
}

// Send validates the address and delivers with retries. The retry count and
// delay come from the mail settings.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if s.cfg.Server == "" {
		return fmt.Errorf("mail server not configured")
	}
	if err := checkmail.ValidateFormat(to); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	var lastErr error
	attempts := s.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = s.deliver(to, subject, body); lastErr == nil {
			return nil
		}
		s.log.WithError(lastErr).WithFields(logrus.Fields{
			"to":      to,
			"attempt": attempt,
		}).Warn("email delivery failed")
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.RetryDelay):
			}
		}
	}
	return fmt.Errorf("email to %s failed after %d attempts: %w", to, attempts, lastErr)
}

func (s *SMTPSender) deliver(to, subject, body string) error {
	addr := net.JoinHostPort(s.cfg.Server, strconv.Itoa(s.cfg.Port))

	var (
		conn *smtp.Client
		err  error
	)
	if s.cfg.UseSSL {
		tlsConn, dialErr := tls.Dial("tcp", addr, &tls.Config{ServerName: s.cfg.Server})
		if dialErr != nil {
			return dialErr
		}
		conn, err = smtp.NewClient(tlsConn, s.cfg.Server)
	} else {
		conn, err = smtp.Dial(addr)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	if s.cfg.UseTLS && !s.cfg.UseSSL {
		if ok, _ := conn.Extension("STARTTLS"); ok {
			if err := conn.StartTLS(&tls.Config{ServerName: s.cfg.Server}); err != nil {
				return err
			}
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Server)
		if ok, _ := conn.Extension("AUTH"); ok {
			if err := conn.Auth(auth); err != nil {
				return err
			}
		}
	}

	if err := conn.Mail(s.cfg.DefaultSender); err != nil {
		return err
	}
	if err := conn.Rcpt(to); err != nil {
		return err
	}
	w, err := conn.Data()
	if err != nil {
		return err
	}

	from := s.cfg.DefaultSender
	if s.cfg.SenderName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.SenderName, s.cfg.DefaultSender)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from, to, subject, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return conn.Quit()
}
