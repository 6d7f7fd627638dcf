package notification

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/pkg/config"
)

// ErrNotConfigured is returned by Check when no SMTP credentials are set.
var ErrNotConfigured = errors.New("smtp not configured")

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends notifications over SMTP. Recipients are blind-copied.
type EmailNotifier struct {
	config *config.SMTPConfig
	logger *zap.Logger
	send   sendFunc
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig, logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{config: cfg, logger: logger, send: smtp.SendMail}
}

// Notify delivers a message. Without credentials the message is logged
// instead of sent.
func (e *EmailNotifier) Notify(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.Recipients) == 0 {
		return ErrNoRecipients
	}

	if e.config.Username == "" || e.config.Password == "" {
		e.logger.Info("SMTP not configured, skipping email",
			zap.Strings("recipients", msg.Recipients),
			zap.String("subject", msg.Subject),
			zap.String("body", msg.Body),
		)
		return nil
	}

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, msg.Recipients, e.compose(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("Email sent", zap.String("subject", msg.Subject), zap.Int("recipients", len(msg.Recipients)))
	return nil
}

func (e *EmailNotifier) compose(msg *Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.config.From)
	b.WriteString("To: undisclosed-recipients:;\r\n")
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// Check tests the SMTP connection
func (e *EmailNotifier) Check() error {
	if e.config.Username == "" {
		return ErrNotConfigured
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()
	return nil
}
