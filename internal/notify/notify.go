// Package notify delivers budget alert emails.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledgercore/internal/logger"
	"ledgercore/internal/models"
)

// ErrDisabled is returned by senders that do not deliver mail.
var ErrDisabled = errors.New("email delivery disabled")

// BudgetAlert is the content of one alert email.
type BudgetAlert struct {
	BudgetName   string
	CategoryName string
	AlertType    models.AlertType
	Percent      float64
	Spent        decimal.Decimal
	Amount       decimal.Decimal
	Currency     string
	Message      string
}

// Subject returns the email subject line.
func (a BudgetAlert) Subject() string {
	if a.AlertType == models.AlertTypeOverBudget {
		return fmt.Sprintf("Over budget: %s", a.CategoryName)
	}
	return fmt.Sprintf("Budget warning: %s at %.0f%%", a.CategoryName, a.Percent)
}

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends alert emails through an SMTP relay.
type SMTPSender struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a sender for cfg.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}
}

// SendBudgetAlert sends alert to the address to.
func (s *SMTPSender) SendBudgetAlert(ctx context.Context, to string, alert BudgetAlert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("no recipient address")
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	msg := buildMessage(s.cfg.From, to, alert, time.Now())
	if err := s.send(addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

func buildMessage(from, to string, alert BudgetAlert, now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", alert.Subject()))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")

	body := []string{
		alert.Message,
		"",
		fmt.Sprintf("Budget:   %s", alert.BudgetName),
		fmt.Sprintf("Category: %s", alert.CategoryName),
		fmt.Sprintf("Spent:    %s %s of %s %s (%.0f%%)",
			alert.Spent.StringFixed(2), alert.Currency,
			alert.Amount.StringFixed(2), alert.Currency, alert.Percent),
	}
	b.WriteString(strings.Join(body, "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

// LogSender writes alerts to the log instead of sending them. It stands in
// for SMTPSender when no mail server is configured.
type LogSender struct{}

// SendBudgetAlert logs alert and returns ErrDisabled, since nothing was sent.
func (LogSender) SendBudgetAlert(_ context.Context, to string, alert BudgetAlert) error {
	logger.Named("notify").Infow("Budget alert email (not sent, SMTP disabled)",
		"to", to,
		"subject", alert.Subject(),
	)
	return ErrDisabled
}
