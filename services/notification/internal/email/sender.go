package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sakashimaa/go-order-management/pkg/config"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	"github.com/sakashimaa/go-order-management/services/notification/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Sender interface {
	Send(ctx context.Context, email domain.Email) error
}

type smtpSender struct {
	from     string
	user     string
	password string
	host     string
	port     string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewSMTPSender(cfg config.SMTP, logger *zap.Logger) Sender {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}

	return &smtpSender{
		from:     from,
		user:     cfg.User,
		password: cfg.Password,
		host:     cfg.Host,
		port:     cfg.Port,
		send:     smtp.SendMail,
		logger:   logger,
		tracer:   otel.Tracer("notification/email"),
	}
}

func (s *smtpSender) Send(ctx context.Context, email domain.Email) error {
	ctx, span := s.tracer.Start(ctx, "smtp.Send")
	defer span.End()

	span.SetAttributes(
		attribute.String("to.email", email.To),
	)

	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Sending email",
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
	)

	if err := s.send(addr, auth, s.from, []string{email.To}, buildMessage(s.from, email)); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			s.logger,
			"Error sending email",
			zap.String("to", email.To),
			zap.Error(err),
		)

		return fmt.Errorf("failed to send mail: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Sent email successfully",
		zap.String("to", email.To),
	)

	return nil
}

func buildMessage(from string, email domain.Email) []byte {
	var b strings.Builder

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + email.To + "\r\n")
	b.WriteString("Subject: " + email.Subject + "\r\n")
	b.WriteString("MIME-version: 1.0;\r\nContent-Type: text/plain; charset=\"UTF-8\";\r\n\r\n")
	b.WriteString(strings.ReplaceAll(email.Body, "\n", "\r\n"))

	return []byte(b.String())
}
