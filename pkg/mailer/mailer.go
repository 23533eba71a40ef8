// Package mailer delivers rendered query results by SMTP.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/formats"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// Mailer sends a rendered document to the recipients of a mailer specification.
type Mailer interface {
	Send(ctx context.Context, spec *models.MailerSpecification, doc *formats.Document) error
}

// Config holds SMTP settings.
type Config struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"-" env:"SMTP_PASSWORD"` // Secret - not in config.yaml
	From     string `yaml:"from" env:"SMTP_FROM"`
	// TLSPolicy is mandatory, opportunistic or none.
	TLSPolicy string `yaml:"tls_policy" env:"SMTP_TLS_POLICY" env-default:"mandatory"`
}

// Enabled reports whether an SMTP host is configured.
func (c Config) Enabled() bool {
	return c.Host != ""
}

// sender is the part of *mail.Client the mailer uses.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPMailer sends mail through one SMTP relay.
type SMTPMailer struct {
	cfg    Config
	client sender
	logger *zap.Logger
}

// NewSMTPMailer creates a mailer for cfg.
func NewSMTPMailer(cfg Config, logger *zap.Logger) (*SMTPMailer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("smtp host is not configured")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(tlsPolicy(cfg.TLSPolicy)),
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
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return &SMTPMailer{cfg: cfg, client: client, logger: logger}, nil
}

func tlsPolicy(name string) mail.TLSPolicy {
	switch strings.ToLower(name) {
	case "none", "notls":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	}
	return mail.TLSMandatory
}

// Send mails doc as an attachment. The message body is the specification's body text.
func (m *SMTPMailer) Send(ctx context.Context, spec *models.MailerSpecification, doc *formats.Document) error {
	msg, err := m.buildMessage(spec, doc)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail %q: %w", spec.Name, err)
	}
	m.logger.Info("sent query output",
		zap.String("mailer", spec.Name),
		zap.Strings("to", spec.To),
		zap.String("attachment", doc.FileName))
	return nil
}

func (m *SMTPMailer) buildMessage(spec *models.MailerSpecification, doc *formats.Document) (*mail.Msg, error) {
	if len(spec.To) == 0 {
		return nil, fmt.Errorf("mailer %q has no recipients", spec.Name)
	}

	from := spec.From
	if from == "" {
		from = m.cfg.From
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("mailer %q: invalid from address: %w", spec.Name, err)
	}
	if err := msg.To(spec.To...); err != nil {
		return nil, fmt.Errorf("mailer %q: invalid recipient: %w", spec.Name, err)
	}
	if len(spec.Cc) > 0 {
		if err := msg.Cc(spec.Cc...); err != nil {
			return nil, fmt.Errorf("mailer %q: invalid cc: %w", spec.Name, err)
		}
	}

	subject := spec.Subject
	if subject == "" {
		subject = doc.FileName
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, spec.Body)

	if err := msg.AttachReader(doc.FileName, bytes.NewReader(doc.Body),
		mail.WithFileContentType(mail.ContentType(doc.ContentType))); err != nil {
		return nil, fmt.Errorf("mailer %q: failed to attach %s: %w", spec.Name, doc.FileName, err)
	}
	return msg, nil
}

var _ Mailer = (*SMTPMailer)(nil)
