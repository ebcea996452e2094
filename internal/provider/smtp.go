package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/courier/internal/domain"
	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the relay settings used by SMTPTransport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	UseSSL   bool
	From     string
	Timeout  time.Duration
}

// SMTPTransport renders attempts as MIME messages and hands them to an SMTP relay.
type SMTPTransport struct {
	cfg  SMTPConfig
	send func(ctx context.Context, msg *mail.Msg) error
}

func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp sender address is required")
	}

	t := &SMTPTransport{cfg: cfg}
	t.send = t.dialAndSend
	return t, nil
}

func (t *SMTPTransport) Deliver(ctx context.Context, attempt domain.DeliveryAttempt) (*Receipt, error) {
	if t == nil || t.send == nil {
		return nil, fmt.Errorf("smtp transport is not initialized")
	}

	msg, err := t.buildMessage(attempt)
	if err != nil {
		return nil, Permanent("failed to build message", err)
	}

	if err := t.send(ctx, msg); err != nil {
		return nil, classifySMTPError(err)
	}

	return &Receipt{
		StatusCode: 250,
		MessageID:  attempt.ID,
	}, nil
}

func (t *SMTPTransport) buildMessage(attempt domain.DeliveryAttempt) (*mail.Msg, error) {
	msg := mail.NewMsg()

	from := attempt.From
	if from == "" {
		from = t.cfg.From
	}
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("%w: sender %q: %v", domain.ErrValidation, from, err)
	}
	if err := msg.To(attempt.To...); err != nil {
		return nil, fmt.Errorf("%w: recipients: %v", domain.ErrValidation, err)
	}
	if len(attempt.Cc) > 0 {
		if err := msg.Cc(attempt.Cc...); err != nil {
			return nil, fmt.Errorf("%w: cc: %v", domain.ErrValidation, err)
		}
	}
	if len(attempt.Bcc) > 0 {
		if err := msg.Bcc(attempt.Bcc...); err != nil {
			return nil, fmt.Errorf("%w: bcc: %v", domain.ErrValidation, err)
		}
	}
	if attempt.ReplyTo != "" {
		if err := msg.ReplyTo(attempt.ReplyTo); err != nil {
			return nil, fmt.Errorf("%w: reply-to: %v", domain.ErrValidation, err)
		}
	}

	msg.Subject(attempt.Subject)
	msg.SetMessageIDWithValue(attempt.ID)
	msg.SetImportance(importanceFor(attempt.Priority))

	switch {
	case attempt.HTMLBody != "" && attempt.TextBody != "":
		msg.SetBodyString(mail.TypeTextPlain, attempt.TextBody)
		msg.AddAlternativeString(mail.TypeTextHTML, attempt.HTMLBody)
	case attempt.HTMLBody != "":
		msg.SetBodyString(mail.TypeTextHTML, attempt.HTMLBody)
	default:
		msg.SetBodyString(mail.TypeTextPlain, attempt.TextBody)
	}

	for _, attachment := range attempt.Attachments {
		var opts []mail.FileOption
		if attachment.ContentType != "" {
			opts = append(opts, mail.WithFileContentType(mail.ContentType(attachment.ContentType)))
		}
		if err := msg.AttachReader(attachment.Filename, bytes.NewReader(attachment.Content), opts...); err != nil {
			return nil, fmt.Errorf("attach %q: %w", attachment.Filename, err)
		}
	}

	return msg, nil
}

func (t *SMTPTransport) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(t.cfg.Port),
		mail.WithTimeout(t.timeout()),
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.cfg.Username),
			mail.WithPassword(t.cfg.Password),
		)
	}
	switch {
	case t.cfg.UseSSL:
		opts = append(opts, mail.WithSSL())
	case t.cfg.UseTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(t.cfg.Host, opts...)
	if err != nil {
		return Permanent("invalid smtp client configuration", err)
	}

	return client.DialAndSendWithContext(ctx, msg)
}

func (t *SMTPTransport) timeout() time.Duration {
	if t.cfg.Timeout > 0 {
		return t.cfg.Timeout
	}
	return 30 * time.Second
}

func importanceFor(priority int) mail.Importance {
	switch {
	case priority <= domain.PriorityHigh:
		return mail.ImportanceHigh
	case priority >= domain.PriorityLow:
		return mail.ImportanceLow
	default:
		return mail.ImportanceNormal
	}
}

// classifySMTPError treats 5xx replies as permanent; everything else is retried.
func classifySMTPError(err error) error {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return err
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && !sendErr.IsTemp() {
		return &ProviderError{
			Message:   "smtp relay rejected message",
			Transient: false,
			Cause:     err,
		}
	}

	return &ProviderError{
		Message:   "smtp send failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}
