// Package mail defines the outbound email port. Delivery is best effort:
// a failed send is logged and never rolls back the state transition that
// triggered it.
package mail

import (
	"context"
	"fmt"
	"log/slog"
)

// Template tags for outbound messages.
const (
	TemplateSigningInvite = "signing-invite"
	TemplateSigningOTP    = "signing-otp"
	TemplateCompleted     = "envelope-completed"
)

// Message is one outbound email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	Template string
	Metadata map[string]string
}

// Mailer delivers messages to signers.
type Mailer interface {
	// Send delivers one message. Implementations must not block indefinitely.
	Send(ctx context.Context, msg *Message) error
}

// LogMailer writes outbound messages to the log instead of delivering them.
// Used in development and wherever no delivery provider is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a log-only mailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send logs the message envelope. Bodies are not logged; OTP codes and magic
// links must not land in cleartext logs.
func (m *LogMailer) Send(ctx context.Context, msg *Message) error {
	m.logger.Info("outbound email",
		"to", msg.To,
		"subject", msg.Subject,
		"template", msg.Template,
	)
	return nil
}

// SigningInvite builds the magic-link invitation for a signer.
func SigningInvite(to, signerName, envelopeName, url string) *Message {
	return &Message{
		To:      to,
		Subject: fmt.Sprintf("Signature requested: %s", envelopeName),
		TextBody: fmt.Sprintf("Hi %s,\n\nYou have been asked to sign %q.\nOpen your signing link:\n\n%s\n",
			signerName, envelopeName, url),
		HTMLBody: fmt.Sprintf("<p>Hi %s,</p><p>You have been asked to sign <strong>%s</strong>.</p><p><a href=%q>Review and sign</a></p>",
			signerName, envelopeName, url),
		Template: TemplateSigningInvite,
		Metadata: map[string]string{"envelope": envelopeName},
	}
}

// SigningOTP builds the one-time code message for a signer.
func SigningOTP(to, code string, expiryMinutes int) *Message {
	return &Message{
		To:      to,
		Subject: "Your signing verification code",
		TextBody: fmt.Sprintf("Your verification code is %s. It expires in %d minutes.\n",
			code, expiryMinutes),
		HTMLBody: fmt.Sprintf("<p>Your verification code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p>",
			code, expiryMinutes),
		Template: TemplateSigningOTP,
	}
}

// EnvelopeCompleted builds the completion notice for the envelope owner.
func EnvelopeCompleted(to, envelopeName string) *Message {
	return &Message{
		To:       to,
		Subject:  fmt.Sprintf("Completed: %s", envelopeName),
		TextBody: fmt.Sprintf("All parties have signed %q.\n", envelopeName),
		HTMLBody: fmt.Sprintf("<p>All parties have signed <strong>%s</strong>.</p>", envelopeName),
		Template: TemplateCompleted,
	}
}
