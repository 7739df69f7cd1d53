package delivery

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"github.com/resend/resend-go/v2"
)

//go:embed templates/*.html
var templatesFS embed.FS

var otpTemplate = template.Must(template.ParseFS(templatesFS, "templates/otp.html"))

const emailSubject = "Your voting verification code"

// EmailSender delivers codes through Resend.
type EmailSender struct {
	client *resend.Client
	from   string
}

func NewEmailSender(apiKey, from string) *EmailSender {
	return &EmailSender{client: resend.NewClient(apiKey), from: from}
}

func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	html, err := renderEmail(msg)
	if err != nil {
		return err
	}
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: emailSubject,
		Html:    html,
	}
	if _, err := s.client.Emails.Send(params); err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

func renderEmail(msg Message) (string, error) {
	var buf bytes.Buffer
	err := otpTemplate.Execute(&buf, struct {
		Code      string
		ExpiresAt string
	}{
		Code:      msg.Code,
		ExpiresAt: msg.ExpiresAt.UTC().Format("15:04 MST"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render email template: %w", err)
	}
	return buf.String(), nil
}
