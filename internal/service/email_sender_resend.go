package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"
)

type emailTemplate struct {
	Subject string
	HTML    string
	Text    string
}

// Template bodies use {{name}} placeholders filled from params.
var emailTemplates = map[string]emailTemplate{
	"two_factor_code": {
		Subject: "Your verification code",
		HTML:    "<p>Your two-factor verification code is:</p><h1 style=\"font-family: monospace; letter-spacing: 3px;\">{{code}}</h1><p>This code expires in 10 minutes.</p>",
		Text:    "Your two-factor verification code is {{code}}. It expires in 10 minutes.",
	},
	"key_rotation_notice": {
		Subject: "API key rotated",
		HTML:    "<p>Your API key <strong>{{name}}</strong> was rotated. The previous key material stops working at {{grace_until}}; the new material expires at {{expires_at}}.</p>",
		Text:    "Your API key {{name}} was rotated. The previous key material stops working at {{grace_until}}; the new material expires at {{expires_at}}.",
	},
	"key_expiry_notice": {
		Subject: "API key expired",
		HTML:    "<p>Your API key <strong>{{name}}</strong> expired at {{expires_at}}. Rotate it to obtain new key material.</p>",
		Text:    "Your API key {{name}} expired at {{expires_at}}. Rotate it to obtain new key material.",
	},
	"subject_request_update": {
		Subject: "Update on your data request",
		HTML:    "<p>Your {{type}} request is now <strong>{{status}}</strong>.</p>",
		Text:    "Your {{type}} request is now {{status}}.",
	},
	"erasure_scheduled": {
		Subject: "Account erasure scheduled",
		HTML:    "<p>Your account is scheduled for erasure on {{scheduled_at}}. You can cancel the request until then.</p>",
		Text:    "Your account is scheduled for erasure on {{scheduled_at}}. You can cancel the request until then.",
	},
}

type ResendEmailSender struct {
	Client *resend.Client
	From   string
}

func NewResendEmailSender(apiKey string, from string) *ResendEmailSender {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(from) == "" {
		return &ResendEmailSender{}
	}
	return &ResendEmailSender{
		Client: resend.NewClient(apiKey),
		From:   from,
	}
}

func (s *ResendEmailSender) Send(ctx context.Context, to string, templateID string, params map[string]string) error {
	if s.Client == nil {
		return errors.New("email sender not configured")
	}
	tmpl, ok := emailTemplates[templateID]
	if !ok {
		return fmt.Errorf("unknown email template %q", templateID)
	}
	_, err := s.Client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.From,
		To:      []string{to},
		Subject: tmpl.Subject,
		Html:    fillTemplate(tmpl.HTML, params),
		Text:    fillTemplate(tmpl.Text, params),
	})
	return err
}

func fillTemplate(body string, params map[string]string) string {
	for key, value := range params {
		body = strings.ReplaceAll(body, "{{"+key+"}}", value)
	}
	return body
}
