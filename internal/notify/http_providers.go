package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultResendURL   = "https://api.resend.com"
	defaultSendGridURL = "https://api.sendgrid.com"
	providerTimeout    = 15 * time.Second
)

// ResendMailer posts messages to the Resend HTTP API.
type ResendMailer struct {
	apiKey string
	client *resty.Client
}

// NewResendMailer builds a Resend mailer. baseURL may be empty.
func NewResendMailer(apiKey, baseURL string) (*ResendMailer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if baseURL == "" {
		baseURL = defaultResendURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(providerTimeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")
	return &ResendMailer{apiKey: apiKey, client: client}, nil
}

type resendAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type resendPayload struct {
	From        string             `json:"from"`
	To          []string           `json:"to"`
	Subject     string             `json:"subject"`
	HTML        string             `json:"html"`
	Text        string             `json:"text,omitempty"`
	Attachments []resendAttachment `json:"attachments,omitempty"`
}

func (m *ResendMailer) Send(ctx context.Context, msg Message) error {
	to, err := ValidateAddress(msg.To)
	if err != nil {
		return err
	}
	payload := resendPayload{
		From:    msg.From,
		To:      []string{to},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	}
	for _, a := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, resendAttachment{
			Filename: a.Name,
			Content:  base64.StdEncoding.EncodeToString(a.Data),
		})
	}
	resp, err := m.client.R().SetContext(ctx).SetBody(payload).Post("/emails")
	if err != nil {
		return scrubErr(fmt.Errorf("resend request: %w", err), m.apiKey)
	}
	if resp.IsError() {
		return scrubErr(fmt.Errorf("resend returned %d: %s", resp.StatusCode(), resp.String()), m.apiKey)
	}
	return nil
}

// SendGridMailer posts messages to the SendGrid v3 mail API.
type SendGridMailer struct {
	apiKey string
	client *resty.Client
}

// NewSendGridMailer builds a SendGrid mailer. baseURL may be empty.
func NewSendGridMailer(apiKey, baseURL string) (*SendGridMailer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	if baseURL == "" {
		baseURL = defaultSendGridURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(providerTimeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")
	return &SendGridMailer{apiKey: apiKey, client: client}, nil
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgAttachment struct {
	Content     string `json:"content"`
	Filename    string `json:"filename"`
	Type        string `json:"type,omitempty"`
	Disposition string `json:"disposition"`
}

type sgPayload struct {
	Personalizations []struct {
		To []sgAddress `json:"to"`
	} `json:"personalizations"`
	From        sgAddress      `json:"from"`
	Subject     string         `json:"subject"`
	Content     []sgContent    `json:"content"`
	Attachments []sgAttachment `json:"attachments,omitempty"`
}

func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	to, err := ValidateAddress(msg.To)
	if err != nil {
		return err
	}
	from := sgAddress{Email: msg.From}
	if parsed, err := mail.ParseAddress(msg.From); err == nil {
		from = sgAddress{Email: parsed.Address, Name: parsed.Name}
	}

	var payload sgPayload
	payload.Personalizations = make([]struct {
		To []sgAddress `json:"to"`
	}, 1)
	payload.Personalizations[0].To = []sgAddress{{Email: to}}
	payload.From = from
	payload.Subject = msg.Subject
	if msg.Text != "" {
		payload.Content = append(payload.Content, sgContent{Type: "text/plain", Value: msg.Text})
	}
	payload.Content = append(payload.Content, sgContent{Type: "text/html", Value: msg.HTML})
	for _, a := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, sgAttachment{
			Content:     base64.StdEncoding.EncodeToString(a.Data),
			Filename:    a.Name,
			Type:        a.ContentType,
			Disposition: "attachment",
		})
	}

	resp, err := m.client.R().SetContext(ctx).SetBody(payload).Post("/v3/mail/send")
	if err != nil {
		return scrubErr(fmt.Errorf("sendgrid request: %w", err), m.apiKey)
	}
	if resp.IsError() {
		return scrubErr(fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode(), resp.String()), m.apiKey)
	}
	return nil
}
