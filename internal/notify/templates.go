package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"go.uber.org/zap"

	"trustcenter.dev/internal/obs"
)

var (
	magicLinkTmpl = template.Must(template.New("magic_link").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<p>Hi {{.Name}},</p>
<p>Your request for the following documents has been approved:</p>
<ul>{{range .Documents}}<li>{{.}}</li>{{end}}</ul>
<p><a href="{{.Link}}">Open your documents</a></p>
<p>This link expires on {{.ExpiresAt.Format "January 2, 2006 15:04 MST"}}.{{if .AccessExpiresAt}} Access to the documents ends on {{.AccessExpiresAt.Format "January 2, 2006"}}.{{end}}</p>
</body></html>`))

	rejectionTmpl = template.Must(template.New("rejection").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<p>Hi {{.Name}},</p>
<p>Your request for the following documents could not be approved:</p>
<ul>{{range .Documents}}<li>{{.}}</li>{{end}}</ul>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}
<p>Reply to this email if you have questions.</p>
</body></html>`))
)

// MagicLinkData fills the approval email.
type MagicLinkData struct {
	To              string
	Name            string
	Documents       []string
	Link            string
	ExpiresAt       time.Time
	AccessExpiresAt *time.Time
}

// RejectionData fills the denial email.
type RejectionData struct {
	To        string
	Name      string
	Documents []string
	Reason    string
}

// Notifier renders workflow emails and hands them to a Mailer.
type Notifier struct {
	mailer Mailer
	from   string
}

func NewNotifier(mailer Mailer, from string) *Notifier {
	return &Notifier{mailer: mailer, from: from}
}

// SendMagicLink delivers the access link for an approved request.
func (n *Notifier) SendMagicLink(ctx context.Context, data MagicLinkData) error {
	html, err := render(magicLinkTmpl, data)
	if err != nil {
		return err
	}
	return n.send(ctx, "magic_link", Message{
		To:      data.To,
		From:    n.from,
		Subject: "Your requested documents are ready",
		HTML:    html,
	})
}

// SendRejection informs the requester that the request was denied.
func (n *Notifier) SendRejection(ctx context.Context, data RejectionData) error {
	html, err := render(rejectionTmpl, data)
	if err != nil {
		return err
	}
	return n.send(ctx, "rejection", Message{
		To:      data.To,
		From:    n.from,
		Subject: "Update on your document request",
		HTML:    html,
	})
}

func (n *Notifier) send(ctx context.Context, kind string, msg Message) error {
	if _, err := ValidateAddress(msg.To); err != nil {
		obs.CountEmail(kind, false)
		return err
	}
	err := n.mailer.Send(ctx, msg)
	obs.CountEmail(kind, err == nil)
	if err != nil {
		obs.Logger().Warn("email_send_failed",
			zap.String("kind", kind),
			zap.String("error", Scrub(err.Error())),
		)
		return err
	}
	return nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
