// Package webhook delivers workflow events to subscriber URLs.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trustcenter.dev/internal/obs"
	"trustcenter.dev/internal/trust"
)

const (
	SignatureHeader = "X-TrustCenter-Signature"
	EventHeader     = "X-TrustCenter-Event"
	DeliveryHeader  = "X-TrustCenter-Delivery"

	EventRequestCreated  = "document_request.created"
	EventRequestApproved = "document_request.approved"
	EventRequestDenied   = "document_request.denied"
	EventDocumentCreated = "document.created"
	EventOrgUpdated      = "organization.updated"
)

// KnownEvents lists the events a subscriber may ask for, besides "*".
var KnownEvents = []string{
	EventRequestCreated, EventRequestApproved, EventRequestDenied,
	EventDocumentCreated, EventOrgUpdated,
}

// Envelope is the JSON body posted to subscribers.
type Envelope struct {
	Event  string    `json:"event"`
	Data   any       `json:"data"`
	SentAt time.Time `json:"sent_at"`
}

// Delivery is the outcome of one post.
type Delivery struct {
	WebhookID  string `json:"webhook_id"`
	DeliveryID string `json:"delivery_id"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// OK reports whether the subscriber answered with a 2xx.
func (d Delivery) OK() bool { return d.Error == "" && d.StatusCode >= 200 && d.StatusCode < 300 }

// Dispatcher fans an event out to every active subscriber.
type Dispatcher struct {
	hooks  trust.WebhookStore
	client *resty.Client
	now    func() time.Time
}

func NewDispatcher(hooks trust.WebhookStore, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "trustcenter-webhooks/1")
	return &Dispatcher{hooks: hooks, client: client, now: time.Now}
}

// Dispatch posts the event to all subscribers concurrently, waits for every
// post to settle and never retries. Failures are logged and returned as
// outcomes, never as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data any) []Delivery {
	if d == nil {
		return nil
	}
	hooks, err := d.hooks.ListActive(ctx, event)
	if err != nil {
		obs.Logger().Warn("webhook_list_failed", zap.String("event", event), zap.Error(err))
		return nil
	}
	if len(hooks) == 0 {
		return nil
	}
	body, err := json.Marshal(Envelope{Event: event, Data: data, SentAt: d.now().UTC()})
	if err != nil {
		obs.Logger().Warn("webhook_encode_failed", zap.String("event", event), zap.Error(err))
		return nil
	}

	out := make([]Delivery, len(hooks))
	var g errgroup.Group
	for i, hook := range hooks {
		g.Go(func() error {
			out[i] = d.deliver(ctx, hook, event, body)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, hook trust.Webhook, event string, body []byte) Delivery {
	res := Delivery{WebhookID: hook.ID, DeliveryID: uuid.NewString()}
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader(EventHeader, event).
		SetHeader(DeliveryHeader, res.DeliveryID).
		SetHeader(SignatureHeader, Sign(hook.Secret, body)).
		SetBody(body).
		Post(hook.URL)
	if err != nil {
		res.Error = err.Error()
	} else {
		res.StatusCode = resp.StatusCode()
		if !res.OK() {
			res.Error = fmt.Sprintf("subscriber returned %d", res.StatusCode)
		}
	}
	obs.CountWebhookDelivery(res.OK())
	if !res.OK() {
		obs.Logger().Warn("webhook_delivery_failed",
			zap.String("webhook_id", hook.ID),
			zap.String("event", event),
			zap.String("error", res.Error),
		)
	}
	return res
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header in constant time.
func Verify(secret string, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}

// Registry is admin CRUD over subscribers.
type Registry struct {
	hooks trust.WebhookStore
}

func NewRegistry(hooks trust.WebhookStore) *Registry {
	return &Registry{hooks: hooks}
}

// NewHook carries registration input.
type NewHook struct {
	URL    string
	Secret string
	Events []string
}

func (r *Registry) Create(ctx context.Context, in NewHook) (trust.Webhook, error) {
	u, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return trust.Webhook{}, fmt.Errorf("%w: url must be an absolute http(s) url", trust.ErrInvalidInput)
	}
	if len(in.Secret) < 16 {
		return trust.Webhook{}, fmt.Errorf("%w: secret must be at least 16 characters", trust.ErrInvalidInput)
	}
	if len(in.Events) == 0 {
		return trust.Webhook{}, fmt.Errorf("%w: at least one event is required", trust.ErrInvalidInput)
	}
	events := make([]string, 0, len(in.Events))
	for _, e := range in.Events {
		e = strings.TrimSpace(e)
		if e != "*" && !known(e) {
			return trust.Webhook{}, fmt.Errorf("%w: unknown event %q", trust.ErrInvalidInput, e)
		}
		events = append(events, e)
	}
	hook := trust.Webhook{URL: u.String(), Secret: in.Secret, Events: trust.MergeIDs(nil, events), IsActive: true}
	if err := r.hooks.Create(ctx, &hook); err != nil {
		return trust.Webhook{}, err
	}
	return hook, nil
}

func (r *Registry) List(ctx context.Context) ([]trust.Webhook, error) {
	return r.hooks.List(ctx)
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.hooks.Delete(ctx, id)
}

func known(event string) bool {
	for _, k := range KnownEvents {
		if k == event {
			return true
		}
	}
	return false
}
