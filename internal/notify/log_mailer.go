package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"trustcenter.dev/internal/obs"
)

// LogMailer writes messages to the structured log instead of delivering them.
// It keeps the most recent messages for inspection in development and tests.
type LogMailer struct {
	mu   sync.Mutex
	sent []Message
	keep int
}

func NewLogMailer() *LogMailer {
	return &LogMailer{keep: 100}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	to, err := ValidateAddress(msg.To)
	if err != nil {
		return err
	}
	obs.Logger().Info("email_logged",
		zap.String("to", to),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
	)
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	if len(m.sent) > m.keep {
		m.sent = m.sent[len(m.sent)-m.keep:]
	}
	m.mu.Unlock()
	return nil
}

// Sent returns a copy of the retained messages.
func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
