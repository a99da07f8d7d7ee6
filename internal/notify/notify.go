// Package notify sends transactional email through a pluggable provider.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// ErrInvalidRecipient is returned before any provider call when the address does not parse.
var ErrInvalidRecipient = errors.New("notify: invalid recipient")

// Attachment is a file sent alongside a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is a rendered email.
type Message struct {
	To          string
	From        string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ValidateAddress normalises addr and rejects anything net/mail cannot parse.
func ValidateAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidRecipient)
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, addr)
	}
	return parsed.Address, nil
}

var scrubPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`), "${1}[redacted]"},
	{regexp.MustCompile(`\bSG\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`), "[redacted]"},
	{regexp.MustCompile(`\bre_[A-Za-z0-9_]{8,}`), "[redacted]"},
	{regexp.MustCompile(`(?i)((?:password|passwd|pwd|secret|api[_-]?key|token)\s*[=:]\s*)[^\s&,;]+`), "${1}[redacted]"},
	{regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/\s@]+@`), "${1}[redacted]@"},
}

// Scrub strips credentials from provider error text before it is logged or
// surfaced. Additional literal secrets may be passed explicitly.
func Scrub(msg string, secrets ...string) string {
	for _, s := range secrets {
		if len(s) >= 4 {
			msg = strings.ReplaceAll(msg, s, "[redacted]")
		}
	}
	for _, p := range scrubPatterns {
		msg = p.re.ReplaceAllString(msg, p.repl)
	}
	return msg
}

type scrubbedError struct {
	msg   string
	cause error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.cause }

// scrubErr keeps the error chain for errors.Is while hiding secrets in Error().
func scrubErr(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	return &scrubbedError{msg: Scrub(err.Error(), secrets...), cause: errors.Unwrap(err)}
}
