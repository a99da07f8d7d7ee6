// Package orgs maps requester email domains to organizations and manages
// their access standing.
package orgs

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"trustcenter.dev/internal/trust"
)

var personalDomains = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
	"yahoo.com":      {},
	"yahoo.co.uk":    {},
	"hotmail.com":    {},
	"outlook.com":    {},
	"live.com":       {},
	"msn.com":        {},
	"icloud.com":     {},
	"me.com":         {},
	"mac.com":        {},
	"aol.com":        {},
	"protonmail.com": {},
	"proton.me":      {},
	"gmx.com":        {},
	"gmx.de":         {},
	"mail.com":       {},
	"yandex.com":     {},
	"yandex.ru":      {},
	"zoho.com":       {},
	"qq.com":         {},
	"163.com":        {},
}

// ExtractDomain returns the lower-cased domain of an email address.
func ExtractDomain(email string) (string, error) {
	email = strings.TrimSpace(email)
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", fmt.Errorf("%w: invalid email address", trust.ErrInvalidInput)
	}
	domain := strings.ToLower(email[at+1:])
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", fmt.Errorf("%w: invalid email domain", trust.ErrInvalidInput)
	}
	for _, label := range strings.Split(domain, ".") {
		if !validLabel(label) {
			return "", fmt.Errorf("%w: invalid email domain", trust.ErrInvalidInput)
		}
	}
	return domain, nil
}

// validLabel accepts hostname labels: letters, digits and inner hyphens.
func validLabel(label string) bool {
	if label == "" || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return false
	}
	for _, r := range label {
		if r != '-' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// IsPersonalDomain reports whether domain belongs to a consumer mail provider.
func IsPersonalDomain(domain string) bool {
	_, ok := personalDomains[strings.ToLower(strings.TrimSpace(domain))]
	return ok
}

// DisplayName picks the organization name for a new domain.
func DisplayName(domain, company string) string {
	if c := strings.TrimSpace(company); c != "" {
		return c
	}
	label, _, _ := strings.Cut(domain, ".")
	if label == "" {
		return domain
	}
	r, size := utf8.DecodeRuneInString(label)
	return string(unicode.ToUpper(r)) + label[size:]
}
