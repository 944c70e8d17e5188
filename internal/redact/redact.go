// Package redact strips credentials from text that may reach users or logs.
package redact

import (
	"regexp"
	"strings"
)

var (
	rePassword = regexp.MustCompile(`(?i)(password=|pwd=)([^\s;&]+)`)
	reToken    = regexp.MustCompile(`(?i)(token=|bearer\s+)([A-Za-z0-9._~+/=-]+)`)
	reDSNUser  = regexp.MustCompile(`(?i)([a-z][a-z0-9+.-]*://)([^/@\s:]+):([^@\s]+)(@)`)
	reAPIKey   = regexp.MustCompile(`(?i)(apikey=|api_key=|x-api-key:\s*|key=)([^\s;&]+)`)
	reSKKey    = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`)
)

// Mask hides passwords, tokens, API keys and DSN credentials.
func Mask(s string) string {
	out := rePassword.ReplaceAllString(s, "$1***")
	out = reToken.ReplaceAllString(out, "$1***")
	out = reDSNUser.ReplaceAllString(out, "$1***:***$4")
	out = reAPIKey.ReplaceAllString(out, "$1***")
	out = reSKKey.ReplaceAllString(out, "sk-***")
	return out
}

// Masker additionally hides configured literal secrets such as full DSNs.
type Masker struct {
	literals []string
}

func NewMasker(literals ...string) Masker {
	kept := make([]string, 0, len(literals))
	for _, literal := range literals {
		if strings.TrimSpace(literal) != "" {
			kept = append(kept, literal)
		}
	}
	return Masker{literals: kept}
}

func (m Masker) Mask(s string) string {
	for _, literal := range m.literals {
		s = strings.ReplaceAll(s, literal, "[redacted]")
	}
	return Mask(s)
}
