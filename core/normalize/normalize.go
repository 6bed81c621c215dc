// Package normalize implements address canonicalization and validation,
// the first stage every record passes through before blocklist
// checks or scoring ever see it.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/pkg/apperr"
)

var (
	uuidShape  = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	hexDigest  = regexp.MustCompile(`^[0-9a-f]+$`)
	stripLead  = "._-+"
)

// telemetryHosts is the hard-coded substring set of crash-reporting /
// telemetry domains rejected regardless of their surrounding structure.
// Matched case-insensitively against the registrable domain.
var telemetryHosts = []string{
	"sentry.io", "sentry-", "bugsnag.com", "newrelic.com",
	"rollbar.com", "datadoghq.com",
}

// Normalize canonicalizes a raw address token per the ordered steps:
// trim, strip a leading "//" or literal "20", strip leading punctuation,
// lower-case, drop a trailing dot on the local part. It does not validate —
// call Validate on the result.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "//")
	s = strings.TrimPrefix(s, "20")
	s = strings.TrimLeft(s, stripLead)
	s = strings.ToLower(s)

	at := strings.LastIndexByte(s, '@')
	if at > 0 {
		local := strings.TrimSuffix(s[:at], ".")
		s = local + s[at:]
	}
	return s
}

// Validate checks an already-normalized address against the invariants and
// rejection rules. On success it returns the typed Address; on
// failure it returns apperr.InvalidAddress describing the first rule that
// fired.
func Validate(normalized string) (domain.Address, error) {
	at := strings.LastIndexByte(normalized, '@')
	if at <= 0 || at == len(normalized)-1 {
		return "", apperr.InvalidAddress(normalized, "missing local or domain part")
	}

	local := normalized[:at]
	host := normalized[at+1:]

	if local == "" || host == "" {
		return "", apperr.InvalidAddress(normalized, "empty local or domain part")
	}
	if len(local) > 64 {
		return "", apperr.InvalidAddress(normalized, "local part exceeds 64 characters")
	}
	if strings.Contains(normalized, "..") {
		return "", apperr.InvalidAddress(normalized, "consecutive dots")
	}
	if !strings.Contains(host, ".") {
		return "", apperr.InvalidAddress(normalized, "domain has no dot")
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return "", apperr.InvalidAddress(normalized, "leading or trailing dot in local part")
	}
	if !isASCII(normalized) {
		return "", apperr.InvalidAddress(normalized, "non-ASCII characters")
	}

	if isDigestLocalPart(local) {
		return "", apperr.InvalidAddress(normalized, "local part is a hex content digest")
	}
	if uuidShape.MatchString(local) {
		return "", apperr.InvalidAddress(normalized, "local part has UUID shape")
	}
	if isTelemetryHost(host) {
		return "", apperr.InvalidAddress(normalized, "domain is a telemetry/crash-reporting host")
	}

	return domain.Address(normalized), nil
}

// NormalizeAndValidate is the common single-call entry point used by the
// pipeline.
func NormalizeAndValidate(raw string) (domain.Address, error) {
	return Validate(Normalize(raw))
}

func isDigestLocalPart(local string) bool {
	switch len(local) {
	case 32, 40, 64:
		return hexDigest.MatchString(local)
	default:
		return false
	}
}

func isTelemetryHost(host string) bool {
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		registrable = host
	}
	for _, h := range telemetryHosts {
		if strings.Contains(registrable, h) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

// RegistrableDomain returns the eTLD+1 of an already-validated address's
// domain, used by the Smart Filter Engine's TLD/country matching.
func RegistrableDomain(a domain.Address) string {
	host := a.Domain()
	reg, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return reg
}

// TLD returns the top-level label of a domain, used for
// excluded_country_domains / geographic_priorities matching.
func TLD(host string) string {
	i := strings.LastIndexByte(host, '.')
	if i < 0 {
		return host
	}
	return host[i+1:]
}
