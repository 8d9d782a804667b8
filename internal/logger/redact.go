package logger

import (
	"bytes"
	"io"
	"net/netip"
	"regexp"
	"strconv"
)

// RedactWriter wraps an io.Writer and masks sensitive values before writing.
// It always redacts passwords and, when enabled, truncates IP addresses to
// their /24 (IPv4) or /48 (IPv6) network.
type RedactWriter struct {
	w             io.Writer
	patterns      []*regexp.Regexp
	redactWith    string
	maskAddresses bool
}

var defaultPatterns = []*regexp.Regexp{
	// Password in key=value or "key":"value" form
	regexp.MustCompile(`(?i)(redis_password["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(password["'\s:=]+)\S+`),
	// redis:// URLs with inline credentials
	regexp.MustCompile(`(?i)(rediss?://[^:/@\s]*:)[^@\s]+`),
	regexp.MustCompile(`(?i)(requirepass\s+)\S+`),
}

// addrPattern finds IPv4 and IPv6 candidates with an optional prefix
// length. Candidates are confirmed with netip before masking.
var addrPattern = regexp.MustCompile(
	`(?:(?:\d{1,3}\.){3}\d{1,3}\b|[0-9A-Fa-f]{0,4}(?::[0-9A-Fa-f]{0,4}){2,7})(?:/\d{1,3})?`,
)

const (
	maskBitsV4 = 24
	maskBitsV6 = 48
)

// NewRedactWriter returns a RedactWriter that applies all default sensitive
// patterns, and masks addresses if maskAddresses is set.
func NewRedactWriter(w io.Writer, maskAddresses bool) *RedactWriter {
	return &RedactWriter{
		w:             w,
		patterns:      defaultPatterns,
		redactWith:    "[REDACTED]",
		maskAddresses: maskAddresses,
	}
}

// Write applies all redaction patterns before forwarding to the underlying writer.
func (r *RedactWriter) Write(p []byte) (int, error) {
	sanitized := p
	for _, re := range r.patterns {
		sanitized = re.ReplaceAll(sanitized, appendRedacted(re, r.redactWith))
	}
	if r.maskAddresses {
		sanitized = addrPattern.ReplaceAllFunc(sanitized, maskAddress)
	}
	n, err := r.w.Write(sanitized)
	// Return original length so callers don't get short-write errors
	// even if redaction changed the byte count.
	if n > len(sanitized) {
		n = len(sanitized)
	}
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// maskAddress truncates a matched address or network. Matches that are
// not addresses, such as clock times, are returned unchanged.
func maskAddress(m []byte) []byte {
	if !bytes.ContainsAny(m, "0123456789abcdefABCDEF") {
		return m
	}
	s := string(m)
	bits := -1
	if i := bytes.IndexByte(m, '/'); i >= 0 {
		n, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return m
		}
		bits, s = n, s[:i]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return m
	}
	addr = addr.Unmap()

	limit := maskBitsV6
	if addr.Is4() {
		limit = maskBitsV4
	}
	if bits < 0 || bits > limit {
		bits = limit
	}
	p, err := addr.Prefix(bits)
	if err != nil {
		return m
	}
	return []byte(p.String())
}

// appendRedacted builds a replacement []byte that keeps capture group $1 + redactWith.
func appendRedacted(re *regexp.Regexp, redact string) []byte {
	// All our patterns have exactly one capture group for the key/prefix.
	var buf bytes.Buffer
	buf.WriteString("${1}")
	buf.WriteString(redact)
	return buf.Bytes()
}
