package address

import (
	"fmt"
	"net/netip"
	"strings"
)

// Allowlist is a set of networks whose addresses are never rate limited
// or banned. A nil *Allowlist contains nothing.
type Allowlist struct {
	prefixes []netip.Prefix
}

// ParseAllowlist parses IP and CIDR entries. Single IPs become /32 or /128.
func ParseAllowlist(entries []string) (*Allowlist, error) {
	result := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			addr, err := netip.ParseAddr(e)
			if err != nil {
				return nil, fmt.Errorf("invalid allowlist entry %q: %w", e, err)
			}
			addr = addr.Unmap()
			result = append(result, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(e)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist CIDR %q: %w", e, err)
		}
		result = append(result, p.Masked())
	}
	return &Allowlist{prefixes: result}, nil
}

// Contains reports whether addr is covered by any entry.
func (a *Allowlist) Contains(addr netip.Addr) bool {
	if a == nil {
		return false
	}
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.prefixes)
}
