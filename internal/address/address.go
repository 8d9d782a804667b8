package address

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
)

// ErrEmpty is returned by Parse for blank lines.
var ErrEmpty = errors.New("empty address")

// Family is the IP version of an address.
type Family uint8

const (
	V4 Family = iota
	V6
)

func (f Family) String() string {
	if f == V4 {
		return "ipv4"
	}
	return "ipv6"
}

// FamilyOf returns the family of addr. Callers pass unmapped addresses.
func FamilyOf(addr netip.Addr) Family {
	if addr.Is4() {
		return V4
	}
	return V6
}

// Parse parses a single textual IPv4 or IPv6 address.
// Surrounding whitespace is ignored, IPv6 zones are dropped and
// IPv4-mapped IPv6 addresses (::ffff:1.2.3.4) are normalized to IPv4.
func Parse(line []byte) (netip.Addr, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return netip.Addr{}, ErrEmpty
	}
	addr, err := netip.ParseAddr(string(line))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IP address %q: %w", line, err)
	}
	return addr.WithZone("").Unmap(), nil
}

// Key identifies the unit a ban applies to: a single address, or the
// network it was masked into. Keys are comparable and used as map keys.
type Key struct {
	prefix netip.Prefix
}

// KeyOf returns the single-address key for addr.
func KeyOf(addr netip.Addr) Key {
	return Key{prefix: netip.PrefixFrom(addr, addr.BitLen())}
}

func (k Key) Bits() int        { return k.prefix.Bits() }
func (k Key) Family() Family   { return FamilyOf(k.prefix.Addr()) }
func (k Key) IsSingleIP() bool { return k.prefix.IsSingleIP() }

// String renders a single address bare and a network in CIDR form.
func (k Key) String() string {
	if k.IsSingleIP() {
		return k.prefix.Addr().String()
	}
	return k.prefix.String()
}

// Mask truncates addresses to a per-family prefix length before they are
// used as keys, so a whole /24 or /64 can be tracked and banned as one.
type Mask struct {
	bits ByFamily[int]
}

// NewMask validates the prefix lengths. Full lengths (32, 128) track
// single addresses.
func NewMask(v4Bits, v6Bits int) (Mask, error) {
	if v4Bits < 1 || v4Bits > 32 {
		return Mask{}, fmt.Errorf("IPv4 mask must be 1–32; got %d", v4Bits)
	}
	if v6Bits < 1 || v6Bits > 128 {
		return Mask{}, fmt.Errorf("IPv6 mask must be 1–128; got %d", v6Bits)
	}
	return Mask{bits: ByFamily[int]{V4: v4Bits, V6: v6Bits}}, nil
}

// SingleIP is the identity mask.
func SingleIP() Mask {
	return Mask{bits: ByFamily[int]{V4: 32, V6: 128}}
}

// Bits returns the prefix length applied to family f.
func (m Mask) Bits(f Family) int {
	return m.bits.Get(f)
}

// Apply returns the key addr belongs to.
func (m Mask) Apply(addr netip.Addr) Key {
	bits := m.bits.Get(FamilyOf(addr))
	if bits == 0 {
		// zero Mask behaves like SingleIP
		return KeyOf(addr)
	}
	p, err := addr.Prefix(bits)
	if err != nil {
		return KeyOf(addr)
	}
	return Key{prefix: p}
}
