// Package ipmatch compares client IP addresses recorded at the start of a
// login with the address presenting a later request.
package ipmatch

import (
	"net/netip"
	"strings"
)

// Option configures a comparison.
type Option func(*options)

type options struct {
	strict bool
}

// WithStrict controls IPv6 comparison. When false only the first four
// segments (the routing prefix) have to agree, which tolerates privacy
// address rotation inside the same subnet. IPv4 is always compared exactly.
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// IsMatch reports whether a and b refer to the same client. Empty or
// unparseable input never matches, and neither do addresses of different
// families.
func IsMatch(a, b string, opts ...Option) bool {
	o := options{strict: true}
	for _, opt := range opts {
		opt(&o)
	}

	addrA, ok := Normalize(a)
	if !ok {
		return false
	}
	addrB, ok := Normalize(b)
	if !ok {
		return false
	}

	if addrA.Is4() != addrB.Is4() {
		return false
	}
	if addrA.Is4() || o.strict {
		return addrA == addrB
	}

	sa, sb := addrA.As16(), addrB.As16()
	// first four 16-bit segments
	for i := 0; i < 8; i++ {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// Normalize parses raw into an address without brackets, zone or port.
// IPv4-mapped IPv6 addresses are returned as IPv4.
func Normalize(raw string) (netip.Addr, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return netip.Addr{}, false
	}

	if ap, err := netip.ParseAddrPort(s); err == nil {
		return clean(ap.Addr()), true
	}

	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return clean(addr), true
}

func clean(addr netip.Addr) netip.Addr {
	return addr.WithZone("").Unmap()
}
