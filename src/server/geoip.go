package server

import "net"

// GeoIPFilter decides whether a remote address is allowed by country code,
// grounded on original_source/src/geoip/mod.rs's allow/deny-list semantics.
// No MaxMind database binding ships in this tree (no third-party GeoIP
// reader is carried by the reference corpus; see DESIGN.md) — NoopGeoIP
// below satisfies §4.9's "error ⇒ fail-open with a warning" by always
// allowing, so the pipeline can be wired against this interface today and
// a real Reader dropped in later without touching caller code.
type GeoIPFilter interface {
	// Allowed reports whether ip passes the configured allow/deny lists.
	// An error means the lookup itself failed; the pipeline interprets
	// that as fail-open per §4.9.
	Allowed(ip net.IP) (bool, error)
}

// NoopGeoIP allows every address; used when GeoIP filtering is disabled or
// no database is configured.
type NoopGeoIP struct{}

func (NoopGeoIP) Allowed(net.IP) (bool, error) { return true, nil }

// ListFilter is a minimal GeoIPFilter that a real MaxMind-backed country
// resolver could sit behind: given a country-code resolver function, it
// applies the same deny-then-allow precedence as the original.
type ListFilter struct {
	ResolveCountry func(ip net.IP) (string, error)
	AllowList      []string
	DenyList       []string
}

// Allowed implements GeoIPFilter.
func (f *ListFilter) Allowed(ip net.IP) (bool, error) {
	country, err := f.ResolveCountry(ip)
	if err != nil {
		return true, err // fail-open, caller logs the warning
	}
	if country == "" {
		return true, nil
	}

	for _, c := range f.DenyList {
		if c == country {
			return false, nil
		}
	}
	if len(f.AllowList) == 0 {
		return true, nil
	}
	for _, c := range f.AllowList {
		if c == country {
			return true, nil
		}
	}
	return false, nil
}
