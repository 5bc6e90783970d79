package flags

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeEntityRef reduces URL or host references to their registrable
// domain (eTLD+1) so flags about www.acme.co.uk and acme.co.uk line up.
// Anything that does not look like a host, such as a registry id or a
// company name, is returned trimmed but otherwise untouched.
func NormalizeEntityRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ref
	}
	host := ref
	if strings.Contains(ref, "://") {
		u, err := url.Parse(ref)
		if err != nil || u.Hostname() == "" {
			return ref
		}
		host = u.Hostname()
	}
	if strings.ContainsAny(host, " /:") || !strings.Contains(host, ".") {
		return ref
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return registrable
}
