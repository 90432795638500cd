package spec

import (
	"regexp"
	"strings"

	"github.com/corevisor/corectl/internal/corerr"
)

const maxDomainLabelLen = 63

var domainLabelPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)

// ValidateDomainName validates a DNS search-domain or resolver domain
// against RFC 1035 label rules (§4.A DNS configuration).
func ValidateDomainName(domain string) error {
	if domain == "" {
		return corerr.InvalidArgumentf("domain name must not be empty")
	}
	if len(domain) > 255 {
		return corerr.InvalidArgumentf("domain name %q: exceeds 255 characters", domain)
	}
	if strings.HasPrefix(domain, ".") {
		return corerr.InvalidArgumentf("domain name %q: must not start with '.'", domain)
	}
	labels := strings.Split(strings.TrimSuffix(domain, "."), ".")
	for _, l := range labels {
		if l == "" || len(l) > maxDomainLabelLen {
			return corerr.InvalidArgumentf("domain name %q: label %q length must be 1..%d", domain, l, maxDomainLabelLen)
		}
		if !domainLabelPattern.MatchString(l) {
			return corerr.InvalidArgumentf("domain name %q: label %q has invalid characters", domain, l)
		}
	}
	return nil
}

// ValidateDNSConfig validates every nameserver, domain, and search-domain
// entry of a resolver configuration.
func ValidateDNSConfig(nameservers []string, domain string, searchDomains []string) error {
	for _, ns := range nameservers {
		if ns == "" {
			return corerr.InvalidArgumentf("nameserver address must not be empty")
		}
	}
	if domain != "" {
		if err := ValidateDomainName(domain); err != nil {
			return err
		}
	}
	for _, sd := range searchDomains {
		if err := ValidateDomainName(sd); err != nil {
			return err
		}
	}
	return nil
}
