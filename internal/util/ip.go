package util

import (
	"net"
	"strings"
)

// IPClassification is the security classification of an address.
type IPClassification int

const (
	// IPClassificationPublic is a publicly routable address.
	IPClassificationPublic IPClassification = iota
	// IPClassificationLoopback is 127.0.0.0/8 or ::1.
	IPClassificationLoopback
	// IPClassificationPrivate is RFC 1918 or a unique local IPv6 address.
	IPClassificationPrivate
	// IPClassificationLinkLocal is 169.254.0.0/16 or fe80::/10 (cloud metadata endpoints live here).
	IPClassificationLinkLocal
	// IPClassificationUnspecified is 0.0.0.0 or ::.
	IPClassificationUnspecified
)

// String returns a stable name for logging.
func (c IPClassification) String() string {
	switch c {
	case IPClassificationPublic:
		return "public"
	case IPClassificationLoopback:
		return "loopback"
	case IPClassificationPrivate:
		return "private"
	case IPClassificationLinkLocal:
		return "link_local"
	case IPClassificationUnspecified:
		return "unspecified"
	default:
		return "unknown"
	}
}

// ClassifyIP classifies ip. A nil ip is reported as unspecified.
func ClassifyIP(ip net.IP) IPClassification {
	switch {
	case ip == nil || ip.IsUnspecified():
		return IPClassificationUnspecified
	case ip.IsLoopback():
		return IPClassificationLoopback
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return IPClassificationLinkLocal
	case ip.IsPrivate():
		return IPClassificationPrivate
	default:
		return IPClassificationPublic
	}
}

// IsInternalHost reports whether host (a hostname or literal address, without
// port) points at a non-public destination. Only literal addresses and the
// "localhost" names are recognised; DNS is not consulted.
func IsInternalHost(host string) bool {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(h, "[]"))
	if ip == nil {
		return false
	}
	return ClassifyIP(ip) != IPClassificationPublic
}
