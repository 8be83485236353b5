package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// KeyPrefix namespaces every counter key.
const KeyPrefix = "filebox:ip:"

// KeyFunc derives the counter key for a request. It returns false when no
// key can be derived, in which case the request is not limited.
type KeyFunc func(r *http.Request) (string, bool)

// KeyGenerator resolves the client IP used as the counter key.
type KeyGenerator struct {
	// header is a proxy-set header carrying the client IP, e.g. X-Real-IP.
	header string
	// trustForwarded enables the first hop of X-Forwarded-For.
	trustForwarded bool
}

// NewKeyGenerator creates a key generator. An empty header disables the
// header lookup.
func NewKeyGenerator(header string, trustForwarded bool) *KeyGenerator {
	return &KeyGenerator{
		header:         header,
		trustForwarded: trustForwarded,
	}
}

// ClientIP returns the client address: the configured header if it holds a
// well-formed IP, then the first X-Forwarded-For hop when trusted, then the
// transport peer address.
func (kg *KeyGenerator) ClientIP(r *http.Request) string {
	if kg.header != "" {
		if ip := parseIP(r.Header.Get(kg.header)); ip != "" {
			return ip
		}
	}

	if kg.trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := parseIP(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := parseIP(host); ip != "" {
		return ip
	}
	return host
}

// Key builds the counter key for r.
func (kg *KeyGenerator) Key(r *http.Request) (string, bool) {
	ip := kg.ClientIP(r)
	if ip == "" {
		return "", false
	}
	return KeyPrefix + ip, true
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
