package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller's address. Forwarding headers are honoured only
// when trustForwarded is set, since any client can send them.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			for ip := range strings.SplitSeq(forwarded, ",") {
				if parsed := parseIP(ip); parsed != "" {
					return parsed
				}
			}
		}
		if parsed := parseIP(r.Header.Get("X-Real-IP")); parsed != "" {
			return parsed
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}
