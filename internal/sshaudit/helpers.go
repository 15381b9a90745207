package sshaudit

import (
	"net"
	"net/http"
)

// RequestIP returns the client address recorded for a terminal event.
// Proxy headers are resolved upstream by chi's RealIP middleware, which
// rewrites RemoteAddr, so only RemoteAddr is consulted here. The address
// may arrive with or without a port.
func RequestIP(r *http.Request) string {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return addr
}
