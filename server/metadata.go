package server

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/jrsteele09/go-device-sessions/device"
)

// requestMetadata records the connection metadata a device fingerprint is derived from.
func (s *Server) requestMetadata(r *http.Request) device.Metadata {
	return device.Metadata{
		ClientDescriptor: r.UserAgent(),
		NetworkAddress:   s.clientIP(r),
	}
}

// clientIP returns the peer address. When the peer is a trusted proxy the
// X-Forwarded-For chain is walked from the right and the first hop that is not
// itself a trusted proxy is the client.
func (s *Server) clientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil || !s.trustedProxies.Contains(addr) {
		return peer
	}

	client := peer
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		addr, err := netip.ParseAddr(hop)
		if err != nil {
			break
		}
		client = addr.Unmap().String()
		if !s.trustedProxies.Contains(addr) {
			break
		}
	}
	return client
}
