// Package geo is the narrow seam to the geolocation collaborator. The
// coordinator only ever needs a display string for analytics rows, so
// the real lookup service stays behind this interface.
package geo

import (
	"net"
	"strings"
)

// Locator resolves a client address to a coarse location label.
type Locator interface {
	Locate(remoteAddr string) string
}

// StaticLocator is the default resolver: it distinguishes local traffic
// and labels everything else unknown. A geo-IP backed Locator can be
// swapped in without touching the core.
type StaticLocator struct{}

func (StaticLocator) Locate(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}

	ip := net.ParseIP(strings.TrimSpace(host))
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return "local"
	}

	return "unknown"
}
