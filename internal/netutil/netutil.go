// SPDX-License-Identifier: MIT

// Package netutil resolves the host addresses restreamerd advertises to
// SRS and to API clients when --callback-host/--public-host are left at
// their auto-detect default: the outbound-facing local IP for the
// callback host SRS dials back into, and the first non-loopback
// interface address for the public host reported to API clients.
package netutil

import (
	"fmt"
	"net"
)

// OutboundIP returns the local address the kernel would pick to reach
// the public internet, by opening a UDP "connection" that never sends a
// packet (the standard Go trick for reading the routing table without
// a real dial). It's used to default --callback-host: the loopback-free
// address SRS's HTTP hook requests can reach this daemon on when SRS
// runs as a separate process on the same host or in the same network
// namespace.
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp", "203.0.113.1:80")
	if err != nil {
		return "", fmt.Errorf("determine outbound ip: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("determine outbound ip: unexpected local addr type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

// FirstNonLoopbackIP scans the host's network interfaces for the first
// up, non-loopback IPv4 address. It's used to default --public-host,
// the address advertised to API clients for constructing playback URLs.
func FirstNonLoopbackIP() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback interface address found")
}

// ResolveHost returns configured verbatim if non-empty, otherwise falls
// back to discover. Both --callback-host and --public-host share this
// "explicit overrides auto-detect" precedence.
func ResolveHost(configured string, discover func() (string, error)) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return discover()
}
