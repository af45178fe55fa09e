// Package netinfo discovers the host's own addresses.
package netinfo

import (
	"net"
)

// Loopback is returned by MyIP when no external IPv4 address exists.
const Loopback = "127.0.0.1"

// MyIP returns the first non-loopback IPv4 address of an up interface, or
// Loopback if there is none.
func MyIP() string {
	for _, ip := range interfaceIPs() {
		if v4 := ip.To4(); v4 != nil && !v4.IsLoopback() {
			return v4.String()
		}
	}
	return Loopback
}

// IsLocal reports whether host names this machine: the address MyIP reports,
// any interface address, a loopback address or the unspecified address.
// Host names other than "localhost" are not resolved.
func IsLocal(host string) bool {
	if host == "localhost" || host == MyIP() {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	for _, own := range interfaceIPs() {
		if own.Equal(ip) {
			return true
		}
	}
	return false
}

func interfaceIPs() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			switch v := a.(type) {
			case *net.IPNet:
				ips = append(ips, v.IP)
			case *net.IPAddr:
				ips = append(ips, v.IP)
			}
		}
	}
	return ips
}
