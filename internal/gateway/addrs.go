package gateway

import (
	"fmt"
	"net"
	"strings"
)

// LocalAddresses returns the IPv4 addresses this node can be reached on.
//
// Loopback addresses are always skipped. Addresses in 172.x, where docker
// bridges live, are skipped unless includeBridges is set. Interfaces that
// fail to report their addresses are ignored.
func LocalAddresses(includeBridges bool) ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ip := usableIPv4(a, includeBridges); ip != "" {
				out = append(out, ip)
			}
		}
	}
	return out, nil
}

// usableIPv4 returns the dotted form of a when it should be advertised.
func usableIPv4(a net.Addr, includeBridges bool) string {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	default:
		return ""
	}

	ip4 := ip.To4()
	if ip4 == nil || ip4.IsLoopback() || ip4.IsUnspecified() {
		return ""
	}
	s := ip4.String()
	if !includeBridges && strings.HasPrefix(s, "172.") {
		return ""
	}
	return s
}
