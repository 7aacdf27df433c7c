// Package server discovers the host identity pushed to room creators and
// joiners so clients on the same network can show where the room lives.
package server

import (
	"net"
	"os"

	"github.com/salachat/server/internal/registry"
)

// HostInfo returns the machine's hostname and its first non-loopback IPv4
// address. Falls back to loopback when no suitable interface is up.
func HostInfo() registry.HostInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return registry.HostInfo{
		IP:       localIP(),
		Hostname: hostname,
	}
}

func localIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if ip4 := ip.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}

	return "127.0.0.1"
}
