package mdns

import (
	"net"
	"os"
	"strings"

	"github.com/hashicorp/mdns"
)

const Service = "_picamera._tcp"

// NewService describes instance with API on port. Empty name is hostname.
func NewService(name string, port int, ips []net.IP, txt []string) (*mdns.MDNSService, error) {
	if name == "" {
		name, _ = os.Hostname()
		if i := strings.IndexByte(name, '.'); i > 0 {
			name = name[:i]
		}
	}

	if ips == nil {
		ips = LocalIPs()
	}

	// important to set hostName manually with any value and `.local.` tail
	// important to set ips manually
	return mdns.NewMDNSService(name, Service, "", name+".local.", port, ips, txt)
}

func NewServer(service *mdns.MDNSService) (*mdns.Server, error) {
	return mdns.NewServer(&mdns.Config{Zone: service})
}

func LocalIPs() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue // interface down
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue // loopback interface
		}

		var addrs []net.Addr
		if addrs, err = iface.Addrs(); err != nil {
			continue
		}
		for _, addr := range addrs {
			switch addr := addr.(type) {
			case *net.IPNet:
				ips = append(ips, addr.IP)
			case *net.IPAddr:
				ips = append(ips, addr.IP)
			}
		}
	}
	return ips
}
