package mdns

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/require"
)

func TestLocalIPs(t *testing.T) {
	for _, ip := range LocalIPs() {
		require.False(t, ip.IsLoopback(), ip.String())
	}
}

func TestNewService(t *testing.T) {
	ips := []net.IP{net.ParseIP("192.168.1.20")}
	service, err := NewService("garden", 8554, ips, []string{"version=0.3.0"})
	require.Nil(t, err)
	require.Equal(t, "garden", service.Instance)
	require.Equal(t, Service, service.Service)
	require.Equal(t, "garden.local.", service.HostName)
	require.Equal(t, 8554, service.Port)
}

func TestNewEntry(t *testing.T) {
	entry := newEntry(&mdns.ServiceEntry{
		Name:       "garden._picamera._tcp.local.",
		Host:       "garden.local.",
		AddrV4:     net.ParseIP("192.168.1.20"),
		Port:       8554,
		InfoFields: []string{"version=0.3.0"},
	})
	require.Equal(t, "192.168.1.20:8554", entry.Addr)
	require.Equal(t, []string{"version=0.3.0"}, entry.Info)
}
