package mdns

import (
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

type Entry struct {
	Name string   `json:"name"`
	Host string   `json:"host"`
	Addr string   `json:"addr,omitempty"`
	Info []string `json:"info,omitempty"`
}

// Browse collects instances of service answered during timeout.
func Browse(timeout time.Duration) ([]*Entry, error) {
	ch := make(chan *mdns.ServiceEntry, 16)
	params := &mdns.QueryParam{
		Service:     Service,
		Timeout:     timeout,
		Entries:     ch,
		DisableIPv6: true,
	}

	var entries []*Entry
	done := make(chan struct{})

	go func() {
		for e := range ch {
			entries = append(entries, newEntry(e))
		}
		close(done)
	}()

	err := mdns.Query(params)
	close(ch)
	<-done

	return entries, err
}

func newEntry(e *mdns.ServiceEntry) *Entry {
	entry := &Entry{Name: e.Name, Host: e.Host, Info: e.InfoFields}
	if e.AddrV4 != nil {
		entry.Addr = net.JoinHostPort(e.AddrV4.String(), strconv.Itoa(e.Port))
	}
	return entry
}
