package net

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/hashicorp/mdns"
)

const serviceType = "_collabboard._tcp"

// Host is a board found on the LAN.
type Host struct {
	Name string
	Addr string
	Room string
}

// Link is the share link for the discovered board.
func (h Host) Link() string {
	return ShareScheme + h.Addr + "/" + h.Room
}

// Advertise announces a hosted room on the LAN. The room code travels in
// the TXT record. Shut the returned server down when the host stops.
func Advertise(room string, port int) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}
	info := []string{"room=" + room}
	service, err := mdns.NewMDNSService(host, serviceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	glog.Infof("[mdns] advertising room %s on port %d\n", room, port)
	return server, nil
}

// Browse looks for advertised rooms for the given duration and calls found
// for each one.
func Browse(timeout time.Duration, found func(Host)) error {
	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if h, ok := hostFromEntry(e); ok {
				found(h)
			}
		}
	}()
	params := mdns.DefaultParams(serviceType)
	params.Entries = entries
	params.Timeout = timeout
	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return fmt.Errorf("mDNS lookup failed: %w", err)
	}
	return nil
}

func hostFromEntry(e *mdns.ServiceEntry) (Host, bool) {
	if e.AddrV4 == nil || e.Port == 0 {
		return Host{}, false
	}
	h := Host{
		Name: strings.TrimSuffix(e.Name, "."+serviceType+".local."),
		Addr: fmt.Sprintf("%s:%d", e.AddrV4.String(), e.Port),
	}
	for _, field := range e.InfoFields {
		if room, ok := strings.CutPrefix(field, "room="); ok {
			h.Room, ok = NormalizeRoom(room)
			if !ok {
				return Host{}, false
			}
		}
	}
	return h, h.Room != ""
}
