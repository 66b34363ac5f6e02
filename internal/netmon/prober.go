package netmon

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

const probeTimeout = 5 * time.Second

// NetProber samples real connectivity: interface state decides the link
// type, and a HEAD request against the health URL decides reachability.
type NetProber struct {
	healthURL string
	client    *http.Client
}

// NewNetProber creates a prober against the given health URL.
func NewNetProber(healthURL string) *NetProber {
	return &NetProber{
		healthURL: healthURL,
		client:    &http.Client{Timeout: probeTimeout},
	}
}

// Probe inspects network interfaces and the health endpoint.
func (p *NetProber) Probe(ctx context.Context) Status {
	status := Status{LinkType: LinkNone, SampledAt: time.Now()}

	link := activeLink()
	if link == LinkNone {
		return status
	}
	status.Connected = true
	status.LinkType = link
	status.InternetReachable = p.reachable(ctx)
	return status
}

func (p *NetProber) reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// activeLink classifies the first up, non-loopback interface that holds a
// unicast address. Interface names follow the usual kernel prefixes.
func activeLink() LinkType {
	ifaces, err := net.Interfaces()
	if err != nil {
		return LinkNone
	}

	best := LinkNone
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}

		link := classifyInterface(iface.Name)
		if rank(link) > rank(best) {
			best = link
		}
	}
	return best
}

func classifyInterface(name string) LinkType {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "wl"):
		return LinkWifi
	case strings.HasPrefix(name, "en"), strings.HasPrefix(name, "eth"):
		return LinkEthernet
	case strings.HasPrefix(name, "wwan"), strings.HasPrefix(name, "rmnet"), strings.HasPrefix(name, "ppp"):
		return LinkCellular
	default:
		return LinkOther
	}
}

func rank(link LinkType) int {
	switch link {
	case LinkEthernet:
		return 4
	case LinkWifi:
		return 3
	case LinkCellular:
		return 2
	case LinkOther:
		return 1
	default:
		return 0
	}
}
