package connectivity

import (
	"net"
	"sync"
	"time"

	"github.com/apex/log"
)

// Prober answers "can we reach the replica store right now?" before a code
// path is chosen. The answer is derived from local interface state only; it
// is never a guarantee the remote store itself is reachable. A failing probe
// reports online (fail-open) so an unreliable probe cannot starve reads.
type Prober struct {
	// interfaces is swappable for tests; defaults to net.Interfaces.
	interfaces func() ([]net.Interface, error)

	cacheTTL time.Duration

	mu        sync.Mutex
	cachedAt  time.Time
	cachedVal bool
}

func NewProber() *Prober {
	return &Prober{
		interfaces: net.Interfaces,
		cacheTTL:   3 * time.Second,
	}
}

// IsOnline reports whether at least one non-loopback interface is up and has
// an address. It never fails; probe errors are treated as online.
func (p *Prober) IsOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.cachedAt) < p.cacheTTL {
		return p.cachedVal
	}

	p.cachedVal = p.probe()
	p.cachedAt = time.Now()
	return p.cachedVal
}

func (p *Prober) probe() bool {
	ifaces, err := p.interfaces()
	if err != nil {
		log.Warnf("Network probe failed, assuming online: %v", err)
		return true
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			log.Warnf("Failed to read addresses for %s, assuming online: %v", iface.Name, err)
			return true
		}
		if len(addrs) > 0 {
			return true
		}
	}
	return false
}
