// Package allocator assigns non-conflicting network identity (game port,
// RCON port, cluster id) when a server is provisioned.
package allocator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/steamfleet/shepherd/pkg/types"
)

// NewCluster is the sentinel a caller passes to request a fresh cluster id.
const NewCluster = "new"

// Allocation is the network identity handed to a new server.
type Allocation struct {
	Port     int
	RconPort int
}

// Allocator scans upward from configured base ports, skipping any port
// already used by an existing server. Allocations are serialized: the
// allocator reads the full server list to decide the next free port, so only
// one allocation may be in flight at a time.
type Allocator struct {
	mu           sync.Mutex
	basePort     int
	baseRconPort int
}

// New creates an allocator with the given base ports.
func New(basePort, baseRconPort int) *Allocator {
	return &Allocator{basePort: basePort, baseRconPort: baseRconPort}
}

// Allocate returns the lowest free game and RCON ports at or above the
// configured bases, given the current server list. Game and RCON ports are
// scanned independently; a port used by any existing server in either role
// is skipped.
func (a *Allocator) Allocate(existing []types.ServerIdentity) Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()

	used := make(map[int]bool, len(existing)*2)
	for _, s := range existing {
		used[s.Port] = true
		used[s.RconPort] = true
	}

	return Allocation{
		Port:     nextFree(a.basePort, used),
		RconPort: nextFree(a.baseRconPort, used),
	}
}

func nextFree(base int, used map[int]bool) int {
	port := base
	for used[port] {
		port++
	}
	return port
}

// ClusterID returns the given id verbatim, or a fresh random identifier when
// none is supplied or the caller asked for a new cluster. Randomness, not
// cryptographic uniqueness, is what matters here: a 122-bit space is plenty
// for any realistic fleet.
func (a *Allocator) ClusterID(existing string) string {
	if existing == "" || existing == NewCluster {
		return uuid.New().String()
	}
	return existing
}
