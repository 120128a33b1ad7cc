package poller

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/clambin/radialight-monitor/internal/energy"
	"github.com/clambin/radialight-monitor/pkg/radialight"
)

// Scope identifies a usage series: the account as a whole, or a single product.
type Scope string

const AccountScope Scope = "account"

const productScopePrefix = "product:"

func ProductScope(productID string) Scope {
	return Scope(productScopePrefix + productID)
}

// ProductID returns the product ID of a product scope.
func (s Scope) ProductID() (string, bool) {
	return strings.CutPrefix(string(s), productScopePrefix)
}

// ScopeUsage is the energy accounting of one scope at the end of a cycle.
type ScopeUsage struct {
	// Samples holds the known history of the scope, sorted by timestamp.
	Samples []energy.Sample `json:"-"`
	Energy  energy.State    `json:"energy"`
	Windows energy.Windows  `json:"windows"`
	// Dropped counts the samples of the last successful fetch that could not be parsed.
	Dropped int `json:"dropped"`
}

// Snapshot is the result of one complete poll cycle. A published Snapshot is never modified.
type Snapshot struct {
	CycleID     string
	Timestamp   time.Time
	Zones       []radialight.Zone
	Products    []radialight.Product
	Usage       map[Scope]ScopeUsage
	FetchErrors map[Scope]error
	// DroppedEntries counts the zones & products that were discarded from the listing.
	DroppedEntries int
	Warnings       []string
}

// Zone returns the zone with the specified ID.
func (s *Snapshot) Zone(id string) (radialight.Zone, bool) {
	return radialight.Listing{Zones: s.Zones}.Zone(id)
}

// ZoneByName returns the zone with the specified name.
func (s *Snapshot) ZoneByName(name string) (radialight.Zone, bool) {
	return radialight.Listing{Zones: s.Zones}.ZoneByName(name)
}

// Scopes returns all scopes in the snapshot, successful or not, in sorted order.
func (s *Snapshot) Scopes() []Scope {
	scopes := make(map[Scope]struct{}, len(s.Usage)+len(s.FetchErrors))
	for scope := range s.Usage {
		scopes[scope] = struct{}{}
	}
	for scope := range s.FetchErrors {
		scopes[scope] = struct{}{}
	}
	return slices.Sorted(maps.Keys(scopes))
}

// DroppedSamples returns the total number of unparseable samples across all scopes.
func (s *Snapshot) DroppedSamples() int {
	var dropped int
	for _, usage := range s.Usage {
		dropped += usage.Dropped
	}
	return dropped
}

func (s *Snapshot) LogValue() slog.Value {
	if s == nil {
		return slog.StringValue("none")
	}
	return slog.GroupValue(
		slog.String("cycle", s.CycleID),
		slog.Int("zones", len(s.Zones)),
		slog.Int("products", len(s.Products)),
		slog.Int("scopes", len(s.Usage)),
		slog.Int("fetchErrors", len(s.FetchErrors)),
		slog.Int("warnings", len(s.Warnings)),
	)
}

// Update is what the Poller publishes to its subscribers. If the cycle failed, Err is set and Snapshot holds
// the last successful snapshot (nil if there hasn't been one yet).
type Update struct {
	Snapshot *Snapshot
	Err      error
}
