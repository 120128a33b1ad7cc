package radialight

import (
	"encoding/json"
	"log/slog"
	"math"
	"slices"
)

// DeciCelsius is a temperature in tenths of a degree Celsius, as used by the Radialight API.
type DeciCelsius float64

func (t DeciCelsius) Celsius() float64 {
	return float64(t) / 10
}

// FromCelsius converts a temperature in degrees Celsius, rounding to the nearest tenth.
func FromCelsius(celsius float64) DeciCelsius {
	return DeciCelsius(math.Round(celsius * 10))
}

type Zone struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Products           []Product      `json:"products"`
	Program            Program        `json:"program"`
	Mode               int            `json:"mode"`
	InfoMode           int            `json:"infoMode"`
	Window             int            `json:"window"`
	PIR                int            `json:"pir"`
	Lock               int            `json:"lock"`
	ECOTemperature     *DeciCelsius   `json:"tECO,omitempty"`
	ComfortTemperature *DeciCelsius   `json:"tComfort,omitempty"`
	Alerts             []any          `json:"alert,omitempty"`
	Override           map[string]any `json:"override,omitempty"`
	LastWeekUsage      *float64       `json:"lastWeekUsage,omitempty"`
}

type Program struct {
	ID string `json:"id,omitempty"`
}

type Product struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Model               string       `json:"model,omitempty"`
	Serial              string       `json:"serial,omitempty"`
	ZoneID              string       `json:"zoneId,omitempty"`
	Offline             *bool        `json:"isOffline,omitempty"`
	DetectedTemperature *DeciCelsius `json:"detectedTemperature,omitempty"`
	Warming             bool         `json:"isWarming"`
	InOverride          bool         `json:"isInOverride"`
	LedOn               *bool        `json:"isLedOn,omitempty"`
}

// Online returns true if the product reported itself as online. Products that don't report their status are offline.
func (p Product) Online() bool {
	return p.Offline != nil && !*p.Offline
}

// OnlineProducts returns the zone's products that are online.
func (z Zone) OnlineProducts() []Product {
	online := make([]Product, 0, len(z.Products))
	for _, p := range z.Products {
		if p.Online() {
			online = append(online, p)
		}
	}
	return online
}

// Temperature returns the average detected temperature of the zone's online products.
// If no online product reports a temperature, it falls back to the first product.
func (z Zone) Temperature() (float64, bool) {
	var total float64
	var count int
	for _, p := range z.OnlineProducts() {
		if p.DetectedTemperature != nil {
			total += p.DetectedTemperature.Celsius()
			count++
		}
	}
	if count > 0 {
		return total / float64(count), true
	}
	if len(z.Products) > 0 && z.Products[0].DetectedTemperature != nil {
		return z.Products[0].DetectedTemperature.Celsius(), true
	}
	return 0, false
}

// TemperatureRange returns the lowest and highest detected temperature of the zone's online products.
func (z Zone) TemperatureRange() (low float64, high float64, ok bool) {
	for _, p := range z.OnlineProducts() {
		if p.DetectedTemperature == nil {
			continue
		}
		t := p.DetectedTemperature.Celsius()
		if !ok || t < low {
			low = t
		}
		if !ok || t > high {
			high = t
		}
		ok = true
	}
	return low, high, ok
}

// Warming returns true if any online product in the zone is heating.
func (z Zone) Warming() bool {
	return slices.ContainsFunc(z.OnlineProducts(), func(p Product) bool { return p.Warming })
}

// InOverride returns true if the zone, or any of its products, reports an override.
func (z Zone) InOverride() bool {
	for _, value := range z.Override {
		if truthy(value) {
			return true
		}
	}
	return slices.ContainsFunc(z.Products, func(p Product) bool { return p.InOverride })
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

func (z Zone) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", z.ID),
		slog.String("name", z.Name),
		slog.Int("products", len(z.Products)),
		slog.Int("online", len(z.OnlineProducts())),
	)
}

// Listing is the normalized result of the zone listing.
type Listing struct {
	Zones    []Zone
	Products []Product
	// Dropped counts the zones and products that were discarded because they did not have an ID.
	Dropped int
	Errors  []error
}

// Zone returns the zone with the specified ID.
func (l Listing) Zone(id string) (Zone, bool) {
	for _, z := range l.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return Zone{}, false
}

// ZoneByName returns the zone with the specified name.
func (l Listing) ZoneByName(name string) (Zone, bool) {
	for _, z := range l.Zones {
		if z.Name == name {
			return z, true
		}
	}
	return Zone{}, false
}

type zonesResponse struct {
	Zones []json.RawMessage `json:"zones"`
}

func normalizeListing(response zonesResponse) Listing {
	var l Listing
	for _, raw := range response.Zones {
		var z Zone
		if err := json.Unmarshal(raw, &z); err != nil {
			l.Dropped++
			l.Errors = append(l.Errors, &DataError{Kind: MalformedEntry, Reason: "zone", Err: err})
			continue
		}
		if z.ID == "" {
			l.Dropped++
			l.Errors = append(l.Errors, &DataError{Kind: MalformedEntry, Reason: "zone without id"})
			continue
		}
		products := make([]Product, 0, len(z.Products))
		for _, p := range z.Products {
			if p.ID == "" {
				l.Dropped++
				l.Errors = append(l.Errors, &DataError{Kind: MalformedEntry, Reason: "product without id in zone " + z.ID})
				continue
			}
			p.ZoneID = z.ID
			products = append(products, p)
		}
		z.Products = products
		l.Zones = append(l.Zones, z)
		l.Products = append(l.Products, products...)
	}
	return l
}

// ZoneSettings is the full configuration payload accepted by the zone write endpoint.
type ZoneSettings struct {
	ProgramID          string      `json:"programId"`
	ECOTemperature     DeciCelsius `json:"tECO"`
	Window             int         `json:"window"`
	ComfortTemperature DeciCelsius `json:"tComfort"`
	Mode               int         `json:"mode"`
	PIR                int         `json:"pir"`
	Lock               int         `json:"lock"`
}

const (
	defaultECOTemperature     DeciCelsius = 100
	defaultComfortTemperature DeciCelsius = 200
)

// Settings returns the zone's current configuration, as expected by the zone write endpoint.
// Missing temperatures are replaced by the API's defaults.
func (z Zone) Settings() ZoneSettings {
	s := ZoneSettings{
		ProgramID:          z.Program.ID,
		ECOTemperature:     defaultECOTemperature,
		Window:             z.Window,
		ComfortTemperature: defaultComfortTemperature,
		Mode:               z.Mode,
		PIR:                z.PIR,
		Lock:               z.Lock,
	}
	if z.ECOTemperature != nil {
		s.ECOTemperature = *z.ECOTemperature
	}
	if z.ComfortTemperature != nil {
		s.ComfortTemperature = *z.ComfortTemperature
	}
	return s
}
