package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/clambin/radialight-monitor/internal/energy"
	"github.com/clambin/radialight-monitor/internal/poller"
	"github.com/clambin/radialight-monitor/pkg/radialight"
	"github.com/gorilla/mux"
)

const lastPoints = 5

// TokenStatuser reports the state of the bearer token.
type TokenStatuser interface {
	Status() radialight.TokenStatus
}

// Health serves the health & diagnostics endpoints, based on the last update published by the poller.
type Health struct {
	poller.Poller
	tokens  TokenStatuser
	config  map[string]any
	logger  *slog.Logger
	update  poller.Update
	updated bool
	lock    sync.RWMutex
}

// New returns a new Health. Any secrets in config are redacted before they are stored.
func New(p poller.Poller, tokens TokenStatuser, config map[string]any, logger *slog.Logger) *Health {
	return &Health{
		Poller: p,
		tokens: tokens,
		config: radialight.RedactMap(config),
		logger: logger,
	}
}

func (h *Health) Run(ctx context.Context) error {
	h.logger.Debug("started")
	defer h.logger.Debug("stopped")

	ch := h.Poller.Subscribe()
	defer h.Poller.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			h.lock.Lock()
			h.update = update
			h.updated = true
			h.lock.Unlock()
		}
	}
}

func (h *Health) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/diagnostics", h.diagnostics).Methods(http.MethodGet)
	r.HandleFunc("/zones", h.zones).Methods(http.MethodGet)
	r.HandleFunc("/zones/{id}", h.zone).Methods(http.MethodGet)
	return r
}

func (h *Health) getUpdate() (poller.Update, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return h.update, h.updated
}

// lastUpdate returns the last update. If there hasn't been one, it writes a 503 and triggers a refresh.
func (h *Health) lastUpdate(w http.ResponseWriter) (poller.Update, bool) {
	update, ok := h.getUpdate()
	if !ok {
		http.Error(w, "no update yet", http.StatusServiceUnavailable)
		h.Poller.Refresh()
	}
	return update, ok
}

type healthView struct {
	Status      string            `json:"status"`
	CycleID     string            `json:"cycle,omitempty"`
	LastUpdate  *time.Time        `json:"last_update,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	FetchErrors map[string]string `json:"fetch_errors,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
}

func (h *Health) health(w http.ResponseWriter, _ *http.Request) {
	update, ok := h.lastUpdate(w)
	if !ok {
		return
	}

	view := healthView{Status: "ok"}
	if snapshot := update.Snapshot; snapshot != nil {
		view.CycleID = snapshot.CycleID
		view.LastUpdate = &snapshot.Timestamp
		view.FetchErrors = fetchErrors(snapshot)
		view.Warnings = redactAll(snapshot.Warnings)
		if len(view.FetchErrors) > 0 || len(view.Warnings) > 0 {
			view.Status = "degraded"
		}
	}
	statusCode := http.StatusOK
	if update.Err != nil {
		view.Status = "failing"
		view.LastError = radialight.Redact(update.Err.Error())
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSON(w, statusCode, view)
}

type diagnosticsView struct {
	Config         map[string]any            `json:"config"`
	Token          *radialight.TokenStatus   `json:"token,omitempty"`
	CycleID        string                    `json:"cycle,omitempty"`
	LastUpdate     *time.Time                `json:"last_update,omitempty"`
	LastError      string                    `json:"last_error,omitempty"`
	Zones          int                       `json:"zones"`
	Products       int                       `json:"products"`
	DroppedEntries int                       `json:"dropped_entries"`
	Usage          map[string]usageDiagnosis `json:"usage"`
	FetchErrors    map[string]string         `json:"fetch_errors,omitempty"`
	Warnings       []string                  `json:"warnings,omitempty"`
}

type usageDiagnosis struct {
	Points         int             `json:"points"`
	FirstTimestamp *time.Time      `json:"first_timestamp,omitempty"`
	LastTimestamp  *time.Time      `json:"last_timestamp,omitempty"`
	LastPoints     []energy.Sample `json:"last_points"`
	Dropped        int             `json:"dropped"`
	Energy         energy.State    `json:"energy"`
	Windows        energy.Windows  `json:"windows"`
}

func (h *Health) diagnostics(w http.ResponseWriter, _ *http.Request) {
	update, ok := h.lastUpdate(w)
	if !ok {
		return
	}

	view := diagnosticsView{
		Config: h.config,
		Usage:  make(map[string]usageDiagnosis),
	}
	if h.tokens != nil {
		status := h.tokens.Status()
		view.Token = &status
	}
	if update.Err != nil {
		view.LastError = radialight.Redact(update.Err.Error())
	}
	if snapshot := update.Snapshot; snapshot != nil {
		view.CycleID = snapshot.CycleID
		view.LastUpdate = &snapshot.Timestamp
		view.Zones = len(snapshot.Zones)
		view.Products = len(snapshot.Products)
		view.DroppedEntries = snapshot.DroppedEntries
		view.FetchErrors = fetchErrors(snapshot)
		view.Warnings = redactAll(snapshot.Warnings)
		for scope, usage := range snapshot.Usage {
			view.Usage[string(scope)] = diagnoseUsage(usage)
		}
	}
	h.writeJSON(w, http.StatusOK, view)
}

func diagnoseUsage(usage poller.ScopeUsage) usageDiagnosis {
	d := usageDiagnosis{
		Points:     len(usage.Samples),
		LastPoints: usage.Samples[max(0, len(usage.Samples)-lastPoints):],
		Dropped:    usage.Dropped,
		Energy:     usage.Energy,
		Windows:    usage.Windows,
	}
	if len(usage.Samples) > 0 {
		d.FirstTimestamp = &usage.Samples[0].Timestamp
		d.LastTimestamp = &usage.Samples[len(usage.Samples)-1].Timestamp
	}
	return d
}

type zoneView struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Temperature        *float64 `json:"temperature,omitempty"`
	MinTemperature     *float64 `json:"min_temperature,omitempty"`
	MaxTemperature     *float64 `json:"max_temperature,omitempty"`
	ComfortTemperature *float64 `json:"comfort_temperature,omitempty"`
	ECOTemperature     *float64 `json:"eco_temperature,omitempty"`
	Online             int      `json:"online"`
	Offline            int      `json:"offline"`
	Warming            bool     `json:"warming"`
	Override           bool     `json:"override"`
}

func makeZoneView(zone radialight.Zone) zoneView {
	online := len(zone.OnlineProducts())
	view := zoneView{
		ID:       zone.ID,
		Name:     zone.Name,
		Online:   online,
		Offline:  len(zone.Products) - online,
		Warming:  zone.Warming(),
		Override: zone.InOverride(),
	}
	if t, ok := zone.Temperature(); ok {
		view.Temperature = &t
	}
	if low, high, ok := zone.TemperatureRange(); ok {
		view.MinTemperature = &low
		view.MaxTemperature = &high
	}
	if zone.ComfortTemperature != nil {
		t := zone.ComfortTemperature.Celsius()
		view.ComfortTemperature = &t
	}
	if zone.ECOTemperature != nil {
		t := zone.ECOTemperature.Celsius()
		view.ECOTemperature = &t
	}
	return view
}

func (h *Health) zones(w http.ResponseWriter, _ *http.Request) {
	update, ok := h.lastUpdate(w)
	if !ok {
		return
	}
	views := make([]zoneView, 0)
	if update.Snapshot != nil {
		for _, zone := range update.Snapshot.Zones {
			views = append(views, makeZoneView(zone))
		}
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Health) zone(w http.ResponseWriter, r *http.Request) {
	update, ok := h.lastUpdate(w)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	var zone radialight.Zone
	if update.Snapshot != nil {
		zone, ok = update.Snapshot.Zone(id)
	}
	if !ok {
		http.Error(w, "zone not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		zoneView
		Products []radialight.Product `json:"products"`
	}{
		zoneView: makeZoneView(zone),
		Products: zone.Products,
	})
}

func (h *Health) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		h.logger.Warn("failed to encode response", slog.Any("err", err))
	}
}

func fetchErrors(snapshot *poller.Snapshot) map[string]string {
	if len(snapshot.FetchErrors) == 0 {
		return nil
	}
	errs := make(map[string]string, len(snapshot.FetchErrors))
	for scope, err := range snapshot.FetchErrors {
		errs[string(scope)] = radialight.Redact(err.Error())
	}
	return errs
}

func redactAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	redacted := make([]string, len(values))
	for i, v := range values {
		redacted[i] = radialight.Redact(v)
	}
	return redacted
}
