package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/clambin/go-common/slackbot"
	"github.com/clambin/radialight-monitor/internal/poller"
	"github.com/clambin/radialight-monitor/pkg/radialight"
	"github.com/slack-go/slack"
)

const (
	minTemperature = 5.0
	maxTemperature = 30.0
)

type Bot struct {
	Radialight ZoneSetter
	slack      SlackBot
	poller     poller.Poller
	logger     *slog.Logger
	lock       sync.RWMutex
	update     poller.Update
	updated    bool
}

type ZoneSetter interface {
	SetZone(ctx context.Context, zoneID string, settings radialight.ZoneSettings) error
	SetProductLight(ctx context.Context, productID string, on bool) error
}

type SlackBot interface {
	Add(commands slackbot.Commands)
	Run(ctx context.Context) error
	Send(channel string, attachments []slack.Attachment) error
}

func New(radialightClient ZoneSetter, slackBot SlackBot, p poller.Poller, logger *slog.Logger) *Bot {
	b := Bot{
		Radialight: radialightClient,
		slack:      slackBot,
		poller:     p,
		logger:     logger,
	}
	slackBot.Add(slackbot.Commands{
		"zones":   slackbot.HandlerFunc(b.ReportZones),
		"energy":  slackbot.HandlerFunc(b.ReportEnergy),
		"set":     slackbot.HandlerFunc(b.SetZone),
		"light":   slackbot.HandlerFunc(b.SetLight),
		"refresh": slackbot.HandlerFunc(b.DoRefresh),
	})
	return &b
}

func (b *Bot) Run(ctx context.Context) error {
	b.logger.Debug("started")
	defer b.logger.Debug("stopped")

	ch := b.poller.Subscribe()
	defer b.poller.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			b.lock.Lock()
			b.update = update
			b.updated = true
			b.lock.Unlock()
		}
	}
}

var errNoUpdate = errors.New("no updates yet. please check back later")

// snapshot returns the last known snapshot. If there isn't one, it triggers a refresh.
func (b *Bot) snapshot() (*poller.Snapshot, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	if !b.updated || b.update.Snapshot == nil {
		b.poller.Refresh()
		return nil, errNoUpdate
	}
	return b.update.Snapshot, nil
}

func failure(err error) []slack.Attachment {
	return []slack.Attachment{{
		Color: "bad",
		Text:  radialight.Redact(err.Error()),
	}}
}

func (b *Bot) ReportZones(_ context.Context, _ ...string) []slack.Attachment {
	snapshot, err := b.snapshot()
	if err != nil {
		return failure(err)
	}

	text := make([]string, 0, len(snapshot.Zones))
	for _, zone := range snapshot.Zones {
		text = append(text, zoneStatus(zone))
	}

	if len(text) == 0 {
		return failure(errors.New("no zones found"))
	}
	slices.Sort(text)
	return []slack.Attachment{{
		Color: "good",
		Title: "zones:",
		Text:  strings.Join(text, "\n"),
	}}
}

func zoneStatus(zone radialight.Zone) string {
	temperature := "n/a"
	if t, ok := zone.Temperature(); ok {
		temperature = fmt.Sprintf("%.1fºC", t)
	}
	var state []string
	if zone.ComfortTemperature != nil {
		state = append(state, fmt.Sprintf("comfort: %.1f", zone.ComfortTemperature.Celsius()))
	}
	if zone.ECOTemperature != nil {
		state = append(state, fmt.Sprintf("eco: %.1f", zone.ECOTemperature.Celsius()))
	}
	if zone.Warming() {
		state = append(state, "warming")
	}
	if zone.InOverride() {
		state = append(state, "override")
	}
	if offline := len(zone.Products) - len(zone.OnlineProducts()); offline > 0 {
		state = append(state, strconv.Itoa(offline)+" offline")
	}
	status := zone.Name + ": " + temperature
	if len(state) > 0 {
		status += " (" + strings.Join(state, ", ") + ")"
	}
	return status
}

func (b *Bot) ReportEnergy(_ context.Context, _ ...string) []slack.Attachment {
	snapshot, err := b.snapshot()
	if err != nil {
		return failure(err)
	}

	scopes := snapshot.Scopes()
	if len(scopes) == 0 {
		return failure(errors.New("usage tracking is disabled"))
	}

	text := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		text = append(text, scopeStatus(snapshot, scope))
	}
	return []slack.Attachment{{
		Color: "good",
		Title: "energy:",
		Text:  strings.Join(text, "\n"),
	}}
}

func scopeStatus(snapshot *poller.Snapshot, scope poller.Scope) string {
	label := string(scope)
	if productID, ok := scope.ProductID(); ok {
		for _, product := range snapshot.Products {
			if product.ID == productID && product.Name != "" {
				label = product.Name
			}
		}
	}
	usage, ok := snapshot.Usage[scope]
	if !ok {
		return label + ": unavailable"
	}
	status := fmt.Sprintf("%s: total %.2f kWh, today %s, yesterday %s, last 24h %s",
		label,
		usage.Energy.Total,
		usage.Windows.Today,
		usage.Windows.Yesterday,
		usage.Windows.Rolling24h,
	)
	if _, failed := snapshot.FetchErrors[scope]; failed {
		status += " (stale)"
	}
	return status
}

// SetZone changes the comfort or eco temperature of a zone.
func (b *Bot) SetZone(ctx context.Context, args ...string) []slack.Attachment {
	snapshot, err := b.snapshot()
	if err != nil {
		return failure(err)
	}

	cmd, err := parseSetCommand(snapshot, args...)
	if err != nil {
		return failure(fmt.Errorf("invalid command: %w", err))
	}

	settings := cmd.zone.Settings()
	if cmd.eco {
		settings.ECOTemperature = radialight.FromCelsius(cmd.temperature)
	} else {
		settings.ComfortTemperature = radialight.FromCelsius(cmd.temperature)
	}
	if err = b.Radialight.SetZone(ctx, cmd.zone.ID, settings); err != nil {
		b.logger.Warn("failed to set zone", slog.String("zone", cmd.zone.Name), slog.Any("err", err))
		return failure(fmt.Errorf("failed to set %s: %w", cmd.zone.Name, err))
	}

	b.poller.Refresh()

	mode := "comfort"
	if cmd.eco {
		mode = "eco"
	}
	return []slack.Attachment{{
		Color: "good",
		Text:  fmt.Sprintf("Setting %s temperature for %s to %.1fºC", mode, cmd.zone.Name, cmd.temperature),
	}}
}

type setCommand struct {
	zone        radialight.Zone
	eco         bool
	temperature float64
}

func parseSetCommand(snapshot *poller.Snapshot, args ...string) (setCommand, error) {
	var cmd setCommand
	if len(args) < 2 || len(args) > 3 {
		return cmd, errors.New("missing parameters\nUsage: set <zone> [comfort|eco] <temperature>")
	}

	var ok bool
	if cmd.zone, ok = snapshot.ZoneByName(args[0]); !ok {
		return cmd, fmt.Errorf("invalid zone name: %q", args[0])
	}

	value := args[1]
	if len(args) == 3 {
		switch args[1] {
		case "comfort":
		case "eco":
			cmd.eco = true
		default:
			return cmd, fmt.Errorf("invalid mode: %q", args[1])
		}
		value = args[2]
	}

	var err error
	if cmd.temperature, err = strconv.ParseFloat(value, 64); err != nil {
		return cmd, fmt.Errorf("invalid target temperature: %q", value)
	}
	if cmd.temperature < minTemperature || cmd.temperature > maxTemperature {
		return cmd, fmt.Errorf("target temperature must be between %.0f and %.0f", minTemperature, maxTemperature)
	}
	return cmd, nil
}

// SetLight switches the LED of all products in a zone on or off.
func (b *Bot) SetLight(ctx context.Context, args ...string) []slack.Attachment {
	snapshot, err := b.snapshot()
	if err != nil {
		return failure(err)
	}

	if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
		return failure(errors.New("invalid command: missing parameters\nUsage: light <zone> on|off"))
	}
	zone, ok := snapshot.ZoneByName(args[0])
	if !ok {
		return failure(fmt.Errorf("invalid command: invalid zone name: %q", args[0]))
	}

	on := args[1] == "on"
	for _, product := range zone.Products {
		if err = b.Radialight.SetProductLight(ctx, product.ID, on); err != nil {
			b.logger.Warn("failed to set light", slog.String("product", product.ID), slog.Any("err", err))
			return failure(fmt.Errorf("failed to set light for %s: %w", zone.Name, err))
		}
	}

	b.poller.Refresh()
	return []slack.Attachment{{
		Color: "good",
		Text:  "Switching light " + args[1] + " for " + zone.Name,
	}}
}

func (b *Bot) DoRefresh(_ context.Context, _ ...string) []slack.Attachment {
	b.poller.Refresh()
	return []slack.Attachment{{
		Text: "refreshing Radialight data",
	}}
}
