package bot

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/clambin/go-common/slackbot"
	"github.com/clambin/radialight-monitor/internal/energy"
	"github.com/clambin/radialight-monitor/internal/poller"
	"github.com/clambin/radialight-monitor/internal/poller/testutils"
	"github.com/clambin/radialight-monitor/pkg/radialight"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeSlackBot struct {
	slackbot.Commands
}

func (f *fakeSlackBot) Add(commands slackbot.Commands) {
	if f.Commands == nil {
		f.Commands = make(slackbot.Commands)
	}
	f.Commands.Add(commands)
}

func (f *fakeSlackBot) Run(_ context.Context) error {
	return nil
}

func (f *fakeSlackBot) Send(_ string, _ []slack.Attachment) error {
	return nil
}

type fakeSetter struct {
	mock.Mock
}

func (f *fakeSetter) SetZone(ctx context.Context, zoneID string, settings radialight.ZoneSettings) error {
	return f.Called(ctx, zoneID, settings).Error(0)
}

func (f *fakeSetter) SetProductLight(ctx context.Context, productID string, on bool) error {
	return f.Called(ctx, productID, on).Error(0)
}

func varP[T any](v T) *T {
	return &v
}

var snapshot = &poller.Snapshot{
	Zones: []radialight.Zone{
		{
			ID:                 "z1",
			Name:               "living",
			Program:            radialight.Program{ID: "prog"},
			Mode:               1,
			ComfortTemperature: varP(radialight.DeciCelsius(210)),
			ECOTemperature:     varP(radialight.DeciCelsius(160)),
			Products: []radialight.Product{
				{ID: "p1", Name: "left", Offline: varP(false), DetectedTemperature: varP(radialight.DeciCelsius(195)), Warming: true},
				{ID: "p2", Name: "right", Offline: varP(true)},
			},
		},
		{ID: "z2", Name: "bedroom"},
	},
	Products: []radialight.Product{
		{ID: "p1", Name: "left", ZoneID: "z1"},
		{ID: "p2", Name: "right", ZoneID: "z1"},
	},
	Usage: map[poller.Scope]poller.ScopeUsage{
		poller.AccountScope: {
			Energy:  energy.State{Total: 12.5},
			Windows: energy.Windows{Today: energy.Present(1.25)},
		},
		poller.ProductScope("p1"): {
			Energy: energy.State{Total: 3},
		},
	},
	FetchErrors: map[poller.Scope]error{
		poller.ProductScope("p1"): errors.New("fail"),
	},
}

func newBot(t *testing.T) (*Bot, *fakeSlackBot, *fakeSetter, *testutils.FakePoller) {
	t.Helper()
	s := fakeSlackBot{}
	setter := fakeSetter{}
	p := testutils.NewFakePoller()
	b := New(&setter, &s, p, slog.New(slog.DiscardHandler))

	go func() { _ = b.Run(t.Context()) }()
	require.Eventually(t, func() bool { return p.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	return b, &s, &setter, p
}

func waitForUpdate(t *testing.T, b *Bot, p *testutils.FakePoller) {
	t.Helper()
	p.Send(poller.Update{Snapshot: snapshot})
	require.Eventually(t, func() bool {
		_, err := b.snapshot()
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestBot_Commands(t *testing.T) {
	_, s, _, p := newBot(t)
	assert.Equal(t, []string{"energy", "light", "refresh", "set", "zones"}, s.GetCommands())

	attachments := s.Handle(t.Context(), "refresh")
	require.Len(t, attachments, 1)
	assert.Equal(t, "refreshing Radialight data", attachments[0].Text)
	assert.Equal(t, 1, p.Refreshes())
}

func TestBot_NoUpdate(t *testing.T) {
	b, _, _, p := newBot(t)

	attachments := b.ReportZones(t.Context())
	require.Len(t, attachments, 1)
	assert.Equal(t, "bad", attachments[0].Color)
	assert.Equal(t, "no updates yet. please check back later", attachments[0].Text)
	assert.Equal(t, 1, p.Refreshes())
}

func TestBot_ReportZones(t *testing.T) {
	b, _, _, p := newBot(t)
	waitForUpdate(t, b, p)

	attachments := b.ReportZones(t.Context())
	require.Len(t, attachments, 1)
	assert.Equal(t, "good", attachments[0].Color)
	assert.Equal(t, "bedroom: n/a\nliving: 19.5ºC (comfort: 21.0, eco: 16.0, warming, 1 offline)", attachments[0].Text)
}

func TestBot_ReportEnergy(t *testing.T) {
	b, _, _, p := newBot(t)
	waitForUpdate(t, b, p)

	attachments := b.ReportEnergy(t.Context())
	require.Len(t, attachments, 1)
	assert.Equal(t, "account: total 12.50 kWh, today 1.250 kWh, yesterday n/a, last 24h n/a\nleft: total 3.00 kWh, today n/a, yesterday n/a, last 24h n/a (stale)", attachments[0].Text)
}

func TestBot_SetZone(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		settings radialight.ZoneSettings
		err      error
		color    string
		text     string
	}{
		{
			name:  "missing args",
			args:  []string{"living"},
			color: "bad",
			text:  "invalid command: missing parameters\nUsage: set <zone> [comfort|eco] <temperature>",
		},
		{
			name:  "invalid zone",
			args:  []string{"kitchen", "20"},
			color: "bad",
			text:  `invalid command: invalid zone name: "kitchen"`,
		},
		{
			name:  "invalid temperature",
			args:  []string{"living", "warm"},
			color: "bad",
			text:  `invalid command: invalid target temperature: "warm"`,
		},
		{
			name:  "out of range",
			args:  []string{"living", "35"},
			color: "bad",
			text:  "invalid command: target temperature must be between 5 and 30",
		},
		{
			name:  "invalid mode",
			args:  []string{"living", "boost", "20"},
			color: "bad",
			text:  `invalid command: invalid mode: "boost"`,
		},
		{
			name:     "comfort",
			args:     []string{"living", "22.5"},
			settings: radialight.ZoneSettings{ProgramID: "prog", Mode: 1, ComfortTemperature: 225, ECOTemperature: 160},
			color:    "good",
			text:     "Setting comfort temperature for living to 22.5ºC",
		},
		{
			name:     "eco",
			args:     []string{"living", "eco", "15"},
			settings: radialight.ZoneSettings{ProgramID: "prog", Mode: 1, ComfortTemperature: 210, ECOTemperature: 150},
			color:    "good",
			text:     "Setting eco temperature for living to 15.0ºC",
		},
		{
			name:     "defaults",
			args:     []string{"bedroom", "comfort", "19"},
			settings: radialight.ZoneSettings{ComfortTemperature: 190, ECOTemperature: 100},
			color:    "good",
			text:     "Setting comfort temperature for bedroom to 19.0ºC",
		},
		{
			name:     "failure",
			args:     []string{"living", "20"},
			settings: radialight.ZoneSettings{ProgramID: "prog", Mode: 1, ComfortTemperature: 200, ECOTemperature: 160},
			err:      &radialight.FetchError{Kind: radialight.Rejected, StatusCode: 400, Endpoint: "/zone/{id}"},
			color:    "bad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, setter, p := newBot(t)
			waitForUpdate(t, b, p)
			refreshes := p.Refreshes()

			if tt.color == "good" || tt.err != nil {
				zone, _ := snapshot.ZoneByName(tt.args[0])
				setter.On("SetZone", mock.Anything, zone.ID, tt.settings).Return(tt.err).Once()
			}

			attachments := b.SetZone(t.Context(), tt.args...)
			require.Len(t, attachments, 1)
			assert.Equal(t, tt.color, attachments[0].Color)
			if tt.text != "" {
				assert.Equal(t, tt.text, attachments[0].Text)
			}
			if tt.color == "good" {
				assert.Equal(t, refreshes+1, p.Refreshes())
			}
			setter.AssertExpectations(t)
		})
	}
}

func TestBot_SetLight(t *testing.T) {
	b, _, setter, p := newBot(t)
	waitForUpdate(t, b, p)

	attachments := b.SetLight(t.Context(), "living")
	assert.Equal(t, "bad", attachments[0].Color)

	attachments = b.SetLight(t.Context(), "kitchen", "on")
	assert.Equal(t, "bad", attachments[0].Color)

	setter.On("SetProductLight", mock.Anything, "p1", false).Return(nil).Once()
	setter.On("SetProductLight", mock.Anything, "p2", false).Return(nil).Once()
	attachments = b.SetLight(t.Context(), "living", "off")
	assert.Equal(t, "good", attachments[0].Color)
	assert.Equal(t, "Switching light off for living", attachments[0].Text)
	setter.AssertExpectations(t)
}

func TestBot_DoRefresh(t *testing.T) {
	b, _, _, p := newBot(t)
	attachments := b.DoRefresh(t.Context())
	require.Len(t, attachments, 1)
	assert.Equal(t, "refreshing Radialight data", attachments[0].Text)
	assert.Equal(t, 1, p.Refreshes())
}
