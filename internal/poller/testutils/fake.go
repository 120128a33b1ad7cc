// Package testutils provides a Poller that can be driven by tests.
package testutils

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/clambin/radialight-monitor/internal/poller"
	"github.com/clambin/radialight-monitor/pkg/pubsub"
)

var _ poller.Poller = &FakePoller{}

type FakePoller struct {
	*pubsub.Publisher[poller.Update]
	lock      sync.RWMutex
	snapshot  *poller.Snapshot
	refreshes atomic.Int32
}

func NewFakePoller() *FakePoller {
	return &FakePoller{Publisher: pubsub.New[poller.Update](slog.New(slog.DiscardHandler))}
}

// Send publishes the update. If it carries a snapshot, Snapshot() returns it from then on.
func (f *FakePoller) Send(update poller.Update) {
	if update.Snapshot != nil {
		f.lock.Lock()
		f.snapshot = update.Snapshot
		f.lock.Unlock()
	}
	f.Publish(update)
}

func (f *FakePoller) Snapshot() *poller.Snapshot {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.snapshot
}

func (f *FakePoller) Refresh() {
	f.refreshes.Add(1)
}

// Refreshes returns how many times Refresh was called.
func (f *FakePoller) Refreshes() int {
	return int(f.refreshes.Load())
}
