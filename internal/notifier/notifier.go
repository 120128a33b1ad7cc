// Package notifier reports fatal poller failures, and their recovery, to the operator.
package notifier

import (
	"context"
	"log/slog"

	"github.com/clambin/radialight-monitor/internal/poller"
	"github.com/clambin/radialight-monitor/pkg/radialight"
)

type Notification struct {
	Color string
	Title string
	Text  string
}

type Notifier interface {
	Notify(Notification)
}

type Notifiers []Notifier

func (n Notifiers) Notify(notification Notification) {
	for _, l := range n {
		l.Notify(notification)
	}
}

// Watcher notifies when the poller starts failing with an error that requires intervention, and when it recovers.
// Transient errors are not reported: the poller recovers from those by itself.
type Watcher struct {
	Poller   poller.Poller
	Notifier Notifier
	Logger   *slog.Logger
	failing  string
}

func (w *Watcher) Run(ctx context.Context) error {
	w.Logger.Debug("started")
	defer w.Logger.Debug("stopped")

	ch := w.Poller.Subscribe()
	defer w.Poller.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			w.process(update)
		}
	}
}

func (w *Watcher) process(update poller.Update) {
	switch {
	case update.Err == nil:
		if w.failing != "" {
			w.failing = ""
			w.Notifier.Notify(Notification{Color: "good", Title: "Radialight polling recovered"})
		}
	case radialight.IsFatal(update.Err):
		// the error message is redacted before it leaves the process
		msg := radialight.Redact(update.Err.Error())
		if msg != w.failing {
			w.failing = msg
			w.Notifier.Notify(Notification{Color: "bad", Title: "Radialight polling failed", Text: msg})
		}
	}
}
