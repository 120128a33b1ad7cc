package notifier

import (
	"log/slog"
)

type SLogNotifier struct {
	Logger *slog.Logger
}

var _ Notifier = &SLogNotifier{}

func (s SLogNotifier) Notify(notification Notification) {
	s.Logger.Info(notification.Title, slog.String("text", notification.Text))
}
