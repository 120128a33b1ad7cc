package notifier

import (
	"log/slog"

	"github.com/slack-go/slack"
)

type SlackSender interface {
	Send(channel string, attachments []slack.Attachment) error
}

type SlackNotifier struct {
	SlackSender
	Channel string
	Logger  *slog.Logger
}

var _ Notifier = &SlackNotifier{}

func (s *SlackNotifier) Notify(notification Notification) {
	s.Logger.Debug("notifying on slack", slog.String("channel", s.Channel))
	err := s.SlackSender.Send(s.Channel, []slack.Attachment{{
		Color: notification.Color,
		Title: notification.Title,
		Text:  notification.Text,
	}})
	if err != nil {
		s.Logger.Error("notifier failed to post message", slog.Any("err", err))
	}
}
