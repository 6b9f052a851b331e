package monitor

import "github.com/sirupsen/logrus"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the process log at error level.
type LogSink struct{}

func (LogSink) Send(message string) error {
	logrus.WithField("component", "alert").Error(message)
	return nil
}

// AlertFunc adapts a function to AlertSink.
type AlertFunc func(string) error

func (f AlertFunc) Send(message string) error { return f(message) }
