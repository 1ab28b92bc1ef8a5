// Package notify delivers position lifecycle messages to an external
// channel. Delivery is best effort: failures are logged, never propagated,
// so a flaky channel can not take down a trading cycle.
package notify

import (
	"github.com/sirupsen/logrus"
)

// Sink receives lifecycle text messages at three severities. Fatal marks
// situations needing manual review; the caller still decides control flow.
type Sink interface {
	Info(msg string)
	Warn(msg string)
	Fatal(msg string)
}

// Noop discards every message.
type Noop struct{}

var _ Sink = (*Noop)(nil)

// Info implements Sink.
func (Noop) Info(string) {}

// Warn implements Sink.
func (Noop) Warn(string) {}

// Fatal implements Sink.
func (Noop) Fatal(string) {}

// LogSink mirrors messages into the process log. Used when no external
// channel is configured.
type LogSink struct {
	Logger *logrus.Logger
}

var _ Sink = (*LogSink)(nil)

// Info implements Sink.
func (s *LogSink) Info(msg string) { s.Logger.Info(msg) }

// Warn implements Sink.
func (s *LogSink) Warn(msg string) { s.Logger.Warn(msg) }

// Fatal implements Sink. The message is logged at error level; exiting is
// the caller's call.
func (s *LogSink) Fatal(msg string) { s.Logger.Error(msg) }
