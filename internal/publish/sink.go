// internal/publish/sink.go
package publish

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/tamzrod/fieldbus-poller/internal/poller"
	"github.com/tamzrod/fieldbus-poller/internal/status"
)

// Log writes outcomes to a logger: failures at warn, values at debug.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "results").Logger()}
}

func (l *Log) Write(channel string, r poller.Result) error {
	ev := l.log.Debug()
	if r.Code != poller.Success {
		ev = l.log.Warn().Err(r.Err)
	}
	ev.Str("channel", channel).
		Str("device", r.Tag.Device).
		Str("tag", r.Tag.ID).
		Stringer("code", r.Code).
		Stringer("quality", r.Quality).
		Interface("value", r.Value).
		Msg("tag")
	return nil
}

func (l *Log) WriteStatus(s status.Snapshot) error {
	l.log.Info().
		Str("channel", s.Channel).
		Str("device", s.Device).
		Str("health", status.HealthName(s.Health)).
		Uint16("last_error", s.LastErrorCode).
		Uint16("seconds_in_error", s.SecondsInError).
		Msg("status")
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Write(channel string, r poller.Result) error {
	var errs []error
	for _, s := range f {
		if err := s.Write(channel, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) WriteStatus(s status.Snapshot) error {
	var errs []error
	for _, w := range f {
		if err := w.WriteStatus(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
