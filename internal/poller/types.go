// internal/poller/types.go
package poller

import (
	"errors"
	"time"

	"github.com/tamzrod/fieldbus-poller/internal/convert"
	"github.com/tamzrod/fieldbus-poller/internal/model"
	"github.com/tamzrod/fieldbus-poller/internal/transport"
)

var (
	ErrNotWritable = errors.New("poller: tag is read-only")
	ErrDisabled    = errors.New("poller: device disabled")
	ErrDemoted     = errors.New("poller: device demoted")
)

// Code is the outcome of one tag read.
type Code uint8

const (
	Success Code = iota
	CommsError
	ParseError
	OtherError
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case CommsError:
		return "comms_error"
	case ParseError:
		return "parse_error"
	default:
		return "other_error"
	}
}

// Quality is what a consumer should make of the value.
type Quality uint8

const (
	Good Quality = iota
	CommFailure
	ConfigError
	Bad
)

func (q Quality) String() string {
	switch q {
	case Good:
		return "good"
	case CommFailure:
		return "comm_failure"
	case ConfigError:
		return "config_error"
	default:
		return "bad"
	}
}

// QualityOf maps a read code to its quality. Parse failures are reported as
// configuration errors: the device answered, the tag definition is wrong.
func QualityOf(c Code) Quality {
	switch c {
	case Success:
		return Good
	case CommsError:
		return CommFailure
	case ParseError:
		return ConfigError
	default:
		return Bad
	}
}

// CodeOf classifies an error from a read or write.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, transport.ErrDisconnected),
		errors.Is(err, transport.ErrRetriesExhausted),
		errors.Is(err, transport.ErrException),
		errors.Is(err, ErrDisabled),
		errors.Is(err, ErrDemoted):
		return CommsError
	case errors.Is(err, convert.ErrUnsupported),
		errors.Is(err, convert.ErrRange),
		errors.Is(err, convert.ErrLength):
		return ParseError
	default:
		return OtherError
	}
}

// Result is the outcome of reading one tag.
type Result struct {
	Tag     *model.Tag
	Code    Code
	Quality Quality
	Value   any // nil unless Code is Success
	Err     error
	Due     time.Time // scheduled due-time of the read
	At      time.Time // completion time
}

// ConfigResult is the fallback published for a tag that failed
// registration. It never carries a value.
func ConfigResult(t *model.Tag, err error, at time.Time) Result {
	return Result{Tag: t, Code: OtherError, Quality: ConfigError, Err: err, At: at}
}
