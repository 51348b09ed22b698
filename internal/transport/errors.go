// internal/transport/errors.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrDisconnected aborts a call without further retries. Callers must
	// not report it per tag; the connection notification records it.
	ErrDisconnected = errors.New("transport: disconnected")

	// ErrRetriesExhausted wraps the last transient error of a call.
	ErrRetriesExhausted = errors.New("transport: retries exhausted")

	// ErrException is a protocol-level refusal from the device. Codecs wrap
	// it; it is never retried.
	ErrException = errors.New("transport: device exception")

	// ErrUnsupported is returned when the codec has no such primitive.
	ErrUnsupported = errors.New("transport: operation not supported")

	// ErrRejected marks a request or response the codec refused locally,
	// such as an out-of-range quantity or a response of the wrong length.
	// Repeating the call cannot change the outcome, so it is never retried.
	ErrRejected = errors.New("transport: rejected by codec")
)

// Exception is a device exception response. It matches ErrException.
type Exception struct {
	Function byte
	Code     byte
}

func (e *Exception) Error() string {
	return fmt.Sprintf("transport: device exception %d (function %d)", e.Code, e.Function)
}

func (e *Exception) Is(target error) bool { return target == ErrException }

// ErrorCode is the device-defined exception code.
func (e *Exception) ErrorCode() uint16 { return uint16(e.Code) }

type kind uint8

const (
	transient kind = iota
	disconnect
	exception
	canceled
)

// classify decides how the retry loop treats a codec error.
func classify(err error) kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return canceled
	case errors.Is(err, ErrException), errors.Is(err, ErrUnsupported), errors.Is(err, ErrRejected):
		return exception
	case errors.Is(err, ErrDisconnected):
		return disconnect
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return transient
	}

	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return disconnect
	}

	var op *net.OpError
	if errors.As(err, &op) {
		return disconnect
	}
	return transient
}
