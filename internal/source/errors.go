package source

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrInvalidStreamIndex is returned by Connect when the configured stream
// index does not exist in the session's media table. This is a
// misconfiguration: fatal for the camera, never retried.
var ErrInvalidStreamIndex = errors.New("source: invalid stream index")

// TransientError marks a failure that is expected to self-heal via
// reconnect: read timeouts, connection resets, mid-stream EOF.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a protocol violation or unsupported stream that is not
// expected to self-heal.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error { return &TransientError{Err: err} }

// Fatal wraps err as a FatalError.
func Fatal(err error) error { return &FatalError{Err: err} }

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is classified as fatal for the camera.
// ErrInvalidStreamIndex is always fatal.
func IsFatal(err error) bool {
	if errors.Is(err, ErrInvalidStreamIndex) {
		return true
	}
	var fe *FatalError
	return errors.As(err, &fe)
}

// Classify wraps an unclassified connection error as transient or fatal.
//
// Network-level failures (dial, timeout, reset, DNS) are transient: the
// camera may come back. Authentication and protocol errors are fatal-ish but
// cameras are routinely rebooted into brief auth windows, so only clearly
// structural errors classify as fatal. Classification is keyword-based where
// the error type gives nothing better.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsFatal(err) || errors.Is(err, ErrInvalidStreamIndex) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range fatalKeywords {
		if strings.Contains(msg, kw) {
			return Fatal(err)
		}
	}
	return Transient(err)
}

// fatalKeywords mark errors that reconnecting cannot fix
var fatalKeywords = []string{
	"invalid url",
	"unsupported",
	"bad request",
	"not implemented",
	"option not supported",
	"parameter not understood",
}

// errorf wraps a formatted fatal error
func fatalf(format string, args ...any) error {
	return Fatal(fmt.Errorf(format, args...))
}
