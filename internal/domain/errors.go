package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNeedsCredential means no usable API key is available, or the
	// endpoint rejected the one that was used.
	ErrNeedsCredential = errors.New("credential required")

	// ErrSessionClosed is returned when a session was torn down while an
	// operation on it was still in flight.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotOpen is returned by transports asked to send after close.
	ErrNotOpen = errors.New("transport not open")
)

// DeviceError means the microphone is missing or access was denied.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("audio device: %v", e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// TransportConnectError means the handshake with the endpoint failed.
type TransportConnectError struct {
	Err error
}

func (e *TransportConnectError) Error() string { return fmt.Sprintf("connecting: %v", e.Err) }
func (e *TransportConnectError) Unwrap() error { return e.Err }

// TransportRuntimeError is a failure of a session that was already active.
type TransportRuntimeError struct {
	Err error
}

func (e *TransportRuntimeError) Error() string { return fmt.Sprintf("link fault: %v", e.Err) }
func (e *TransportRuntimeError) Unwrap() error { return e.Err }

// DecodeError is a malformed inbound audio payload.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decoding audio: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

var credentialPatterns = []string{
	"API key",
	"entity was not found",
}

// NeedsCredential reports whether err signals a missing or rejected
// credential. Connect failures also match a bare "not found".
func NeedsCredential(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNeedsCredential) {
		return true
	}
	msg := err.Error()
	for _, p := range credentialPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	var connectErr *TransportConnectError
	if errors.As(err, &connectErr) && strings.Contains(msg, "not found") {
		return true
	}
	return false
}

// Fault is what the display surface shows after an attempt ends in error.
type Fault struct {
	Message         string
	NeedsCredential bool
}
