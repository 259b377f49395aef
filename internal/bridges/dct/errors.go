package dct

import "errors"

// Domain errors for the DCT bridge package.
var (
	// ErrNotConnected is returned when a command is issued while no
	// connection to the device is established.
	ErrNotConnected = errors.New("dct: not connected to device")

	// ErrConnectionFailed is returned when dialling the device fails.
	ErrConnectionFailed = errors.New("dct: connection to device failed")

	// ErrSendFailed is returned when writing a command frame fails.
	ErrSendFailed = errors.New("dct: command send failed")

	// ErrRefused is returned when an operation is rejected locally because
	// the device state does not allow it. No command is sent.
	ErrRefused = errors.New("dct: operation refused")

	// ErrNoFreeBuffer is returned when record(0) finds no Free buffer.
	ErrNoFreeBuffer = errors.New("dct: no free buffer")

	// ErrRampInProgress is returned when a ramp is requested while another
	// ramp is still running.
	ErrRampInProgress = errors.New("dct: ramp already in progress")

	// ErrBuffersDisabled is returned by buffer operations when the buffer
	// count is configured as zero.
	ErrBuffersDisabled = errors.New("dct: buffer operations disabled")

	// ErrInvalidParameter is returned when an operation argument is out of
	// range or cannot be decoded.
	ErrInvalidParameter = errors.New("dct: invalid parameter")

	// ErrUnknownAction is returned by the action table for unregistered
	// action names.
	ErrUnknownAction = errors.New("dct: unknown action")

	// ErrStopped is returned when the session has been stopped.
	ErrStopped = errors.New("dct: session stopped")
)

// refusal wraps ErrRefused (and an optional more specific sentinel) with
// a human readable reason.
type refusal struct {
	reason string
	cause  error
}

func (r *refusal) Error() string {
	if r.cause != nil {
		return r.cause.Error() + ": " + r.reason
	}
	return ErrRefused.Error() + ": " + r.reason
}

func (r *refusal) Is(target error) bool {
	return target == ErrRefused || (r.cause != nil && target == r.cause)
}

func (r *refusal) Unwrap() error {
	return r.cause
}

func refuse(reason string) error {
	return &refusal{reason: reason}
}

func refuseWith(cause error, reason string) error {
	return &refusal{reason: reason, cause: cause}
}
