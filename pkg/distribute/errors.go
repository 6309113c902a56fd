package distribute

import "fmt"

// ErrorCode classifies a distribution failure.
type ErrorCode string

const (
	// TargetNotFound means the device id is not in the registry.
	TargetNotFound ErrorCode = "target_not_found"

	// LayoutNotFound means the layout could not be fetched.
	LayoutNotFound ErrorCode = "layout_not_found"

	// DeliveryFailed means the assembled payload could not be sent,
	// usually because the device is not connected.
	DeliveryFailed ErrorCode = "delivery_failed"
)

// Error is a classified distribution failure. Partial problems during
// assembly (a dead data feed, a missing asset) are warnings on the
// Report, not errors; only a failure that prevents delivery outright
// produces an Error.
type Error struct {
	Code     ErrorCode
	DeviceID string
	LayoutID string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("distribute: %s: device=%s", e.Code, e.DeviceID)
	if e.LayoutID != "" {
		msg += " layout=" + e.LayoutID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// newError builds a classified error.
func newError(code ErrorCode, deviceID, layoutID string, err error) *Error {
	return &Error{Code: code, DeviceID: deviceID, LayoutID: layoutID, Err: err}
}
