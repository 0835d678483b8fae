package license

import (
	"errors"
	"fmt"
)

// Sentinel errors for the license lifecycle. The HTTP layer maps these
// onto status codes; the lifecycle engine returns them wrapped with
// context.
var (
	ErrNotFound         = errors.New("license key not found")
	ErrDeviceNotFound   = errors.New("device not found for this license")
	ErrInactive         = errors.New("license key is inactive")
	ErrExpired          = errors.New("license key is expired")
	ErrInvalidInput     = errors.New("license key and device ID are required")
	ErrInvalidKeyFormat = errors.New("invalid license key format")
)

// DeviceLimitError reports a rejected activation together with the
// occupancy that caused it.
type DeviceLimitError struct {
	Current int
	Max     int
}

func (e *DeviceLimitError) Error() string {
	return fmt.Sprintf("maximum devices reached for this license (%d/%d)", e.Current, e.Max)
}

// IsDeviceLimit reports whether err is a DeviceLimitError and returns it.
func IsDeviceLimit(err error) (*DeviceLimitError, bool) {
	var dle *DeviceLimitError
	if errors.As(err, &dle) {
		return dle, true
	}
	return nil, false
}
