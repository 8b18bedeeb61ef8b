//go:build !darwin

package permissions

// Microphone reports authorized on platforms without an OS-level gate;
// device errors surface when the stream is opened instead.
func Microphone() Status {
	return StatusAuthorized
}

// RequestMicrophone is a no-op on non-macOS platforms.
func RequestMicrophone() {}
