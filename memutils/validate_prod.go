//go:build !debug_mem_utils

package memutils

const (
	// DebugPoison indicates whether freed payloads are filled with a marker pattern that is
	// verified before the memory is handed out again
	DebugPoison bool = false
)

// WritePoison fills data with an easy-to-identify marker.
// This method no-ops unless the debug_mem_utils build tag is present.
func WritePoison(data []byte) {
}

// ValidatePoison verifies that the marker written by WritePoison is still present across all of data.
// It returns true if the value is still present and false otherwise.
// This method no-ops unless the debug_mem_utils build tag is present.
func ValidatePoison(data []byte) bool {
	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
}
