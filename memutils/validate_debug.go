//go:build debug_mem_utils

package memutils

import "encoding/binary"

const (
	// DebugPoison indicates whether freed payloads are filled with a marker pattern that is
	// verified before the memory is handed out again
	DebugPoison bool = true
	// poisonMagicValue is a 4-byte pattern copied across the payload of every free block
	poisonMagicValue uint32 = 0x7F84E666
)

// WritePoison fills data with an easy-to-identify marker. A trailing partial word is left alone.
// This method no-ops unless the debug_mem_utils build tag is present.
func WritePoison(data []byte) {
	for i := 0; i+4 <= len(data); i += 4 {
		binary.LittleEndian.PutUint32(data[i:], poisonMagicValue)
	}
}

// ValidatePoison verifies that the marker written by WritePoison is still present across all of data.
// It returns true if the value is still present and false otherwise.
// This method no-ops unless the debug_mem_utils build tag is present.
func ValidatePoison(data []byte) bool {
	for i := 0; i+4 <= len(data); i += 4 {
		if binary.LittleEndian.Uint32(data[i:]) != poisonMagicValue {
			return false
		}
	}

	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}
