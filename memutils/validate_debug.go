//go:build debug_mem_utils

package memutils

import "encoding/binary"

const (
	// PoisonBytes is how much of a cached mapping Poison overwrites
	PoisonBytes int = 16

	poisonPattern uint32 = 0x7F84E666
)

// Poison fills the head of a cached BO mapping with a marker. A write through
// a stale pointer shows up as a missing marker when the BO is handed out again.
func Poison(mapping []byte) {
	if len(mapping) < PoisonBytes {
		return
	}
	for i := 0; i < PoisonBytes; i += 4 {
		binary.LittleEndian.PutUint32(mapping[i:], poisonPattern)
	}
}

// CheckPoison reports whether the marker left by Poison is intact
func CheckPoison(mapping []byte) bool {
	if len(mapping) < PoisonBytes {
		return true
	}
	for i := 0; i < PoisonBytes; i += 4 {
		if binary.LittleEndian.Uint32(mapping[i:]) != poisonPattern {
			return false
		}
	}
	return true
}

func DebugValidate(v Validatable) {
	if err := v.Validate(); err != nil {
		panic(err)
	}
}

func DebugCheckPow2[T Number](value T, name string) {
	if err := CheckPow2(value, name); err != nil {
		panic(err)
	}
}
