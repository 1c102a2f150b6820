//go:build !debug_mem_utils

package memutils

// PoisonBytes is zero without the debug_mem_utils tag, and the helpers
// below do nothing
const PoisonBytes int = 0

func Poison(mapping []byte) {}

func CheckPoison(mapping []byte) bool { return true }

func DebugValidate(v Validatable) {}

func DebugCheckPow2[T Number](value T, name string) {}
