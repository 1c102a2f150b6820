package utils

import (
	"fmt"
	"math/bits"
	"strings"
)

type Flags interface {
	~int32 | ~uint32
}

// FlagStringMapping renders a bitmask as the |-joined names of its set bits.
// Bits with no registered name are printed in hex.
type FlagStringMapping[T Flags] struct {
	names map[T]string
}

func NewFlagStringMapping[T Flags]() FlagStringMapping[T] {
	return FlagStringMapping[T]{names: make(map[T]string)}
}

func (m FlagStringMapping[T]) Register(flag T, name string) {
	m.names[flag] = name
}

func (m FlagStringMapping[T]) FlagsToString(value T) string {
	if value == 0 {
		return "None"
	}

	var sb strings.Builder
	remaining := uint32(value)
	for remaining != 0 {
		bit := uint32(1) << bits.TrailingZeros32(remaining)
		remaining &^= bit

		if sb.Len() > 0 {
			sb.WriteByte('|')
		}

		name, ok := m.names[T(bit)]
		if !ok {
			name = fmt.Sprintf("0x%x", bit)
		}
		sb.WriteString(name)
	}

	return sb.String()
}
