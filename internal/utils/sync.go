package utils

import (
	"sync"
)

// OptionalMutex is a mutex that can be switched off for owners that are
// externally synchronized. UseMutex must not change after first use.
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

