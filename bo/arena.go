package bo

import (
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/kbase/internal/utils"
)

// arena holds every live buffer object by GEM handle, so an import of an
// already known dma-buf finds the same BO
type arena struct {
	lock utils.OptionalMutex
	bos  *swiss.Map[int, *BO]
}

func newArena(useMutex bool) *arena {
	return &arena{
		lock: utils.OptionalMutex{UseMutex: useMutex},
		bos:  swiss.NewMap[int, *BO](64),
	}
}

func (a *arena) Lookup(handle int) *BO {
	a.lock.Lock()
	defer a.lock.Unlock()

	b, _ := a.bos.Get(handle)
	return b
}

func (a *arena) Put(handle int, b *BO) {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.bos.Put(handle, b)
}

func (a *arena) Delete(handle int) {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.bos.Delete(handle)
}

func (a *arena) Len() int {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.bos.Count()
}

// Each calls fn for every live BO until it returns true
func (a *arena) Each(fn func(b *BO) bool) {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.bos.Iter(func(handle int, b *BO) bool {
		return fn(b)
	})
}
