package kbase

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// waitEngine owns the kbase notification file. A single poller goroutine
// reads and handles events while any WaitContext is open, and wakes every
// waiter after each pass by closing the current generation channel.
type waitEngine struct {
	device *Device

	// readLock is held by whoever is reading notifications
	readLock sync.Mutex

	lock    sync.Mutex
	gen     chan struct{}
	waiters int
	stop    chan struct{}
	closed  bool
	pollers sync.WaitGroup
}

func newWaitEngine(device *Device) *waitEngine {
	return &waitEngine{
		device: device,
		gen:    make(chan struct{}),
	}
}

func (e *waitEngine) generation() chan struct{} {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.gen
}

func (e *waitEngine) broadcast() {
	e.lock.Lock()
	defer e.lock.Unlock()

	close(e.gen)
	e.gen = make(chan struct{})
}

// WaitContext is a deadline-bounded wait on GPU progress. Callers loop:
//
//	wait := device.NewWait(timeout)
//	defer wait.Done()
//	for wait.Next() {
//		if done() {
//			return true
//		}
//	}
type WaitContext struct {
	engine   *waitEngine
	deadline time.Time
	gen      chan struct{}
	started  bool
	finished bool
}

// NewWait opens a wait context, starting the poller if it is not running
func (d *Device) NewWait(timeout time.Duration) *WaitContext {
	return d.wait.NewWait(timeout)
}

func (e *waitEngine) NewWait(timeout time.Duration) *WaitContext {
	e.lock.Lock()
	e.waiters++
	if e.waiters == 1 && !e.closed {
		e.stop = make(chan struct{})
		e.pollers.Add(1)
		go e.poll(e.stop)
	}
	e.lock.Unlock()

	return &WaitContext{
		engine:   e,
		deadline: time.Now().Add(timeout),
	}
}

// Deadline is the point after which Next returns false
func (w *WaitContext) Deadline() time.Time {
	return w.deadline
}

// Next returns true immediately on its first call, so the caller checks its
// condition once before blocking. Later calls block until events have been
// handled again, returning true, or the deadline passes, returning false.
func (w *WaitContext) Next() bool {
	if !w.started {
		w.started = true
		w.gen = w.engine.generation()
		return true
	}

	remaining := time.Until(w.deadline)
	if remaining <= 0 || w.finished {
		return false
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-w.gen:
		w.gen = w.engine.generation()
		return true
	case <-timer.C:
		return false
	}
}

// Done releases the context. The poller stops once no contexts remain.
func (w *WaitContext) Done() {
	if w.finished {
		return
	}
	w.finished = true

	e := w.engine
	e.lock.Lock()
	defer e.lock.Unlock()

	e.waiters--
	if e.waiters == 0 && e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

func (e *waitEngine) poll(stop chan struct{}) {
	defer e.pollers.Done()

	d := e.device
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, err := d.kernel.Poll(d.fd, unix.POLLIN, d.options.PollInterval)
		if err != nil {
			d.logger.Error("failed to poll kbase file", "error", err)
		}

		e.readLock.Lock()
		d.driver.HandleEvents(d)
		e.readLock.Unlock()

		e.broadcast()

		if err != nil {
			// Don't spin on a broken descriptor
			select {
			case <-stop:
				return
			case <-time.After(d.options.PollInterval):
			}
		}
	}
}

// EnsureHandleEvents processes pending events unless the poller is already
// doing so
func (d *Device) EnsureHandleEvents() {
	e := d.wait
	if !e.readLock.TryLock() {
		return
	}
	d.driver.HandleEvents(d)
	e.readLock.Unlock()

	e.broadcast()
}

// PollFdUntil waits for a dma-buf's implicit fences. Waiting for shared
// access asks for POLLOUT, which is only signalled once readers are done too.
func (d *Device) PollFdUntil(fd int, waitShared bool, deadline time.Time) bool {
	events := int16(unix.POLLIN)
	if waitShared {
		events = unix.POLLOUT
	}

	ready, err := d.kernel.Poll(fd, events, time.Until(deadline))
	if err != nil {
		d.logger.Error("failed to poll dma-buf", "fd", fd, "error", err)
		return true
	}
	return ready
}

func (e *waitEngine) close() {
	e.lock.Lock()
	e.closed = true
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.lock.Unlock()

	e.pollers.Wait()
}
