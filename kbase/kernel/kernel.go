// Package kernel is the syscall surface the kbase device is driven through.
// Unix talks to a real /dev/mali0 file, Noop simulates a Mali-G610 with
// no hardware behind it.
package kernel

import (
	"time"
	"unsafe"
)

//go:generate mockgen -source kernel.go -destination ../mocks/mock_kernel.go -package mocks

// Kernel is the set of system calls the kbase layer issues against the Mali
// device file and against imported dma-buf files.
type Kernel interface {
	// Ioctl issues a request on fd. arg points at the fixed-layout argument
	// struct, or is nil for argument-less requests. The non-negative return
	// value is passed through on success.
	Ioctl(fd int, request uint32, arg unsafe.Pointer) (int, error)
	Mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error)
	Munmap(b []byte) error
	// Poll waits up to timeout for any of events on fd, and reports whether
	// the wait ended early.
	Poll(fd int, events int16, timeout time.Duration) (bool, error)
	Read(fd int, p []byte) (int, error)
	Dup(fd int) (int, error)
	Close(fd int) error
	Seek(fd int, offset int64, whence int) (int64, error)
	// SameFile reports whether two descriptors refer to the same open file description
	SameFile(fd1, fd2 int) (bool, error)
	PageSize() int
}

// Simulated is implemented by kernels with no device behind them. A kbase
// device opened on one always uses the CSF interface.
type Simulated interface {
	Simulated() bool
}
