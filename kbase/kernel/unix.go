package kernel

import (
	"os"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const kcmpFile = 0

// Unix issues real system calls
type Unix struct{}

var _ Kernel = Unix{}

func (Unix) Ioctl(fd int, request uint32, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(request), uintptr(arg))
	if errno != 0 {
		return -1, errno
	}
	return int(r), nil
}

func (Unix) Mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, prot, flags)
}

func (Unix) Munmap(b []byte) error {
	return unix.Munmap(b)
}

func (Unix) Poll(fd int, events int16, timeout time.Duration) (bool, error) {
	return ppoll(fd, events, timeout)
}

func (Unix) Read(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

func (Unix) Dup(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
}

func (Unix) Close(fd int) error {
	return unix.Close(fd)
}

func (Unix) Seek(fd int, offset int64, whence int) (int64, error) {
	return unix.Seek(fd, offset, whence)
}

func (Unix) SameFile(fd1, fd2 int) (bool, error) {
	return sameFile(fd1, fd2)
}

func (Unix) PageSize() int {
	return unix.Getpagesize()
}

func ppoll(fd int, events int16, timeout time.Duration) (bool, error) {
	if timeout < 0 {
		timeout = 0
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	ts := unix.NsecToTimespec(timeout.Nanoseconds())

	n, err := unix.Ppoll(fds, &ts, nil)
	if errors.Is(err, unix.EINTR) {
		// Let the caller recheck its condition
		return true, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "ppoll(%d)", fd)
	}

	return n > 0, nil
}

func sameFile(fd1, fd2 int) (bool, error) {
	pid := os.Getpid()
	r, _, errno := unix.Syscall6(unix.SYS_KCMP, uintptr(pid), uintptr(pid), kcmpFile, uintptr(fd1), uintptr(fd2), 0)
	if errno == 0 {
		return r == 0, nil
	}
	if errno != unix.ENOSYS && errno != unix.EPERM {
		return false, errors.Wrapf(errno, "kcmp(%d, %d)", fd1, fd2)
	}

	// Without kcmp, two descriptors for the same inode are the best we can tell
	var st1, st2 unix.Stat_t
	if err := unix.Fstat(fd1, &st1); err != nil {
		return false, errors.Wrapf(err, "fstat(%d)", fd1)
	}
	if err := unix.Fstat(fd2, &st2); err != nil {
		return false, errors.Wrapf(err, "fstat(%d)", fd2)
	}
	return st1.Dev == st2.Dev && st1.Ino == st2.Ino, nil
}
