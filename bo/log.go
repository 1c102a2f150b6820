package bo

import (
	"io"
	"strconv"
	"sync"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// eventLog writes buffer object lifetime events as JSON lines
type eventLog struct {
	lock   sync.Mutex
	out    io.Writer
	logger *slog.Logger
}

func (l *eventLog) enabled() bool {
	return l != nil && l.out != nil
}

func hexAddress(va uint64) string {
	return "0x" + strconv.FormatUint(va, 16)
}

func monotonicRaw() float64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return 0
	}
	return float64(ts.Sec) + float64(ts.Nsec)/1e9
}

// write records event for b. extra, when not nil, adds fields to the object.
func (l *eventLog) write(event string, b *BO, fd int, extra func(obj *jwriter.ObjectState)) {
	if !l.enabled() {
		return
	}

	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("Time").Float64(monotonicRaw())
	obj.Name("Event").String(event)
	obj.Name("Start").String(hexAddress(b.gpu))
	obj.Name("End").String(hexAddress(b.gpu + uint64(b.size)))
	obj.Name("Size").Int(b.size)
	obj.Name("Label").String(b.label)
	obj.Name("Handle").Int(b.handle)
	obj.Name("FD").Int(fd)
	if extra != nil {
		extra(&obj)
	}
	obj.End()

	line := append(w.Bytes(), '\n')

	l.lock.Lock()
	defer l.lock.Unlock()

	if _, err := l.out.Write(line); err != nil {
		l.logger.Error("failed to write buffer object event", "event", event, "error", err)
	}
}
