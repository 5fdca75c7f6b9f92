//go:build linux

package hardware

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/brewlab/brewctl/src/flow"
)

const gpioRoot = "/sys/class/gpio"

// EdgeCounter counts rising edges on a sysfs GPIO into a PulseCounter.
type EdgeCounter struct {
	pin     int
	value   *os.File
	epfd    int
	counter *flow.PulseCounter
	log     *zap.SugaredLogger
}

// OpenEdgeCounter exports pin as an input interrupting on rising edges.
func OpenEdgeCounter(pin int, counter *flow.PulseCounter, log *zap.SugaredLogger) (*EdgeCounter, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	dir := filepath.Join(gpioRoot, "gpio"+strconv.Itoa(pin))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := writeFile(filepath.Join(gpioRoot, "export"), strconv.Itoa(pin)); err != nil {
			return nil, fmt.Errorf("export gpio %d: %w", pin, err)
		}
	}
	if err := writeFile(filepath.Join(dir, "direction"), "in"); err != nil {
		return nil, fmt.Errorf("gpio %d direction: %w", pin, err)
	}
	if err := writeFile(filepath.Join(dir, "edge"), "rising"); err != nil {
		return nil, fmt.Errorf("gpio %d edge: %w", pin, err)
	}

	value, err := os.Open(filepath.Join(dir, "value"))
	if err != nil {
		return nil, err
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		value.Close()
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLPRI | unix.EPOLLERR, Fd: int32(value.Fd())}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, int(value.Fd()), &ev); err != nil {
		unix.Close(epfd)
		value.Close()
		return nil, fmt.Errorf("epoll ctl: %w", err)
	}

	return &EdgeCounter{pin: pin, value: value, epfd: epfd, counter: counter, log: log}, nil
}

// Run waits for edges until ctx is cancelled.
func (e *EdgeCounter) Run(ctx context.Context) error {
	defer e.close()

	fd := int(e.value.Fd())
	buf := make([]byte, 8)
	events := make([]unix.EpollEvent, 1)

	// The first read clears the initial pending state.
	_, _ = unix.Pread(fd, buf, 0)

	for ctx.Err() == nil {
		n, err := unix.EpollWait(e.epfd, events, 100)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("gpio %d epoll wait: %w", e.pin, err)
		}
		if n == 0 {
			continue
		}
		if _, err := unix.Pread(fd, buf, 0); err != nil {
			e.log.Warnf("Flow sensor: gpio %d read failed: %v", e.pin, err)
			continue
		}
		e.counter.Pulse()
	}
	return ctx.Err()
}

func (e *EdgeCounter) close() {
	unix.Close(e.epfd)
	e.value.Close()
}
