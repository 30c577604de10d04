//go:build linux

package main

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// readKeyEvents reads from all configured input devices with a single
// epoll loop and emits normalized key events.
//
// A device that errors or hangs up is dropped from the epoll set and the
// loop keeps servicing the rest; the reader only exits (reporting on
// readErr) once no devices remain. Losing one keyboard must not take the
// others down with it.
func readKeyEvents(files []*os.File, events chan<- keyEvent, readErr chan<- error, logger *slog.Logger) {
	if len(files) == 0 {
		readErr <- fmt.Errorf("no input devices provided")
		return
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	fdToFile := make(map[int]*os.File)
	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			readErr <- fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err)
			return
		}
	}

	dropDevice := func(fd int, cause error) {
		f := fdToFile[fd]
		logger.Warn("input device lost", "device", f.Name(), "error", cause)
		unix.EpollCtl(epfd, unix.EPOLL_CTL_DEL, fd, nil)
		f.Close()
		delete(fdToFile, fd)
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, inputEventSize)

	for {
		n, err := unix.EpollWait(epfd, epollEvents, -1)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f, ok := fdToFile[fd]
			if !ok {
				continue
			}

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				dropDevice(fd, fmt.Errorf("device error/hangup"))
				continue
			}

			if _, err := f.Read(buf); err != nil {
				dropDevice(fd, err)
				continue
			}

			ev, err := parseInputEvent(buf)
			if err != nil {
				// Skip malformed events
				continue
			}

			if ke, ok := normalizeKeyEvent(ev, f.Name()); ok {
				events <- ke
			}
		}

		if len(fdToFile) == 0 {
			readErr <- fmt.Errorf("all input devices lost")
			return
		}
	}
}
