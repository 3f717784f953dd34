//go:build linux

package evloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux readiness monitor. epoll is level-triggered by
// default, which is exactly the behavior spec §4.4.2 and §9 reason about
// for the thread-per-request in-service set: a fd stays "ready" across
// every EpollWait call until something actually drains it.
type epollPoller struct {
	fd       int
	interest map[int]*fdInterest
}

type fdInterest struct {
	readers int
	writers int
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd, interest: make(map[int]*fdInterest)}, nil
}

func (p *epollPoller) add(fd int, want Want) error {
	in, ok := p.interest[fd]
	if !ok {
		in = &fdInterest{}
		p.interest[fd] = in
	}

	hadEvents := in.events() != 0
	if want == Readable {
		in.readers++
	} else {
		in.writers++
	}

	ev := &unix.EpollEvent{Fd: int32(fd), Events: in.events()}
	if !hadEvents {
		return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, ev)
	}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) remove(fd int, want Want) error {
	in, ok := p.interest[fd]
	if !ok {
		return nil
	}

	if want == Readable && in.readers > 0 {
		in.readers--
	} else if want == Writable && in.writers > 0 {
		in.writers--
	}

	if in.events() == 0 {
		delete(p.interest, fd)
		return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	}

	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: in.events()})
}

func (p *epollPoller) wait(timeout time.Duration) (map[int]Want, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(p.fd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return map[int]Want{}, nil
		}
		return nil, err
	}

	ready := make(map[int]Want, n)
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		in := p.interest[fd]
		if in == nil {
			continue
		}
		// EPOLLHUP/EPOLLERR are reported whether or not they were asked
		// for; they wake whichever kind is registered (a failed
		// non-blocking connect has only a writer). A fd ready for both
		// kinds with both registered is recorded as readable.
		ev := events[i].Events
		if in.readers > 0 && ev&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ready[fd] = Readable
		} else if in.writers > 0 && ev&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ready[fd] = Writable
		}
	}
	return ready, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.fd)
}

func (in *fdInterest) events() uint32 {
	var e uint32
	if in.readers > 0 {
		e |= unix.EPOLLIN
	}
	if in.writers > 0 {
		e |= unix.EPOLLOUT
	}
	return e
}
