//go:build !linux

package evloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// selectPoller backs non-Linux builds with select(2) via golang.org/x/sys/unix,
// which implements the same Want semantics as the epoll backend but is
// level-triggered in the same observable way (a fd flagged ready stays
// ready until something drains it). Bounded by FD_SETSIZE, which is fine
// for the connection counts this teaching server is built for.
type selectPoller struct {
	readers map[int]int
	writers map[int]int
}

func newPoller() (poller, error) {
	return &selectPoller{readers: make(map[int]int), writers: make(map[int]int)}, nil
}

func (p *selectPoller) add(fd int, want Want) error {
	if want == Readable {
		p.readers[fd]++
	} else {
		p.writers[fd]++
	}
	return nil
}

func (p *selectPoller) remove(fd int, want Want) error {
	if want == Readable {
		if p.readers[fd] > 0 {
			p.readers[fd]--
		}
		if p.readers[fd] == 0 {
			delete(p.readers, fd)
		}
	} else {
		if p.writers[fd] > 0 {
			p.writers[fd]--
		}
		if p.writers[fd] == 0 {
			delete(p.writers, fd)
		}
	}
	return nil
}

func (p *selectPoller) wait(timeout time.Duration) (map[int]Want, error) {
	var rfds, wfds unix.FdSet
	maxFD := 0

	for fd := range p.readers {
		rfds.Set(fd)
		if fd > maxFD {
			maxFD = fd
		}
	}
	for fd := range p.writers {
		wfds.Set(fd)
		if fd > maxFD {
			maxFD = fd
		}
	}

	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	_, err := unix.Select(maxFD+1, &rfds, &wfds, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return map[int]Want{}, nil
		}
		return nil, err
	}

	ready := make(map[int]Want)
	for fd := range p.readers {
		if rfds.IsSet(fd) {
			ready[fd] = Readable
		}
	}
	for fd := range p.writers {
		if _, taken := ready[fd]; !taken && wfds.IsSet(fd) {
			ready[fd] = Writable
		}
	}
	return ready, nil
}

func (p *selectPoller) close() error {
	return nil
}
