//go:build linux

package flurry

import (
	"time"

	"golang.org/x/sys/unix"

	ferrors "github.com/saveenergy/connflurry/pkg/errors"
)

const interest = unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLPRI | unix.EPOLLHUP | unix.EPOLLERR

// SlotRef identifies the registration owner: the slot's position in the
// pool array plus the generation of the socket it held when registered.
type SlotRef struct {
	Index int
	Gen   uint32
}

type Ready struct {
	Slot   SlotRef
	Events uint32
}

func (r Ready) Errored() bool {
	return r.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
}

// EventRegistry wraps an epoll instance. It never owns the descriptors it
// watches.
type EventRegistry struct {
	epfd   int
	events []unix.EpollEvent
	ready  []Ready
}

func NewEventRegistry(maxEvents int) (*EventRegistry, error) {
	if maxEvents <= 0 {
		maxEvents = 1
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, ferrors.ErrRegistry("epoll_create1", err)
	}
	return &EventRegistry{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
		ready:  make([]Ready, 0, maxEvents),
	}, nil
}

func (r *EventRegistry) Register(fd int, ref SlotRef) error {
	ev := unix.EpollEvent{
		Events: interest,
		Fd:     int32(ref.Index),
		Pad:    int32(ref.Gen),
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return ferrors.ErrRegistry("epoll_ctl add", err)
	}
	return nil
}

// Deregister tolerates descriptors the kernel already forgot.
func (r *EventRegistry) Deregister(fd int) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	switch err {
	case nil, unix.ENOENT, unix.EBADF:
		return nil
	}
	return ferrors.ErrRegistry("epoll_ctl del", err)
}

// Wait blocks for at most timeout. The returned batch is reused by the
// next call.
func (r *EventRegistry) Wait(timeout time.Duration) ([]Ready, error) {
	ms := int(timeout / time.Millisecond)
	if ms == 0 && timeout > 0 {
		ms = 1
	}

	r.ready = r.ready[:0]
	n, err := unix.EpollWait(r.epfd, r.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return r.ready, nil
		}
		return nil, ferrors.ErrRegistry("epoll_wait", err)
	}
	for _, ev := range r.events[:n] {
		r.ready = append(r.ready, Ready{
			Slot:   SlotRef{Index: int(ev.Fd), Gen: uint32(ev.Pad)},
			Events: ev.Events,
		})
	}
	return r.ready, nil
}

func (r *EventRegistry) Close() error {
	if r.epfd < 0 {
		return nil
	}
	err := unix.Close(r.epfd)
	r.epfd = -1
	return err
}
