// reactor: owns the listening socket and the epoll instance,
// routes readiness events, nothing else touches epoll_wait
package engine

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const (
	MaxFD     = 65536 // connection slots, indexed by descriptor
	maxEvents = 10000
	backlog   = 5
)

// worker entry point, runs with the descriptor disarmed (oneshot fired)
type HandleFunc func(*Conn)

type Reactor struct {
	epfd     int
	listenFd int
	port     int

	// slot per descriptor, filled lazily on first accept and reused
	// for the lifetime of the process
	conns     []*Conn
	userCount atomic.Int64

	queue *ConnQueue
	pool  *Pool
}

func NewReactor(port int, handle HandleFunc) (*Reactor, error) {
	lfd, lport, err := listenSocket(port)
	if err != nil {
		return nil, err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(lfd)
		return nil, err
	}

	// the listener stays level-triggered with no oneshot: only the
	// reactor thread ever accepts
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, lfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(lfd),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(lfd)
		return nil, err
	}

	queue, err := NewConnQueue(maxRequests)
	if err != nil {
		unix.Close(epfd)
		unix.Close(lfd)
		return nil, err
	}

	r := &Reactor{
		epfd:     epfd,
		listenFd: lfd,
		port:     lport,
		conns:    make([]*Conn, MaxFD),
		queue:    queue,
	}
	r.pool = NewPool(queue, handle, defaultWorkers)
	return r, nil
}

// Port reports the bound port; useful when 0 was requested.
func (r *Reactor) Port() int {
	return r.port
}

// Run blocks on the readiness wait forever.
func (r *Reactor) Run() error {
	r.pool.Start()

	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			ev := events[i].Events

			if fd == r.listenFd {
				r.accept()
				continue
			}
			c := r.conns[fd]
			if c == nil {
				continue
			}

			switch {
			case ev&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0:
				c.Close()
			case ev&unix.EPOLLIN != 0:
				if !c.Read() || !r.queue.Enqueue(c) {
					c.Close()
				}
			case ev&unix.EPOLLOUT != 0:
				if !c.Write() {
					c.Close()
				}
			}
		}
	}
}

// drain the accept queue; excess connections past the slot limit are
// shed by closing them immediately
func (r *Reactor) accept() {
	for {
		nfd, sa, err := unix.Accept4(r.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if nfd >= MaxFD || r.userCount.Load() >= MaxFD {
			unix.Close(nfd)
			continue
		}
		c := r.conns[nfd]
		if c == nil {
			c = &Conn{Fd: -1}
			r.conns[nfd] = c
		}
		if err := c.init(r, nfd, sa); err != nil {
			c.Fd = -1
			unix.Close(nfd)
		}
	}
}

// Shutdown is best effort: stop the workers, close the listener.
// In-flight connections are abandoned to process exit.
func (r *Reactor) Shutdown() {
	r.pool.Stop()
	unix.Close(r.listenFd)
}

func listenSocket(port int) (int, int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, 0, err
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return -1, 0, err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, 0, err
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, 0, err
	}
	inet, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		unix.Close(fd)
		return -1, 0, unix.EINVAL
	}
	return fd, inet.Port, nil
}

// accepted sockets are edge-triggered oneshot: a delivered event disarms
// the descriptor, and whichever thread finishes with the connection
// re-arms it; that hand-off is the mutual exclusion between reactor
// and workers
func (r *Reactor) add(fd int, ev uint32) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: ev | unix.EPOLLET | unix.EPOLLRDHUP | unix.EPOLLONESHOT,
		Fd:     int32(fd),
	})
}

func (r *Reactor) mod(fd int, ev uint32) {
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: ev | unix.EPOLLET | unix.EPOLLRDHUP | unix.EPOLLONESHOT,
		Fd:     int32(fd),
	})
}

func (r *Reactor) del(fd int) {
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}
