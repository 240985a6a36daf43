// connection slot state and raw socket i/o
// one Conn per accepted descriptor, indexed by the descriptor itself
package engine

import (
	"golang.org/x/sys/unix"
)

const (
	ReadBufSize  = 2048
	WriteBufSize = 1024
)

// parser progress for the request currently in the read buffer
type CheckState int

const (
	StateRequestLine CheckState = iota
	StateHeader
	StateContent
)

type Method int

const (
	MethodGet Method = iota
	MethodPost
	MethodHead
	MethodPut
	MethodDelete
	MethodTrace
	MethodOptions
	MethodConnect
)

// view for a token inside the read buffer
// offsets instead of subslices so Reset stays a plain zeroing
type View struct {
	St, End uint16
}

func (v View) AsBuf(c *Conn) []byte {
	return c.ReadBuf[v.St:v.End]
}

func (v View) Empty() bool {
	return v.St == v.End
}

// Conn is the per-socket slot: buffers, parser cursor, request metadata,
// the assembled response and the file mapping backing it.
// Fd == -1 means the slot is free.
type Conn struct {
	Fd   int
	Peer unix.Sockaddr

	ReadBuf    [ReadBufSize]byte
	ReadIdx    int // bytes valid in ReadBuf
	CheckedIdx int // next byte the line classifier inspects
	StartLine  int // where the current logical line begins

	State         CheckState
	Method        Method
	URL           View
	Version       View
	Host          View
	ContentLength int
	KeepAlive     bool

	FileStat unix.Stat_t
	FileData []byte // read-only private mapping, nil when not held

	WriteBuf [WriteBufSize]byte
	WriteIdx int

	// gather vector: [response head, file mapping]
	IOV      [2][]byte
	IOVCount int

	ToSend int
	Sent   int

	r *Reactor
}

// take ownership of an accepted descriptor
func (c *Conn) init(r *Reactor, fd int, peer unix.Sockaddr) error {
	c.r = r
	c.Fd = fd
	c.Peer = peer

	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := r.add(fd, unix.EPOLLIN); err != nil {
		return err
	}
	r.userCount.Add(1)

	c.Reset()
	return nil
}

// Reset clears the buffers, parser cursor, request metadata and gather
// vector so a keep-alive connection parses its next request from a clean
// slate. The descriptor, peer, file stat and any held mapping are left
// as they are.
func (c *Conn) Reset() {
	c.ReadIdx = 0
	c.CheckedIdx = 0
	c.StartLine = 0

	c.State = StateRequestLine
	c.Method = MethodGet
	c.URL = View{}
	c.Version = View{}
	c.Host = View{}
	c.ContentLength = 0
	c.KeepAlive = false

	c.WriteIdx = 0
	c.IOV[0] = nil
	c.IOV[1] = nil
	c.IOVCount = 0
	c.ToSend = 0
	c.Sent = 0

	c.ReadBuf = [ReadBufSize]byte{}
	c.WriteBuf = [WriteBufSize]byte{}
}

// Close is idempotent; the mapping is released before the descriptor.
func (c *Conn) Close() {
	if c.Fd == -1 {
		return
	}
	c.Unmap()
	if c.r != nil {
		c.r.del(c.Fd)
	}
	unix.Close(c.Fd)
	c.Fd = -1
	if c.r != nil {
		c.r.userCount.Add(-1)
	}
}

// Read drains the socket until the kernel would block.
// false means the peer closed, the read failed, or the buffer was
// already full on entry; the caller closes the connection.
func (c *Conn) Read() bool {
	if c.ReadIdx >= ReadBufSize {
		return false
	}
	for c.ReadIdx < ReadBufSize {
		n, err := unix.Read(c.Fd, c.ReadBuf[c.ReadIdx:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				break
			}
			return false
		}
		if n == 0 {
			return false
		}
		c.ReadIdx += n
	}
	return true
}

// Write pushes the gather vector out until done or the socket blocks.
// false tells the reactor to close the connection.
func (c *Conn) Write() bool {
	if c.WriteIdx == 0 {
		c.RearmRead()
		c.Reset()
		return true
	}
	for {
		n, err := unix.Writev(c.Fd, c.IOV[:c.IOVCount])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				c.RearmWrite()
				return true
			}
			c.Unmap()
			return false
		}
		c.Sent += n
		if c.Sent >= c.ToSend {
			c.Unmap()
			if c.KeepAlive {
				c.Reset()
				c.RearmRead()
				return true
			}
			c.RearmRead()
			return false
		}
		c.retarget()
	}
}

// re-aim the gather vector past what has already been sent
func (c *Conn) retarget() {
	if c.Sent < c.WriteIdx {
		c.IOV[0] = c.WriteBuf[c.Sent:c.WriteIdx]
		if len(c.FileData) > 0 {
			c.IOV[1] = c.FileData
			c.IOVCount = 2
		}
		return
	}
	c.IOV[0] = c.FileData[c.Sent-c.WriteIdx:]
	c.IOVCount = 1
}

// MapFile maps the target read-only; the descriptor is closed right away,
// the mapping outlives it.
func (c *Conn) MapFile(path string) error {
	if c.FileStat.Size == 0 {
		return nil
	}
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	data, err := unix.Mmap(fd, 0, int(c.FileStat.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	unix.Close(fd)
	if err != nil {
		return err
	}
	c.FileData = data
	return nil
}

// Unmap releases the mapping; safe to call when none is held.
func (c *Conn) Unmap() {
	if c.FileData != nil {
		unix.Munmap(c.FileData)
		c.FileData = nil
	}
}

// one-shot registrations disarm after each event, so every hand-off
// between reactor and worker ends in exactly one of these
func (c *Conn) RearmRead() {
	if c.r != nil {
		c.r.mod(c.Fd, unix.EPOLLIN)
	}
}

func (c *Conn) RearmWrite() {
	if c.r != nil {
		c.r.mod(c.Fd, unix.EPOLLOUT)
	}
}
