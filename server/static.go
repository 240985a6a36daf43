package server

import (
	"golang.org/x/sys/unix"

	"github.com/kfcemployee/tinyweb/server/engine"
	"github.com/kfcemployee/tinyweb/server/protocol"
)

const (
	docRoot = "/home/tinywebsever/resources"

	// path buffer bound; longer concatenations are truncated
	maxPathLen = 200
)

// resolve maps the parsed url onto the document root and, for a regular
// world-readable file, mmaps it for the gather write.
func (s *Server) resolve(c *engine.Conn) protocol.Code {
	path := s.root + string(c.URL.AsBuf(c))
	if len(path) > maxPathLen {
		path = path[:maxPathLen]
	}

	if err := unix.Stat(path, &c.FileStat); err != nil {
		return protocol.NoResource
	}
	if c.FileStat.Mode&unix.S_IROTH == 0 {
		return protocol.ForbiddenRequest
	}
	if c.FileStat.Mode&unix.S_IFMT == unix.S_IFDIR {
		return protocol.BadRequest
	}

	if err := c.MapFile(path); err != nil {
		return protocol.InternalError
	}
	return protocol.FileRequest
}
