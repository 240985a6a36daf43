// response assembly into the connection's write buffer, zero-alloc
package protocol

import (
	"github.com/kfcemployee/tinyweb/server/engine"
)

var (
	proto = []byte("HTTP/1.1 ")
	crlf  = []byte("\r\n")
	sp    = []byte(" ")

	hdrCL    = []byte("Content-Length: ")
	hdrCT    = []byte("Content-Type:text/html\r\n")
	hdrKeep  = []byte("Connection: keep-alive\r\n")
	hdrClose = []byte("Connection: close\r\n")

	ok200Title = []byte("OK")

	err400Title = []byte("Bad Request")
	err400Form  = []byte("Your request has bad syntax or is inherently impossible to satisfy.\n")
	err403Title = []byte("Forbidden")
	err403Form  = []byte("You do not have permission to get file from this server.\n")
	err404Title = []byte("Not Found")
	err404Form  = []byte("The requested file was not found on this server.\n")
	err500Title = []byte("Internal Error")
	err500Form  = []byte("There was an unusual problem serving the requested file.\n")
)

// helper func to copy int to pre-allocated buf with zero-alloc
// n is uint bc / 10 and % 10 for uints is faster (division by invariant
// integers), and our lengths and codes are never negative
func IntToBuf(buf []byte, n uint) int {
	if n == 0 {
		buf[0] = '0'
		return 1
	}

	var tmp [20]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte(n%10) + '0'
		n /= 10
	}
	return copy(buf, tmp[i:])
}

// append parts to the write buffer; false if they would not fit
func add(c *engine.Conn, parts ...[]byte) bool {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	if c.WriteIdx+n >= engine.WriteBufSize {
		return false
	}
	for _, p := range parts {
		c.WriteIdx += copy(c.WriteBuf[c.WriteIdx:], p)
	}
	return true
}

func addStatusLine(c *engine.Conn, status int, title []byte) bool {
	var num [20]byte
	n := IntToBuf(num[:], uint(status))
	return add(c, proto, num[:n], sp, title, crlf)
}

func addHeaders(c *engine.Conn, contentLen int) bool {
	return addContentLength(c, contentLen) && addContentType(c) && addLinger(c) && addBlankLine(c)
}

func addContentLength(c *engine.Conn, contentLen int) bool {
	var num [20]byte
	n := IntToBuf(num[:], uint(contentLen))
	return add(c, hdrCL, num[:n], crlf)
}

func addContentType(c *engine.Conn) bool {
	return add(c, hdrCT)
}

func addLinger(c *engine.Conn) bool {
	if c.KeepAlive {
		return add(c, hdrKeep)
	}
	return add(c, hdrClose)
}

func addBlankLine(c *engine.Conn) bool {
	return add(c, crlf)
}

func addContent(c *engine.Conn, body []byte) bool {
	return add(c, body)
}

// BuildResponse fills the write buffer and the gather vector for code.
// A head that overflows the buffer is replaced with the 500 response;
// false means not even that fit and the caller should drop the
// connection.
func BuildResponse(c *engine.Conn, code Code) bool {
	c.WriteIdx = 0

	switch code {
	case FileRequest:
		if addStatusLine(c, 200, ok200Title) && addHeaders(c, int(c.FileStat.Size)) {
			c.IOV[0] = c.WriteBuf[:c.WriteIdx]
			c.IOVCount = 1
			if len(c.FileData) > 0 {
				c.IOV[1] = c.FileData
				c.IOVCount = 2
			}
			c.ToSend = c.WriteIdx + len(c.FileData)
			c.Sent = 0
			return true
		}
	case BadRequest:
		if buildError(c, 400, err400Title, err400Form) {
			return finishInline(c)
		}
	case NoResource:
		if buildError(c, 404, err404Title, err404Form) {
			return finishInline(c)
		}
	case ForbiddenRequest:
		if buildError(c, 403, err403Title, err403Form) {
			return finishInline(c)
		}
	case InternalError:
		if buildError(c, 500, err500Title, err500Form) {
			return finishInline(c)
		}
		return false
	default:
		return false
	}

	// head overflow: answer 500 instead
	c.WriteIdx = 0
	if buildError(c, 500, err500Title, err500Form) {
		return finishInline(c)
	}
	return false
}

func buildError(c *engine.Conn, status int, title, form []byte) bool {
	return addStatusLine(c, status, title) && addHeaders(c, len(form)) && addContent(c, form)
}

func finishInline(c *engine.Conn) bool {
	c.IOV[0] = c.WriteBuf[:c.WriteIdx]
	c.IOVCount = 1
	c.ToSend = c.WriteIdx
	c.Sent = 0
	return true
}
