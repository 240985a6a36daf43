// incremental http/1.1 request parser: a crlf line classifier under a
// request-line/header/content state machine, zero-copy over the
// connection's read buffer
package protocol

import (
	"bytes"

	"golang.org/x/net/http/httpguts"

	"github.com/kfcemployee/tinyweb/server/engine"
)

// stateless; all parse position lives on the connection
type Parser struct{}

var (
	methodGet   = []byte("GET")
	httpVersion = []byte("HTTP/1.1")
	httpScheme  = []byte("http://")

	hdrConnection    = []byte("Connection:")
	hdrContentLength = []byte("Content-Length:")
	hdrHost          = []byte("Host:")
	valKeepAlive     = []byte("keep-alive")
)

// Parse consumes whatever complete lines the buffer holds and advances
// the connection's state machine. NoRequest means wait for more bytes;
// GetRequest means a full request is ready for resolution; anything
// else is the error to answer with.
func (p Parser) Parse(c *engine.Conn) Code {
	status := lineOK
	for {
		if c.State == engine.StateContent && status == lineOK {
			// body bytes carry no line terminator
		} else {
			if status = parseLine(c); status != lineOK {
				break
			}
		}

		st := c.StartLine
		c.StartLine = c.CheckedIdx

		switch c.State {
		case engine.StateRequestLine:
			if code := p.parseRequestLine(c, st); code != NoRequest {
				return code
			}
		case engine.StateHeader:
			code := p.parseHeader(c, st)
			if code != NoRequest {
				return code
			}
		case engine.StateContent:
			if c.ReadIdx >= c.ContentLength+c.CheckedIdx {
				return GetRequest
			}
			status = lineOpen
		default:
			return InternalError
		}
	}

	if status == lineBad {
		return BadRequest
	}
	return NoRequest
}

// classify one logical line; on lineOK CheckedIdx ends up just past the
// crlf, so the line body is ReadBuf[StartLine : CheckedIdx-2]
func parseLine(c *engine.Conn) lineStatus {
	for ; c.CheckedIdx < c.ReadIdx; c.CheckedIdx++ {
		switch c.ReadBuf[c.CheckedIdx] {
		case '\r':
			if c.CheckedIdx+1 == c.ReadIdx {
				// lone cr at the buffer end, wait for the lf
				return lineOpen
			}
			if c.ReadBuf[c.CheckedIdx+1] == '\n' {
				c.CheckedIdx += 2
				return lineOK
			}
			return lineBad
		case '\n':
			if c.CheckedIdx > c.StartLine && c.ReadBuf[c.CheckedIdx-1] == '\r' {
				c.CheckedIdx++
				return lineOK
			}
			return lineBad
		}
	}
	return lineOpen
}

// method, url and version; only GET over HTTP/1.1 is served
func (p Parser) parseRequestLine(c *engine.Conn, st int) Code {
	line := c.ReadBuf[st : c.CheckedIdx-2]

	i := bytes.IndexAny(line, " \t")
	if i < 0 {
		return BadRequest
	}
	if !bytes.EqualFold(line[:i], methodGet) {
		return BadRequest
	}
	c.Method = engine.MethodGet

	urlSt := i + 1
	for urlSt < len(line) && (line[urlSt] == ' ' || line[urlSt] == '\t') {
		urlSt++
	}
	j := bytes.IndexAny(line[urlSt:], " \t")
	if j < 0 {
		return BadRequest
	}
	urlEnd := urlSt + j

	verSt := urlEnd + 1
	for verSt < len(line) && (line[verSt] == ' ' || line[verSt] == '\t') {
		verSt++
	}
	if !bytes.EqualFold(line[verSt:], httpVersion) {
		return BadRequest
	}
	c.Version = engine.View{St: uint16(st + verSt), End: uint16(st + len(line))}

	url := line[urlSt:urlEnd]
	if len(url) >= len(httpScheme) && bytes.EqualFold(url[:len(httpScheme)], httpScheme) {
		url = url[len(httpScheme):]
		urlSt += len(httpScheme)
		sl := bytes.IndexByte(url, '/')
		if sl < 0 {
			return BadRequest
		}
		url = url[sl:]
		urlSt += sl
	}
	if len(url) == 0 || url[0] != '/' {
		return BadRequest
	}
	c.URL = engine.View{St: uint16(st + urlSt), End: uint16(st + urlEnd)}

	c.State = engine.StateHeader
	return NoRequest
}

// three headers are recognized, the rest are skipped
func (p Parser) parseHeader(c *engine.Conn, st int) Code {
	line := c.ReadBuf[st : c.CheckedIdx-2]

	if len(line) == 0 {
		// blank line ends the header section
		if c.ContentLength > 0 {
			c.State = engine.StateContent
			return NoRequest
		}
		return GetRequest
	}

	switch {
	case hasFoldPrefix(line, hdrConnection):
		val := skipBlanks(line[len(hdrConnection):])
		if bytes.EqualFold(val, valKeepAlive) {
			c.KeepAlive = true
		}
	case hasFoldPrefix(line, hdrContentLength):
		val := skipBlanks(line[len(hdrContentLength):])
		n := 0
		for _, b := range val {
			if b < '0' || b > '9' {
				break
			}
			n = n*10 + int(b-'0')
		}
		c.ContentLength = n
	case hasFoldPrefix(line, hdrHost):
		val := skipBlanks(line[len(hdrHost):])
		if !httpguts.ValidHostHeader(string(val)) {
			return BadRequest
		}
		end := c.CheckedIdx - 2
		c.Host = engine.View{St: uint16(end - len(val)), End: uint16(end)}
	}
	return NoRequest
}

func hasFoldPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && bytes.EqualFold(b[:len(prefix)], prefix)
}

func skipBlanks(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	return b
}
