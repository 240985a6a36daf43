package server

import (
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/kfcemployee/tinyweb/server/engine"
	"github.com/kfcemployee/tinyweb/server/protocol"
)

// Server wires the engine to the protocol layer: the reactor drains
// sockets and transmits responses, the workers run process below.
type Server struct {
	port int
	root string
	prs  protocol.Parser
	rea  *engine.Reactor
}

func New(port int) *Server {
	return &Server{port: port, root: docRoot}
}

// Run blocks in the reactor loop.
func (s *Server) Run() error {
	// a peer closing mid-write must surface as an error return,
	// not kill the process
	signal.Ignore(unix.SIGPIPE)

	rea, err := engine.NewReactor(s.port, s.process)
	if err != nil {
		return err
	}
	s.rea = rea
	return rea.Run()
}

// process is the worker entry: one pass of parse, resolve and response
// assembly. The reactor drained the socket before enqueueing, so this
// never reads; whoever holds the connection ends the pass with exactly
// one re-arm or a close.
func (s *Server) process(c *engine.Conn) {
	code := s.prs.Parse(c)
	if code == protocol.NoRequest {
		c.RearmRead()
		return
	}

	if code == protocol.GetRequest {
		code = s.resolve(c)
	}

	if !protocol.BuildResponse(c, code) {
		c.Close()
		return
	}
	c.RearmWrite()
}
