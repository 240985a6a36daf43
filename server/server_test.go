package server

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/kfcemployee/tinyweb/server/engine"
)

const (
	resp200Close = "HTTP/1.1 200 OK\r\nContent-Length: 11\r\nContent-Type:text/html\r\nConnection: close\r\n\r\nhello world"
	resp200Keep  = "HTTP/1.1 200 OK\r\nContent-Length: 11\r\nContent-Type:text/html\r\nConnection: keep-alive\r\n\r\nhello world"
	resp404      = "HTTP/1.1 404 Not Found\r\nContent-Length: 49\r\nContent-Type:text/html\r\nConnection: close\r\n\r\n" +
		"The requested file was not found on this server.\n"
	resp403 = "HTTP/1.1 403 Forbidden\r\nContent-Length: 57\r\nContent-Type:text/html\r\nConnection: close\r\n\r\n" +
		"You do not have permission to get file from this server.\n"
	resp400 = "HTTP/1.1 400 Bad Request\r\nContent-Length: 68\r\nContent-Type:text/html\r\nConnection: close\r\n\r\n" +
		"Your request has bad syntax or is inherently impossible to satisfy.\n"
)

// spins up a reactor on an ephemeral port over a populated doc root
func startServer(t *testing.T) string {
	t.Helper()

	srv := &Server{root: docRootForTest(t)}
	rea, err := engine.NewReactor(0, srv.process)
	if err != nil {
		t.Fatal(err)
	}
	go rea.Run()

	return fmt.Sprintf("127.0.0.1:%d", rea.Port())
}

func dialServer(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// one request, read to EOF (the server closes non-keep-alive conns)
func roundTrip(t *testing.T, addr, req string) string {
	t.Helper()
	conn := dialServer(t, addr)
	defer conn.Close()

	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatal(err)
	}
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	return string(resp)
}

func Test_serve_file(t *testing.T) {
	addr := startServer(t)

	got := roundTrip(t, addr, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
	if got != resp200Close {
		t.Fatalf("response\n got %q\nwant %q", got, resp200Close)
	}
}

// the same request split across segments yields byte-identical output
func Test_serve_file_segmented(t *testing.T) {
	addr := startServer(t)
	conn := dialServer(t, addr)
	defer conn.Close()

	for _, part := range []string{"GET /index", ".html HT", "TP/1.1\r\nHost: x\r", "\n\r\n"} {
		if _, err := conn.Write([]byte(part)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != resp200Close {
		t.Fatalf("response\n got %q\nwant %q", resp, resp200Close)
	}
}

// keep-alive: same connection serves request after request
func Test_keepalive_reuse(t *testing.T) {
	addr := startServer(t)
	conn := dialServer(t, addr)
	defer conn.Close()

	req := "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\nHost: x\r\n\r\n"
	for round := 0; round < 3; round++ {
		if _, err := conn.Write([]byte(req)); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		buf := make([]byte, len(resp200Keep))
		if _, err := io.ReadFull(conn, buf); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if string(buf) != resp200Keep {
			t.Fatalf("round %d:\n got %q\nwant %q", round, buf, resp200Keep)
		}
	}
}

func Test_not_found(t *testing.T) {
	addr := startServer(t)

	got := roundTrip(t, addr, "GET /missing HTTP/1.1\r\n\r\n")
	if got != resp404 {
		t.Fatalf("response\n got %q\nwant %q", got, resp404)
	}
}

func Test_forbidden(t *testing.T) {
	addr := startServer(t)

	got := roundTrip(t, addr, "GET /secret HTTP/1.1\r\n\r\n")
	if got != resp403 {
		t.Fatalf("response\n got %q\nwant %q", got, resp403)
	}
}

func Test_method_rejected(t *testing.T) {
	addr := startServer(t)

	got := roundTrip(t, addr, "POST / HTTP/1.1\r\n\r\n")
	if got != resp400 {
		t.Fatalf("response\n got %q\nwant %q", got, resp400)
	}
}

func Test_directory_rejected(t *testing.T) {
	addr := startServer(t)

	got := roundTrip(t, addr, "GET / HTTP/1.1\r\n\r\n")
	if got != resp400 {
		t.Fatalf("response\n got %q\nwant %q", got, resp400)
	}
}
