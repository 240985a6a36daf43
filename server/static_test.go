package server

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kfcemployee/tinyweb/server/engine"
	"github.com/kfcemployee/tinyweb/server/protocol"
)

func docRootForTest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	// TempDir comes up 0700; the root itself must be world-readable
	// for the directory scenario
	if err := os.Chmod(dir, 0755); err != nil {
		t.Fatal(err)
	}

	write := func(name string, data []byte, mode os.FileMode) {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, mode); err != nil {
			t.Fatal(err)
		}
		// umask-proof
		if err := os.Chmod(path, mode); err != nil {
			t.Fatal(err)
		}
	}
	write("index.html", []byte("hello world"), 0644)
	write("secret", []byte("top secret\n"), 0600)

	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func connWithURL(t *testing.T, url string) *engine.Conn {
	t.Helper()
	c := &engine.Conn{Fd: -1}
	c.Reset()
	n := copy(c.ReadBuf[:], url)
	if n != len(url) {
		t.Fatalf("url %q does not fit the read buffer", url)
	}
	c.URL = engine.View{St: 0, End: uint16(n)}
	return c
}

func Test_resolve(t *testing.T) {
	s := &Server{root: docRootForTest(t)}

	tests := []struct {
		name string
		url  string
		want protocol.Code
	}{
		{"regular file", "/index.html", protocol.FileRequest},
		{"missing file", "/missing", protocol.NoResource},
		{"not world readable", "/secret", protocol.ForbiddenRequest},
		{"directory", "/sub", protocol.BadRequest},
		{"doc root itself", "/", protocol.BadRequest},
		{"overlong path truncated", "/" + strings.Repeat("x", 300), protocol.NoResource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := connWithURL(t, tt.url)
			got := s.resolve(c)
			if got != tt.want {
				t.Fatalf("resolve(%q) = %v, want %v", tt.url, got, tt.want)
			}
			if got == protocol.FileRequest {
				if !bytes.Equal(c.FileData, []byte("hello world")) {
					t.Errorf("mapping = %q", c.FileData)
				}
				c.Unmap()
			}
		})
	}
}
