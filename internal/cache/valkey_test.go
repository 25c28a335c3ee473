package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeValkey speaks just enough RESP to exercise the provider: PING, AUTH,
// SET with optional PX, GET and DEL.
type fakeValkey struct {
	ln       net.Listener
	mu       sync.Mutex
	data     map[string]string
	password string
}

func newFakeValkey(t *testing.T, password string) *fakeValkey {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeValkey{ln: ln, data: map[string]string{}, password: password}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeValkey) addr() string {
	return f.ln.Addr().String()
}

func (f *fakeValkey) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeValkey) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		cmd, err := readRESPCommand(reader)
		if err != nil {
			return
		}
		f.dispatch(conn, cmd)
	}
}

func readRESPCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	header = strings.TrimRight(header, "\r\n")
	if !strings.HasPrefix(header, "*") {
		return nil, fmt.Errorf("expected array header, got %q", header)
	}
	count, err := strconv.Atoi(header[1:])
	if err != nil {
		return nil, err
	}
	parts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeLine = strings.TrimRight(sizeLine, "\r\n")
		if !strings.HasPrefix(sizeLine, "$") {
			return nil, fmt.Errorf("expected bulk header, got %q", sizeLine)
		}
		size, err := strconv.Atoi(sizeLine[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		parts = append(parts, string(buf[:size]))
	}
	return parts, nil
}

func (f *fakeValkey) dispatch(conn net.Conn, cmd []string) {
	if len(cmd) == 0 {
		return
	}
	switch strings.ToUpper(cmd[0]) {
	case "PING":
		io.WriteString(conn, "+PONG\r\n")
	case "AUTH":
		if f.password != "" && cmd[len(cmd)-1] != f.password {
			io.WriteString(conn, "-ERR invalid password\r\n")
			return
		}
		io.WriteString(conn, "+OK\r\n")
	case "SET":
		f.mu.Lock()
		f.data[cmd[1]] = cmd[2]
		f.mu.Unlock()
		io.WriteString(conn, "+OK\r\n")
	case "GET":
		f.mu.Lock()
		value, ok := f.data[cmd[1]]
		f.mu.Unlock()
		if !ok {
			io.WriteString(conn, "$-1\r\n")
			return
		}
		fmt.Fprintf(conn, "$%d\r\n%s\r\n", len(value), value)
	case "DEL":
		f.mu.Lock()
		delete(f.data, cmd[1])
		f.mu.Unlock()
		io.WriteString(conn, ":1\r\n")
	default:
		io.WriteString(conn, "-ERR unknown command\r\n")
	}
}

func newTestProvider(t *testing.T, addr, password string) *ValkeyProvider {
	t.Helper()
	provider, err := NewValkeyProvider(ValkeyConfig{
		Addr:         addr,
		Password:     password,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	t.Cleanup(func() { provider.Close() })
	return provider
}

func TestValkeyProviderRoundTrip(t *testing.T) {
	srv := newFakeValkey(t, "")
	provider := newTestProvider(t, srv.addr(), "")
	ctx := context.Background()

	if _, err := provider.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}

	if err := provider.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := provider.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("unexpected value %q", got)
	}

	if err := provider.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := provider.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss after del, got %v", err)
	}
}

func TestValkeyProviderAuth(t *testing.T) {
	srv := newFakeValkey(t, "sesame")
	provider := newTestProvider(t, srv.addr(), "sesame")

	if err := provider.Set(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatalf("set with auth: %v", err)
	}

	if _, err := NewValkeyProvider(ValkeyConfig{
		Addr:        srv.addr(),
		Password:    "wrong",
		DialTimeout: time.Second,
	}); err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestValkeyProviderConnectFailure(t *testing.T) {
	if _, err := NewValkeyProvider(ValkeyConfig{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	}); err == nil {
		t.Fatal("expected connection error")
	}
}
