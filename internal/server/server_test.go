package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loganszeto/respkv/internal/engine"
	"github.com/loganszeto/respkv/internal/persistence"
	"github.com/loganszeto/respkv/internal/protocol"
	"github.com/loganszeto/respkv/internal/stats"
	"github.com/loganszeto/respkv/internal/store"
	"github.com/loganszeto/respkv/internal/util"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// startServer runs the full startup sequence (open log, replay, serve) in
// process and returns the listen address and a stop func.
func startServer(t *testing.T, dataDir string, clock util.Clock) (string, func()) {
	t.Helper()
	path := persistence.Path(dataDir, "")
	aof, err := persistence.Open(path, persistence.Options{Fsync: true})
	if err != nil {
		t.Fatalf("open aof: %v", err)
	}
	st := store.NewMemTable()
	if _, err := persistence.Replay(path, st, clock.NowMs()); err != nil {
		t.Fatalf("replay: %v", err)
	}
	eng := engine.New(st, aof, engine.WithClock(clock), engine.WithLogger(quiet))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New("", eng, quiet).Serve(ctx, ln) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			if err := <-done; err != nil {
				t.Errorf("serve: %v", err)
			}
			_ = aof.Close()
		})
	}
	t.Cleanup(stop)
	return ln.Addr().String(), stop
}

type client struct {
	conn net.Conn
	rd   *protocol.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return &client{conn: conn, rd: protocol.NewReader(bufio.NewReader(conn))}
}

func (c *client) do(t *testing.T, args ...string) protocol.Value {
	t.Helper()
	if err := protocol.WriteValue(c.conn, protocol.Command(args...)); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, err := c.rd.ReadValue()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return v
}

func TestBasicSetGet(t *testing.T) {
	addr, _ := startServer(t, t.TempDir(), util.RealClock{})
	c := dial(t, addr)

	if got := c.do(t, "SET", "foo", "bar"); !got.Equal(protocol.SimpleString("OK")) {
		t.Fatalf("SET = %+v", got)
	}
	if got := c.do(t, "GET", "foo"); !got.Equal(protocol.BulkString("bar")) {
		t.Fatalf("GET = %+v", got)
	}
	if got := c.do(t, "EXISTS", "foo"); !got.Equal(protocol.Integer(1)) {
		t.Fatalf("EXISTS = %+v", got)
	}
	if got := c.do(t, "DEL", "foo"); !got.Equal(protocol.Integer(1)) {
		t.Fatalf("DEL = %+v", got)
	}
	if got := c.do(t, "GET", "foo"); !got.Equal(protocol.NullBulkString()) {
		t.Fatalf("GET after DEL = %+v", got)
	}
	if got := c.do(t, "FOO"); !got.IsError() || !strings.Contains(got.Str, "FOO does not exist") {
		t.Fatalf("FOO = %+v", got)
	}
}

func TestTTLOverTheWire(t *testing.T) {
	clock := util.NewManualClock(1_000)
	addr, _ := startServer(t, t.TempDir(), clock)
	c := dial(t, addr)

	c.do(t, "SET", "temp", "v", "EX", "1")
	clock.Advance(time.Second)
	if got := c.do(t, "GET", "temp"); !got.Equal(protocol.BulkString("v")) {
		t.Fatalf("GET at expiry instant = %+v", got)
	}
	clock.Advance(time.Millisecond)
	if got := c.do(t, "GET", "temp"); !got.Equal(protocol.NullBulkString()) {
		t.Fatalf("GET after expiry = %+v", got)
	}
}

func TestRecoveryAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	clock := util.NewManualClock(1_000)
	addr, stop := startServer(t, dir, clock)
	c := dial(t, addr)
	c.do(t, "SET", "a", "1")
	c.do(t, "SET", "b", "2", "PX", "60000")
	c.do(t, "SET", "c", "3", "PX", "10")
	stop()

	clock.Advance(time.Second)
	addr, _ = startServer(t, dir, clock)
	c = dial(t, addr)
	if got := c.do(t, "GET", "a"); !got.Equal(protocol.BulkString("1")) {
		t.Fatalf("a after restart = %+v", got)
	}
	if got := c.do(t, "GET", "b"); !got.Equal(protocol.BulkString("2")) {
		t.Fatalf("b after restart = %+v", got)
	}
	if got := c.do(t, "GET", "c"); !got.Equal(protocol.NullBulkString()) {
		t.Fatalf("expired c after restart = %+v", got)
	}
}

func TestPipelinedRequests(t *testing.T) {
	addr, _ := startServer(t, t.TempDir(), util.RealClock{})
	c := dial(t, addr)

	payload := "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n*2\r\n$3\r\nGET\r\n$1\r\nk\r\n*1\r\n$4\r\nPING\r\n"
	if _, err := io.WriteString(c.conn, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := []protocol.Value{
		protocol.SimpleString("OK"),
		protocol.BulkString("v"),
		protocol.SimpleString("PONG"),
	}
	for i, w := range want {
		got, err := c.rd.ReadValue()
		if err != nil {
			t.Fatalf("reply %d: %v", i, err)
		}
		if !got.Equal(w) {
			t.Fatalf("reply %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestProtocolErrorClosesConnection(t *testing.T) {
	addr, _ := startServer(t, t.TempDir(), util.RealClock{})
	c := dial(t, addr)

	if _, err := io.WriteString(c.conn, "*x\r\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := c.rd.ReadValue()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got.IsError() {
		t.Fatalf("expected error reply, got %+v", got)
	}
	if _, err := c.rd.ReadValue(); err != io.EOF {
		t.Fatalf("expected connection close, got %v", err)
	}
}

func TestNonArrayRequest(t *testing.T) {
	addr, _ := startServer(t, t.TempDir(), util.RealClock{})
	c := dial(t, addr)
	if _, err := io.WriteString(c.conn, "+PING\r\n"); err != nil {
		t.Fatal(err)
	}
	got, err := c.rd.ReadValue()
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsError() || got.Str != "Request must be an array of bulk strings." {
		t.Fatalf("reply = %+v", got)
	}
}

func TestConcurrentClients(t *testing.T) {
	addr, _ := startServer(t, t.TempDir(), util.RealClock{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			rd := protocol.NewReader(bufio.NewReader(conn))
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("w%d:%d", w, i)
				for _, req := range []protocol.Value{
					protocol.Command("SET", key, "v"),
					protocol.Command("GET", key),
				} {
					if err := protocol.WriteValue(conn, req); err != nil {
						errs <- err
						return
					}
					reply, err := rd.ReadValue()
					if err != nil {
						errs <- err
						return
					}
					if reply.IsError() {
						errs <- fmt.Errorf("%s: %s", key, reply.Str)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	c := dial(t, addr)
	if got := c.do(t, "DBSIZE"); !got.Equal(protocol.Integer(400)) {
		t.Fatalf("DBSIZE = %+v, want 400", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	st := stats.New()
	st.RecordSet()
	srv := httptest.NewServer(MetricsHandler(st))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "respkv_sets_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}

	health, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != 200 {
		t.Fatalf("healthz status = %d", health.StatusCode)
	}
}

func TestTrackAfterShutdownClosesConn(t *testing.T) {
	s := New("", nil, quiet)
	s.closeAll()

	local, remote := net.Pipe()
	defer remote.Close()
	if s.track(local) {
		t.Fatal("track accepted a connection after shutdown")
	}
	_ = remote.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := remote.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("read from peer = %v, want io.EOF", err)
	}
	if len(s.conns) != 0 {
		t.Fatalf("conns = %d, want 0", len(s.conns))
	}
}

func TestStopClosesIdleClients(t *testing.T) {
	addr, stop := startServer(t, t.TempDir(), util.RealClock{})
	c := dial(t, addr)
	stop()

	_ = c.conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := c.conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("client connection still open after shutdown")
	}
}
