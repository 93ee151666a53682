package gpsclient

import (
	"bufio"
	"net"
	"testing"
	"time"
)

// fakeGpsd accepts one connection, consumes the WATCH command, then
// writes each of lines in order (caller controls pacing via a channel).
func fakeGpsd(t *testing.T) (addr string, send func(line string), close_ func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		r.ReadString('\n') // consume WATCH command
		connCh <- conn
	}()

	send = func(line string) {
		select {
		case conn := <-connCh:
			conn.Write([]byte(line + "\n"))
			connCh <- conn
		case <-time.After(2 * time.Second):
			t.Error("no client connected within timeout")
		}
	}
	return ln.Addr().String(), send, func() { ln.Close() }
}

func splitHostPort(t *testing.T, addr string) (string, string) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	return host, port
}

func TestPosition_ReturnsFixFromTPVReport(t *testing.T) {
	addr, send, closeSrv := fakeGpsd(t)
	defer closeSrv()
	host, port := splitHostPort(t, addr)

	cfg := DefaultConfig()
	cfg.Host, cfg.Port = host, port
	cfg.ReadTimeout = time.Second
	c := New(cfg)

	done := make(chan struct{})
	go func() {
		send(`{"class":"TPV","mode":3,"lat":1.0,"lon":2.0,"epx":5,"epy":3}`)
		close(done)
	}()

	fix, ok := c.Position()
	<-done
	if !ok {
		t.Fatal("expected a fix")
	}
	if fix.Lat != 1.0 || fix.Lon != 2.0 || fix.Mode != 3 || fix.Accuracy != 5 {
		t.Fatalf("fix = %+v", fix)
	}
}

func TestPosition_SkipsNonTPVAndNoFixReports(t *testing.T) {
	addr, send, closeSrv := fakeGpsd(t)
	defer closeSrv()
	host, port := splitHostPort(t, addr)

	cfg := DefaultConfig()
	cfg.Host, cfg.Port = host, port
	cfg.ReadTimeout = time.Second
	c := New(cfg)

	go func() {
		send(`{"class":"VERSION","release":"3.20"}`)
		send(`{"class":"TPV","mode":0}`)
		send(`{"class":"TPV","mode":3,"lat":10,"lon":20,"epx":1,"epy":1}`)
	}()

	fix, ok := c.Position()
	if !ok {
		t.Fatal("expected eventual fix after skipping non-fix reports")
	}
	if fix.Lat != 10 || fix.Lon != 20 {
		t.Fatalf("fix = %+v", fix)
	}
}

func TestPosition_DialFailureReturnsFalseAndBacksOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host, cfg.Port = "127.0.0.1", "1" // nothing listening
	cfg.DialTimeout = 200 * time.Millisecond
	c := New(cfg)

	_, ok := c.Position()
	if ok {
		t.Fatal("expected no fix when daemon is unreachable")
	}
	if c.failCount != 1 {
		t.Fatalf("failCount = %d, want 1", c.failCount)
	}
	if !c.nextAttempt.After(time.Now()) {
		t.Fatal("expected a future backoff window after a dial failure")
	}

	// A call within the backoff window must not attempt to reconnect.
	_, ok = c.Position()
	if ok {
		t.Fatal("expected no fix while still within backoff window")
	}
	if c.failCount != 1 {
		t.Fatalf("failCount = %d, want 1 (no new dial attempt during backoff)", c.failCount)
	}
}

func TestPosition_ReconnectsAfterConnectionDrop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	host, port := splitHostPort(t, ln.Addr().String())

	var gotSecond = make(chan struct{}, 1)
	go func() {
		conn1, err := ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn1)
		r.ReadString('\n')
		conn1.Close() // drop immediately, before any TPV line

		conn2, err := ln.Accept()
		if err != nil {
			return
		}
		r2 := bufio.NewReader(conn2)
		r2.ReadString('\n')
		conn2.Write([]byte(`{"class":"TPV","mode":2,"lat":5,"lon":6,"epx":0,"epy":0}` + "\n"))
		gotSecond <- struct{}{}
	}()

	cfg := DefaultConfig()
	cfg.Host, cfg.Port = host, port
	cfg.ReadTimeout = 500 * time.Millisecond
	cfg.ReconnectMin = time.Millisecond
	cfg.ReconnectMax = 5 * time.Millisecond
	c := New(cfg)

	_, ok := c.Position() // first call: connects, then conn is dropped before any data
	if ok {
		t.Fatal("first call should fail (dropped connection, no data)")
	}

	select {
	case <-gotSecond:
	case <-time.After(2 * time.Second):
	}
	time.Sleep(5 * time.Millisecond) // clear the short backoff window

	fix, ok := c.Position()
	if !ok {
		t.Fatal("expected a fix after reconnecting")
	}
	if fix.Lat != 5 || fix.Lon != 6 || fix.Mode != 2 {
		t.Fatalf("fix = %+v", fix)
	}
}

func TestDefaultConfig_HonorsEnvironmentOverrides(t *testing.T) {
	t.Setenv("PW_GPSD_HOST", "1.2.3.4")
	t.Setenv("PW_GPSD_PORT", "1234")
	cfg := DefaultConfig()
	if cfg.Host != "1.2.3.4" || cfg.Port != "1234" {
		t.Fatalf("cfg = %+v, want host/port from environment", cfg)
	}
}
