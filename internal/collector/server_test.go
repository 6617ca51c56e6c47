package collector

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pilot-net/edgecompress/internal/compress"
	"github.com/pilot-net/edgecompress/internal/dictionary"
	"github.com/pilot-net/edgecompress/internal/frame"
	"github.com/pilot-net/edgecompress/internal/metrics"
	"github.com/pilot-net/edgecompress/internal/types"
)

func newTestServer(t *testing.T) (*Server, context.CancelFunc, string) {
	t.Helper()
	dir := t.TempDir()
	appender, err := NewAppender(dir)
	if err != nil {
		t.Fatalf("NewAppender: %v", err)
	}
	t.Cleanup(func() { appender.Close() })

	srv := New(Config{
		ListenAddr: "127.0.0.1:0",
		Dicts:      dictionary.New(1),
		Appender:   appender,
		Codec:      compress.NewCodec(4),
		Metrics:    metrics.New(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	go func() {
		go func() {
			for srv.Addr() == nil {
				time.Sleep(time.Millisecond)
			}
			close(ready)
		}()
		srv.Run(ctx)
	}()
	<-ready
	return srv, cancel, dir
}

func TestServerDecodesAndAppendsFrame(t *testing.T) {
	srv, cancel, dir := newTestServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("\n")); err != nil {
		t.Fatalf("auth line write: %v", err)
	}

	codec := compress.NewCodec(4)
	raw := []byte("{\"a\":1}\n{\"a\":2}")
	payload, err := codec.Compress("sensor.temp", 0, nil, 3, raw)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	header := types.Header{
		V: types.ProtocolVersion, Topic: "sensor.temp", DictID: 0,
		Count: 2, RawLen: len(raw), CompLen: len(payload), Level: 3,
	}
	if err := frame.Write(conn, header, payload); err != nil {
		t.Fatalf("frame.Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	path := filepath.Join(dir, "sensor.temp.jsonl")
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && string(data) == "{\"a\":1}\n{\"a\":2}\n" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("appended file did not reach expected contents in time")
}

func TestServerRejectsUnknownDictButKeepsConnection(t *testing.T) {
	srv, cancel, _ := newTestServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("\n")); err != nil {
		t.Fatalf("auth line write: %v", err)
	}

	header := types.Header{V: 1, Topic: "sensor.temp", DictID: 7, Count: 1, RawLen: 3, CompLen: 3, Level: 1}
	if err := frame.Write(conn, header, []byte{0, 0, 0}); err != nil {
		t.Fatalf("frame.Write: %v", err)
	}

	// The connection should remain open: the server never writes back, so a
	// read times out instead of hitting EOF, proving the server didn't close up.
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 1)
	_, err = bufio.NewReader(conn).Read(buf)
	if err == nil {
		t.Fatalf("expected read timeout (server never writes back), got data")
	}
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("expected a read timeout proving the connection is still open, got: %v", err)
	}
}
