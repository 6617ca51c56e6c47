package shipper

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/pilot-net/edgecompress/internal/frame"
	"github.com/pilot-net/edgecompress/internal/types"
)

// pipeDialer returns a Dial func that hands out one side of an in-memory
// net.Pipe per call, giving the test a server-side conn to read frames from.
func pipeDialer(t *testing.T) (dial func(ctx context.Context, address string) (net.Conn, error), serverConns chan net.Conn) {
	serverConns = make(chan net.Conn, 8)
	dial = func(ctx context.Context, address string) (net.Conn, error) {
		client, server := net.Pipe()
		serverConns <- server
		return client, nil
	}
	return dial, serverConns
}

func TestShipperDeliversEnqueuedFrame(t *testing.T) {
	dial, serverConns := pipeDialer(t)
	s := New(Config{
		Address: "unused",
		Dial:    dial,
		Backoff: BackoffConfig{Base: time.Millisecond, Cap: 10 * time.Millisecond},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	header := types.Header{V: 1, Topic: "t", Count: 1, RawLen: 3, CompLen: 3}
	s.Enqueue("t", header, []byte("abc"))

	select {
	case server := <-serverConns:
		r := bufio.NewReader(server)
		if _, err := r.ReadString('\n'); err != nil {
			t.Fatalf("auth line read: %v", err)
		}
		gotHeader, gotPayload, err := frame.Read(r)
		if err != nil {
			t.Fatalf("frame.Read: %v", err)
		}
		if gotHeader.Topic != "t" || string(gotPayload) != "abc" {
			t.Fatalf("unexpected frame: %+v %q", gotHeader, gotPayload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server connection")
	}
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	s := New(Config{
		Address:       "unused",
		MaxQueueBytes: 10,
		Dial:          func(ctx context.Context, address string) (net.Conn, error) { return nil, context.DeadlineExceeded },
	})

	s.Enqueue("t", types.Header{}, make([]byte, 5))
	s.Enqueue("t", types.Header{}, make([]byte, 5))
	s.Enqueue("t", types.Header{}, make([]byte, 5))

	if s.QueueDepth() == 0 {
		t.Fatalf("expected at least one frame retained")
	}
	snap := s.metrics.Snapshot()
	if snap.Topics["t"].ShipperDropped == 0 {
		t.Fatalf("expected shipper_dropped to be incremented on overflow")
	}
}
