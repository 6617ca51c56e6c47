package collector

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/edgecompress/internal/auth"
	"github.com/pilot-net/edgecompress/internal/compress"
	"github.com/pilot-net/edgecompress/internal/dictionary"
	"github.com/pilot-net/edgecompress/internal/errs"
	"github.com/pilot-net/edgecompress/internal/frame"
	"github.com/pilot-net/edgecompress/internal/metrics"
	"github.com/pilot-net/edgecompress/internal/validate"
)

// Config configures a Server.
type Config struct {
	ListenAddr string

	Dicts          *dictionary.Store
	DictSidecarDir string // optional, see spec.md §4.7 "Unknown dictionary"

	Appender *Appender
	Codec    *compress.Codec
	Metrics  *metrics.Aggregator
	Auth     auth.Config
	VLimits  validate.Limits

	// WAL, if non-nil, additionally queues every accepted batch for
	// asynchronous archival (see internal/collector/wal.go, archival.go).
	WAL *IntakeWAL

	Logger *slog.Logger
}

// Server accepts Shipper connections and drives the decode/append
// pipeline described in spec.md §4.7.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New creates a Server. Call Run to start accepting connections.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Run listens on cfg.ListenAddr and accepts connections, one goroutine per
// connection, until ctx is cancelled (spec.md §5: "one acceptor plus one
// worker per connection").
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return errs.New(errs.FatalIO, "collector.Run", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("collector listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn runs one connection's deframe/validate/lookup/decompress/
// append loop until the connection closes or a protocol error forces it
// shut (spec.md §4.7, §7).
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr()
	connID := uuid.NewString()
	logger := s.logger.With("conn_id", connID, "remote", remote)

	r := bufio.NewReader(conn)

	// Every shipper sends one newline-terminated auth line before its first
	// frame, whether or not a key is configured (see shipper.ensureConn), so
	// the collector always consumes it before deframing — gating on
	// Auth.Enabled/ExpectedHash here would desync framing whenever the agent
	// side has a key configured but this collector doesn't enforce one.
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		logger.Warn("auth line read failed", "error", err)
		return
	}
	conn.SetReadDeadline(time.Time{})
	key := strings.TrimSuffix(line, "\n")
	if !auth.CheckConn(s.cfg.Auth, key, remote) {
		return
	}

	logger.Debug("connection established")
	for {
		if ctx.Err() != nil {
			return
		}
		header, payload, err := frame.Read(r)
		if err != nil {
			if err == io.EOF {
				return
			}
			logger.Warn("frame read failed, closing connection", "error", err)
			return
		}

		if err := s.processFrame(ctx, header.Topic, header.DictID, header.RawLen, header.CompLen, header.Level, payload); err != nil {
			if errs.Is(err, errs.CorruptFrame) {
				logger.Warn("corrupt frame, closing connection", "topic", header.Topic, "error", err)
				return
			}
			// UnknownDict and other recoverable rejections: count, keep the
			// connection (and framing) alive for the next frame.
			logger.Warn("rejected frame", "topic", header.Topic, "error", err)
			s.cfg.Metrics.CompressionError(header.Topic)
		}
	}
}

func (s *Server) processFrame(ctx context.Context, topic string, dictID uint32, rawLen, compLen, level int, payload []byte) error {
	dict, ok := s.cfg.Dicts.GetByID(topic, dictID)
	if !ok {
		if s.cfg.DictSidecarDir != "" {
			loaded, loadErr := dictionary.LoadSidecar(s.cfg.DictSidecarDir, topic, dictID)
			if loadErr == nil {
				dict = loaded
				ok = true
			}
		}
	}
	if !ok {
		return errs.New(errs.UnknownDict, "collector.processFrame", &dictionary.ErrNotResident{Topic: topic, DictID: dictID})
	}

	start := time.Now()
	raw, err := s.cfg.Codec.Decompress(topic, dictID, dict, payload, rawLen)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	lines := bytes.Split(raw, []byte{0x0A})
	for _, line := range lines {
		s.cfg.Metrics.MessageIn(topic, len(line))
	}
	s.cfg.Metrics.Flush(topic, compLen, elapsed)

	if err := s.cfg.Appender.Append(topic, lines); err != nil {
		return errs.New(errs.FatalIO, "collector.processFrame", err)
	}

	if s.cfg.WAL != nil {
		if err := s.cfg.WAL.Push(ctx, topic, lines, compLen); err != nil {
			s.logger.Warn("failed to push to archival wal", "topic", topic, "error", err)
		}
	}
	return nil
}

// Addr returns the listener's bound address once Run has started, or nil
// if Run hasn't started listening yet.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting new connections. Call after Run's context has been
// cancelled; Run itself waits for in-flight connections to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
