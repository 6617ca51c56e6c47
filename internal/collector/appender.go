// Package collector implements the Collector server (spec.md §4.7): a TCP
// acceptor that decodes frames, resolves dictionaries, decompresses
// batches, and appends the resulting records to durable per-topic files.
package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Appender durably appends canonical records to out/<topic>.jsonl, one
// open *os.File per topic held behind that topic's own lock so concurrent
// connections writing to the same topic serialize rather than interleave
// (spec.md §4.7 "Durability").
type Appender struct {
	dir string

	mu    sync.Mutex // guards files map only, not the writes themselves
	files map[string]*topicFile
}

type topicFile struct {
	mu sync.Mutex
	f  *os.File
}

// NewAppender creates an Appender rooted at dir, creating it if necessary.
func NewAppender(dir string) (*Appender, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating out_dir: %w", err)
	}
	return &Appender{dir: dir, files: make(map[string]*topicFile)}, nil
}

// Append writes lines (already newline-free canonical JSON records) to
// topic's file, one per line, and fsyncs once for the whole call — the
// batch-level fsync cadence spec.md §4.7 calls for.
func (a *Appender) Append(topic string, lines [][]byte) error {
	if len(lines) == 0 {
		return nil
	}
	tf, err := a.fileFor(topic)
	if err != nil {
		return err
	}

	tf.mu.Lock()
	defer tf.mu.Unlock()
	for _, line := range lines {
		if _, err := tf.f.Write(line); err != nil {
			return fmt.Errorf("appending to %s: %w", topic, err)
		}
		if _, err := tf.f.Write([]byte("\n")); err != nil {
			return fmt.Errorf("appending newline to %s: %w", topic, err)
		}
	}
	return tf.f.Sync()
}

func (a *Appender) fileFor(topic string) (*topicFile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tf, ok := a.files[topic]; ok {
		return tf, nil
	}
	path := filepath.Join(a.dir, topic+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	tf := &topicFile{f: f}
	a.files[topic] = tf
	return tf, nil
}

// Close closes every open topic file.
func (a *Appender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for _, tf := range a.files {
		tf.mu.Lock()
		if err := tf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		tf.mu.Unlock()
	}
	return firstErr
}
