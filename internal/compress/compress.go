// Package compress implements the Compressor/Decompressor (spec.md §4.4),
// a thin layer over klauspost/compress's zstd implementation parameterized
// by a per-(topic, dict_id) dictionary.
//
// zstd treats dictionary bytes with no magic-number header as a "raw
// content" dictionary (RFC 8878 §5): the trainer in internal/dictionary
// produces exactly that, so no separate dictionary-format encode/decode
// step is needed here.
package compress

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/pilot-net/edgecompress/internal/errs"
)

// key identifies one digested dictionary at one compressor level. Decoding
// never depends on level, so decode lookups always use level 0: they share
// a digested entry with Compress only when Compress also ran at level 0.
type key struct {
	topic  string
	dictID uint32
	level  int
}

// digested caches the encoder/decoder pair already primed with a given
// dictionary's content, so repeat batches for the same (topic, dict_id)
// don't pay the dictionary-ingestion cost every time (DESIGN NOTES §9).
type digested struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Codec is the Compressor/Decompressor pair, with an LRU-bounded cache of
// digested dictionaries (default bound 16 per spec.md §9).
type Codec struct {
	mu       sync.Mutex
	cache    map[key]*digested
	order    []key // least-recently-used first
	capacity int
}

// NewCodec creates a Codec with the given digested-dictionary cache bound.
func NewCodec(capacity int) *Codec {
	if capacity <= 0 {
		capacity = 16
	}
	return &Codec{cache: make(map[key]*digested), capacity: capacity}
}

// Compress compresses raw (a joined Batch, spec.md §3) against dict at the
// given level, returning the payload bytes.
func (c *Codec) Compress(topic string, dictID uint32, dict []byte, level int, raw []byte) ([]byte, error) {
	d, err := c.get(key{topic, dictID, level}, dict, level)
	if err != nil {
		return nil, errs.New(errs.CompressionError, "compress.Compress", err)
	}
	return d.enc.EncodeAll(raw, nil), nil
}

// Decompress inverts Compress, returning exactly rawLen bytes or a
// CorruptFrame error if the decompressed length doesn't match.
func (c *Codec) Decompress(topic string, dictID uint32, dict []byte, payload []byte, rawLen int) ([]byte, error) {
	d, err := c.get(key{topic, dictID, 0}, dict, 0)
	if err != nil {
		return nil, errs.New(errs.CorruptFrame, "compress.Decompress", err)
	}
	out, err := d.dec.DecodeAll(payload, make([]byte, 0, rawLen))
	if err != nil {
		return nil, errs.New(errs.CorruptFrame, "compress.Decompress", err)
	}
	if len(out) != rawLen {
		return nil, errs.New(errs.CorruptFrame, "compress.Decompress",
			fmt.Errorf("decompressed length %d != raw_len %d", len(out), rawLen))
	}
	return out, nil
}

func (c *Codec) get(k key, dict []byte, level int) (*digested, error) {
	c.mu.Lock()
	if d, ok := c.cache[k]; ok {
		c.touch(k)
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	d, err := newDigested(dict, level)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have raced us to build the same entry; prefer
	// the one already cached so we don't leak the loser's encoder/decoder.
	if existing, ok := c.cache[k]; ok {
		c.touch(k)
		return existing, nil
	}
	c.cache[k] = d
	c.order = append(c.order, k)
	c.evictLocked()
	return d, nil
}

func (c *Codec) touch(k key) {
	for i, o := range c.order {
		if o == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, k)
}

func (c *Codec) evictLocked() {
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		if d, ok := c.cache[oldest]; ok {
			d.enc.Close()
			d.dec.Close()
			delete(c.cache, oldest)
		}
	}
}

func newDigested(dict []byte, level int) (*digested, error) {
	encOpts := []zstd.EOption{zstd.WithEncoderLevel(LevelToZstd(level))}
	var decOpts []zstd.DOption
	if len(dict) > 0 {
		encOpts = append(encOpts, zstd.WithEncoderDict(dict))
		decOpts = append(decOpts, zstd.WithDecoderDicts(dict))
	}

	enc, err := zstd.NewWriter(nil, encOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, decOpts...)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &digested{enc: enc, dec: dec}, nil
}

// LevelToZstd maps spec.md §6's informational compressor level (a small
// positive int, default 7) onto zstd's coarser SpeedXxx levels.
func LevelToZstd(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 5:
		return zstd.SpeedDefault
	case level <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}
