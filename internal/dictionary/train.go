package dictionary

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/pilot-net/edgecompress/internal/normalize"
)

// MinSampleMultiple is the "< 200x dict size" threshold from spec.md §4.8:
// below this many bytes of normalized samples, the trainer falls back to a
// raw prefix dictionary instead of frequency-based selection.
const MinSampleMultiple = 200

// TrainResult is one topic's trained dictionary plus whether it used the
// degraded fallback path.
type TrainResult struct {
	Topic    string
	Bytes    []byte
	Fallback bool // true if the raw-prefix fallback was used (spec.md §4.8, §9 Open Question)
}

// TrainAll walks samplesRoot/<topic>/*.json[l], normalizes every sample
// record, and trains one dictionary per topic targeting sizeBytes
// (typically 4 KiB or 8 KiB per spec.md §3). It is a one-shot batch job: it
// never touches a live Store, matching spec.md's "publishing is a separate
// operational step". Each run is tagged with a job ID purely for log
// correlation across the topics it trains.
func TrainAll(samplesRoot string, sizeBytes int, logger *slog.Logger) ([]TrainResult, error) {
	jobID := uuid.NewString()
	logger.Info("starting dictionary training run", "job_id", jobID, "samples_root", samplesRoot, "size_bytes", sizeBytes)

	topicDirs, err := os.ReadDir(samplesRoot)
	if err != nil {
		return nil, fmt.Errorf("reading samples_root %s: %w", samplesRoot, err)
	}

	var results []TrainResult
	for _, td := range topicDirs {
		if !td.IsDir() {
			continue
		}
		topic := td.Name()
		corpus, err := normalizedCorpus(filepath.Join(samplesRoot, topic))
		if err != nil {
			return nil, fmt.Errorf("topic %s: %w", topic, err)
		}
		if len(corpus) == 0 {
			logger.Warn("no samples for topic, skipping", "topic", topic)
			continue
		}

		fallback := len(corpus) < sizeBytes*MinSampleMultiple
		var dict []byte
		if fallback {
			logger.Warn("insufficient samples — falling back to raw prefix dictionary; "+
				"compression effectiveness will be substantially worse than a trained dictionary",
				"topic", topic, "corpus_bytes", len(corpus), "required_bytes", sizeBytes*MinSampleMultiple)
			dict = rawPrefix(corpus, sizeBytes)
		} else {
			dict = trainFrequencyDict(corpus, sizeBytes)
		}

		results = append(results, TrainResult{Topic: topic, Bytes: dict, Fallback: fallback})
	}
	return results, nil
}

// normalizedCorpus concatenates the canonical form of every sample record
// found under dir (one JSON object per line, in ".json" and ".jsonl" files
// alike), separated by 0x0A to mirror Batch framing. Lines that do not
// parse as a single JSON object, such as parts of a top-level array, are
// skipped.
func normalizedCorpus(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var fields map[string]any
			if err := json.Unmarshal(line, &fields); err != nil {
				continue // skip malformed sample lines rather than aborting training
			}
			canon, err := normalize.Canonicalize(fields, nil)
			if err != nil {
				continue
			}
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.Write(canon)
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// rawPrefix is the bootstrap fallback: the first size bytes of the
// concatenated, normalized corpus, used verbatim as a raw-content
// dictionary. spec.md §9 flags this path as substantially worse than
// trained dictionaries; TrainResult.Fallback surfaces that to callers.
func rawPrefix(corpus []byte, size int) []byte {
	if len(corpus) <= size {
		out := make([]byte, len(corpus))
		copy(out, corpus)
		return out
	}
	out := make([]byte, size)
	copy(out, corpus[:size])
	return out
}

// trainFrequencyDict builds a raw-content dictionary (zstd accepts dictionary
// content with no format header — "raw content" dictionaries per RFC 8878)
// by keeping the corpus's most frequently repeated fixed-width n-grams, most
// frequent first, until the target size is reached. This plays the role the
// teacher's corpus has no equivalent of — it is grounded on the frequent
// adjacent-token-merging idea in onpair's dictionary trainer
// (compressor/dictionary.go), simplified to a single counting pass since we
// don't carry OnPair's LPM matcher as a dependency.
func trainFrequencyDict(corpus []byte, size int) []byte {
	const gram = 32
	if len(corpus) <= gram {
		return rawPrefix(corpus, size)
	}

	counts := make(map[string]int)
	for i := 0; i+gram <= len(corpus); i += gram / 2 {
		counts[string(corpus[i:i+gram])]++
	}

	type kv struct {
		s string
		n int
	}
	ranked := make([]kv, 0, len(counts))
	for s, n := range counts {
		if n > 1 {
			ranked = append(ranked, kv{s, n})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].s < ranked[j].s // deterministic tie-break
	})

	var buf bytes.Buffer
	seen := make(map[string]struct{}, len(ranked))
	for _, e := range ranked {
		if buf.Len() >= size {
			break
		}
		if _, dup := seen[e.s]; dup {
			continue
		}
		seen[e.s] = struct{}{}
		buf.WriteString(e.s)
	}
	if buf.Len() < size {
		// Not enough repeated structure to fill the target size purely from
		// frequent n-grams: top up with the corpus prefix so the dictionary
		// still reaches its nominal size.
		buf.Write(rawPrefix(corpus, size-buf.Len()))
	}
	out := buf.Bytes()
	if len(out) > size {
		out = out[:size]
	}
	return out
}
