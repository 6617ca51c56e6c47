package dictionary

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LoadDir populates a Store from a dictionary directory laid out as
// spec.md §6 describes: "<dict_dir>/<topic>.dict" (raw bytes) plus
// "<dict_dir>/<topic>.meta" (JSON {dict_id, created_at, size}). Missing or
// unreadable topics are skipped rather than failing the whole load, since a
// fresh collector/agent is allowed to start with dict_id=0 everywhere.
func LoadDir(dir string, keep int) (*Store, error) {
	s := New(keep)

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading dict_dir %s: %w", dir, err)
	}

	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".dict" {
			continue
		}
		topic := de.Name()[:len(de.Name())-len(".dict")]
		data, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			continue
		}
		meta, _ := readMeta(filepath.Join(dir, topic+".meta"))
		s.byTopic[topic] = []Entry{{
			DictID:      meta.DictID,
			Bytes:       data,
			InstalledAt: meta.CreatedAt,
		}}
	}
	return s, nil
}

func readMeta(path string) (Meta, error) {
	var m Meta
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	return m, nil
}

// SaveTo writes the current dictionary for topic to dir as "<topic>.dict"
// plus its "<topic>.meta" sidecar, publishing it for a sibling process's
// LoadDir to pick up. LoadSidecar does not read these files: it looks for
// "<topic>.<dict_id>.dict".
func (s *Store) SaveTo(dir, topic string) error {
	s.mu.RLock()
	dictID, data := s.currentLocked(topic)
	s.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dict_dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, topic+".dict"), data, 0o644); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}
	meta := Meta{DictID: dictID, CreatedAt: time.Now(), Size: len(data)}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, topic+".meta"), metaData, 0o644)
}

func (s *Store) currentLocked(topic string) (uint32, []byte) {
	entries := s.byTopic[topic]
	if len(entries) == 0 {
		return 0, nil
	}
	last := entries[len(entries)-1]
	return last.DictID, last.Bytes
}

// LoadSidecar attempts to load a (topic, dict_id) dictionary from a sidecar
// directory keyed by topic and generation, as spec.md §4.7 allows the
// collector to do before rejecting an UnknownDict frame. Sidecar files are
// named "<topic>.<dict_id>.dict".
func LoadSidecar(dir, topic string, dictID uint32) ([]byte, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s.%d.dict", topic, dictID))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ErrNotResident{Topic: topic, DictID: dictID}
	}
	return data, nil
}
