package metrics

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/pilot-net/edgecompress/internal/types"
)

// WriteCSV exports snap as the optional metrics CSV format from spec.md §6:
// "ts,topic,msgs,raw_bytes,comp_bytes,ratio,flush_ms,dict_id". dictID is
// supplied per call since the aggregator itself doesn't track dictionary
// generations — the caller (which owns the dictionary.Store) does.
func WriteCSV(w io.Writer, snap types.MetricsSnapshot, dictID func(topic string) uint32) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"ts", "topic", "msgs", "raw_bytes", "comp_bytes", "ratio", "flush_ms", "dict_id"}); err != nil {
		return err
	}

	topics := make([]string, 0, len(snap.Topics))
	for t := range snap.Topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	ts := snap.CapturedAt.Format(time.RFC3339)
	for _, topic := range topics {
		m := snap.Topics[topic]
		var did uint32
		if dictID != nil {
			did = dictID(topic)
		}
		row := []string{
			ts,
			topic,
			strconv.FormatInt(m.MessagesIn, 10),
			strconv.FormatInt(m.BytesRawIn, 10),
			strconv.FormatInt(m.BytesCompOut, 10),
			strconv.FormatFloat(m.CompressionRatio, 'f', 6, 64),
			strconv.FormatInt(m.FlushMsSum, 10),
			strconv.FormatUint(uint64(did), 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return cw.Error()
}
