package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/pilot-net/edgecompress/internal/errs"
	"github.com/pilot-net/edgecompress/internal/types"
)

func TestWriteReadRoundTrip(t *testing.T) {
	header := types.Header{
		V:       types.ProtocolVersion,
		Topic:   "sensors.temp",
		DictID:  3,
		Count:   2,
		RawLen:  9,
		CompLen: 5,
		Level:   7,
	}
	payload := []byte{1, 2, 3, 4, 5}

	var buf bytes.Buffer
	if err := Write(&buf, header, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	gotHeader, gotPayload, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if gotHeader != header {
		t.Fatalf("header mismatch: got %+v want %+v", gotHeader, header)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %v want %v", gotPayload, payload)
	}
}

func TestReadEOFOnEmptyStream(t *testing.T) {
	_, _, err := Read(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadShortHeaderIsFrameProtocol(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 10}) // claims a 10-byte header, supplies none
	_, _, err := Read(&buf)
	if !errs.Is(err, errs.FrameProtocol) {
		t.Fatalf("expected FrameProtocol, got %v", err)
	}
}

func TestReadShortPayloadIsFrameProtocol(t *testing.T) {
	header := types.Header{V: 1, Topic: "t", DictID: 0, Count: 1, RawLen: 3, CompLen: 10}
	var buf bytes.Buffer
	if err := Write(&buf, header, make([]byte, 10)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-5])
	_, _, err := Read(truncated)
	if !errs.Is(err, errs.FrameProtocol) {
		t.Fatalf("expected FrameProtocol, got %v", err)
	}
}

func TestReadRejectsInvalidHeader(t *testing.T) {
	header := types.Header{V: 1, Topic: "bad topic!", Count: 1, RawLen: 0, CompLen: 0}
	var buf bytes.Buffer
	if err := Write(&buf, header, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, _, err := Read(&buf)
	if !errs.Is(err, errs.FrameProtocol) {
		t.Fatalf("expected FrameProtocol for invalid topic, got %v", err)
	}
}

func TestReadRejectsOversizedHeaderLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF}) // hdr_len 65535 is within MaxHeaderBytes but no header bytes follow
	_, _, err := Read(&buf)
	if err == nil {
		t.Fatalf("expected error for truncated oversized header")
	}
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.FrameProtocol {
		t.Fatalf("expected FrameProtocol, got %v", err)
	}
}
