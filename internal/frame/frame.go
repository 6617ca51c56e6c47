// Package frame implements the Framer/Deframer (spec.md §4.5): the
// length-prefixed wire format both the Shipper and the Collector speak.
//
//	hdr_len (u16 BE) ‖ header_json ‖ payload
//
// header_json is canonical JSON carrying the fields in spec.md §6; payload
// is exactly comp_len bytes, read in full before the frame is handed to the
// caller. Any short read or malformed header is a FrameProtocol error and,
// per spec.md §7, closes the connection — Deframer never tries to resync a
// stream after a parse failure.
package frame

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pilot-net/edgecompress/internal/errs"
	"github.com/pilot-net/edgecompress/internal/types"
	"github.com/pilot-net/edgecompress/internal/validate"
)

// MaxHeaderBytes bounds hdr_len so a corrupt or hostile length prefix can't
// force an unbounded allocation before the header is even parsed.
const MaxHeaderBytes = 64 * 1024

// Write serializes header and payload to w as a single frame. The caller
// must have already set header.CompLen = len(payload).
func Write(w io.Writer, header types.Header, payload []byte) error {
	hdr, err := json.Marshal(header)
	if err != nil {
		return errs.New(errs.FrameProtocol, "frame.Write", fmt.Errorf("marshaling header: %w", err))
	}
	if len(hdr) > MaxHeaderBytes {
		return errs.New(errs.FrameProtocol, "frame.Write", fmt.Errorf("header_json length %d exceeds max %d", len(hdr), MaxHeaderBytes))
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(hdr)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return errs.New(errs.NetworkError, "frame.Write", err)
	}
	if _, err := w.Write(hdr); err != nil {
		return errs.New(errs.NetworkError, "frame.Write", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return errs.New(errs.NetworkError, "frame.Write", err)
		}
	}
	return nil
}

// Read parses one frame from r: the 2-byte length, the header, then exactly
// comp_len payload bytes. A short read anywhere is reported as
// io.ErrUnexpectedEOF wrapped in a FrameProtocol error (or io.EOF unchanged
// if the stream ended cleanly before any byte of a new frame was read, so
// callers can distinguish "no more frames" from "frame truncated").
func Read(r io.Reader) (types.Header, []byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return types.Header{}, nil, io.EOF
		}
		return types.Header{}, nil, errs.New(errs.FrameProtocol, "frame.Read", fmt.Errorf("reading hdr_len: %w", err))
	}
	hdrLen := binary.BigEndian.Uint16(lenBuf[:])
	if int(hdrLen) > MaxHeaderBytes {
		return types.Header{}, nil, errs.New(errs.FrameProtocol, "frame.Read", fmt.Errorf("hdr_len %d exceeds max %d", hdrLen, MaxHeaderBytes))
	}

	hdrBuf := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return types.Header{}, nil, errs.New(errs.FrameProtocol, "frame.Read", fmt.Errorf("reading header_json: %w", err))
	}

	var header types.Header
	if err := json.Unmarshal(hdrBuf, &header); err != nil {
		return types.Header{}, nil, errs.New(errs.FrameProtocol, "frame.Read", fmt.Errorf("parsing header_json: %w", err))
	}
	if err := validate.Header(header); err != nil {
		return types.Header{}, nil, err
	}

	payload := make([]byte, header.CompLen)
	if header.CompLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return types.Header{}, nil, errs.New(errs.FrameProtocol, "frame.Read", fmt.Errorf("reading payload: %w", err))
		}
	}

	return header, payload, nil
}
