// Package php implements the embedded-interpreter FFI binding (C1), the
// FastCGI wire protocol and connection pool (C2/C3), and the worker pool
// that drives the embedded backend (C5).
package php

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Record types from the FastCGI 1.0 spec (§4.2).
const (
	typeBeginRequest = 1
	typeAbortRequest = 2
	typeEndRequest   = 3
	typeParams       = 4
	typeStdin        = 5
	typeStdout       = 6
	typeStderr       = 7
)

const (
	roleResponder = 1
	version1      = 1
	maxChunk      = 65535
)

// Header is the 8-byte FastCGI record header (§4.2).
type Header struct {
	Version       byte
	Type          byte
	RequestID     uint16
	ContentLength uint16
	PaddingLength byte
	Reserved      byte
}

func (h Header) encode() [8]byte {
	var buf [8]byte
	buf[0] = h.Version
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.RequestID)
	binary.BigEndian.PutUint16(buf[4:6], h.ContentLength)
	buf[6] = h.PaddingLength
	buf[7] = h.Reserved
	return buf
}

func decodeHeader(buf []byte) Header {
	return Header{
		Version:       buf[0],
		Type:          buf[1],
		RequestID:     binary.BigEndian.Uint16(buf[2:4]),
		ContentLength: binary.BigEndian.Uint16(buf[4:6]),
		PaddingLength: buf[6],
		Reserved:      buf[7],
	}
}

func paddingFor(n int) byte {
	rem := n % 8
	if rem == 0 {
		return 0
	}
	return byte(8 - rem)
}

// writeRecord writes one framed record: header, content, zero padding to an
// 8-byte boundary.
func writeRecord(w io.Writer, recType byte, requestID uint16, content []byte) error {
	pad := paddingFor(len(content))
	h := Header{
		Version:       version1,
		Type:          recType,
		RequestID:     requestID,
		ContentLength: uint16(len(content)),
		PaddingLength: pad,
	}
	hb := h.encode()
	if _, err := w.Write(hb[:]); err != nil {
		return err
	}
	if len(content) > 0 {
		if _, err := w.Write(content); err != nil {
			return err
		}
	}
	if pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return err
		}
	}
	return nil
}

// writeBeginRequest writes a BEGIN_REQUEST record requesting the Responder
// role with no special flags.
func writeBeginRequest(w io.Writer, requestID uint16) error {
	content := make([]byte, 8)
	binary.BigEndian.PutUint16(content[0:2], roleResponder)
	return writeRecord(w, typeBeginRequest, requestID, content)
}

// encodeNameValueLength encodes a FastCGI name/value length: one byte if
// <128, else four bytes big-endian with the high bit set (§4.2).
func encodeNameValueLength(n int) []byte {
	if n < 128 {
		return []byte{byte(n)}
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(n)|0x80000000)
	return buf
}

// encodeParams encodes a full name-value pair map into PARAMS records, each
// ≤ maxChunk bytes of content, terminated by an empty PARAMS record, per the
// request-issue sequence in §4.2.
func encodeParams(w io.Writer, requestID uint16, params map[string]string) error {
	var buf bytes.Buffer
	for name, value := range params {
		buf.Write(encodeNameValueLength(len(name)))
		buf.Write(encodeNameValueLength(len(value)))
		buf.WriteString(name)
		buf.WriteString(value)
	}

	data := buf.Bytes()
	for len(data) > 0 {
		n := len(data)
		if n > maxChunk {
			n = maxChunk
		}
		if err := writeRecord(w, typeParams, requestID, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return writeRecord(w, typeParams, requestID, nil)
}

// encodeStdin writes the request body as STDIN records no larger than
// maxChunk, terminated by an empty STDIN record (§4.2 steps 4-5).
func encodeStdin(w io.Writer, requestID uint16, body []byte) error {
	for len(body) > 0 {
		n := len(body)
		if n > maxChunk {
			n = maxChunk
		}
		if err := writeRecord(w, typeStdin, requestID, body[:n]); err != nil {
			return err
		}
		body = body[n:]
	}
	return writeRecord(w, typeStdin, requestID, nil)
}

// WireError classifies a FastCGI framing failure (§4.2 "Failure semantics").
type WireError struct {
	Protocol bool // true: unsupported version, fatal for this request
	Retry    bool // true: unexpected EOF, retryable with a fresh connection
	Err      error
}

func (e *WireError) Error() string { return e.Err.Error() }
func (e *WireError) Unwrap() error { return e.Err }

// EncodeRequest writes the full request-issue sequence for requestID=1:
// BEGIN_REQUEST, PARAMS (chunked + terminator), STDIN (chunked + terminator).
func EncodeRequest(w io.Writer, requestID uint16, params map[string]string, body []byte) error {
	if err := writeBeginRequest(w, requestID); err != nil {
		return err
	}
	if err := encodeParams(w, requestID, params); err != nil {
		return err
	}
	return encodeStdin(w, requestID, body)
}

// ReadResponse accumulates STDOUT and STDERR content for requestID until
// END_REQUEST; records for other request IDs are drained and discarded
// (§4.2 step 6).
func ReadResponse(r io.Reader, requestID uint16) (stdout []byte, stderr []byte, err error) {
	var hb [8]byte
	for {
		if _, ioErr := io.ReadFull(r, hb[:]); ioErr != nil {
			return nil, nil, &WireError{Retry: true, Err: fmt.Errorf("reading record header: %w", ioErr)}
		}
		h := decodeHeader(hb[:])
		if h.Version != version1 {
			// Drain the declared content+padding before reporting, so the
			// connection state (if reused) isn't left mid-record.
			io.CopyN(io.Discard, r, int64(h.ContentLength)+int64(h.PaddingLength)) //nolint:errcheck
			return nil, nil, &WireError{Protocol: true, Err: fmt.Errorf("unsupported FastCGI version %d", h.Version)}
		}

		content := make([]byte, h.ContentLength)
		if h.ContentLength > 0 {
			if _, ioErr := io.ReadFull(r, content); ioErr != nil {
				return nil, nil, &WireError{Retry: true, Err: fmt.Errorf("reading record content: %w", ioErr)}
			}
		}
		if h.PaddingLength > 0 {
			if _, ioErr := io.CopyN(io.Discard, r, int64(h.PaddingLength)); ioErr != nil {
				return nil, nil, &WireError{Retry: true, Err: fmt.Errorf("reading record padding: %w", ioErr)}
			}
		}

		if h.RequestID != requestID {
			continue // drained above; belongs to a different in-flight request
		}

		switch h.Type {
		case typeStdout:
			stdout = append(stdout, content...)
		case typeStderr:
			stderr = append(stderr, content...)
		case typeEndRequest:
			return stdout, stderr, nil
		}
	}
}
