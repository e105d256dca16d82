// Package frame implements the record envelopes of the checkpoint file.
//
// Every record is preceded by enough metadata that a reader can verify
// integrity before trusting the decoded value:
//
//	framed(V)            := length:u64 payload:bytes[length]             // header record
//	framed_checksummed(V) := length:u64 checksum:u64 payload:bytes[length] // body record
//
// The checksum is the 64-bit xxHash of the payload bytes. An explicit length
// lets a reader distinguish a normal end of file (zero bytes at a record
// boundary), a record that started but never finished (ErrShortRead), and a
// record that finished but had bits flipped (ErrChecksumMismatch).
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/cladelabs/rootckpt/internal/codec"
	"github.com/cladelabs/rootckpt/internal/domain"
)

// maxPayload bounds the declared length of a single record. Checkpoint
// payloads are at most a few hundred bytes; a length word beyond this limit
// can only come from corruption, and must be rejected before it sizes an
// allocation.
const maxPayload = 1 << 20

var (
	// ErrShortRead indicates a record declared more bytes than the file held.
	// A crash during an append leaves exactly this signature.
	ErrShortRead = errors.New("rootckpt: short read")

	// ErrChecksumMismatch indicates a complete record whose payload does not
	// match its stored checksum.
	ErrChecksumMismatch = errors.New("rootckpt: checksum mismatch")
)

// Write encodes v and writes [length][payload] to w. Header records carry no
// checksum. Returns the total bytes written.
func Write(w io.Writer, v codec.Value) (int, error) {
	payload := codec.Encode(v)

	buf := make([]byte, 0, 8+len(payload))
	buf = binary.NativeEndian.AppendUint64(buf, uint64(len(payload)))
	buf = append(buf, payload...)

	return writeAll(w, buf)
}

// WriteChecksummed encodes v and writes [length][checksum][payload] to w.
// Returns the total bytes written.
func WriteChecksummed(w io.Writer, v codec.Value) (int, error) {
	payload := codec.Encode(v)

	buf := make([]byte, 0, 16+len(payload))
	buf = binary.NativeEndian.AppendUint64(buf, uint64(len(payload)))
	buf = binary.NativeEndian.AppendUint64(buf, xxhash.Sum64(payload))
	buf = append(buf, payload...)

	return writeAll(w, buf)
}

func writeAll(w io.Writer, buf []byte) (int, error) {
	n, err := w.Write(buf)
	if err != nil {
		return n, fmt.Errorf("%w: %v", domain.ErrWriteFailure, err)
	}
	if n < len(buf) {
		return n, fmt.Errorf("%w: wrote %d of %d bytes", domain.ErrWriteFailure, n, len(buf))
	}
	return n, nil
}

// Read reads a header-framed record from r into v. Returns the total bytes
// consumed. Returns io.EOF if r is already at end of file, ErrShortRead if
// the record is truncated, and a codec error if the payload does not decode.
func Read(r io.Reader, v codec.Value) (int, error) {
	prefix, n, err := readPrefix(r, 1)
	if err != nil {
		return n, err
	}
	return readPayload(r, v, prefix[0], n, false, 0)
}

// ReadChecksummed reads a checksummed record from r into v, verifying the
// payload against its stored checksum. Returns the total bytes consumed.
// Returns io.EOF at a clean record boundary, ErrShortRead on a truncated
// record, and ErrChecksumMismatch when the payload hash differs.
func ReadChecksummed(r io.Reader, v codec.Value) (int, error) {
	prefix, n, err := readPrefix(r, 2)
	if err != nil {
		return n, err
	}
	return readPayload(r, v, prefix[0], n, true, prefix[1])
}

// readPrefix reads words u64 values. Zero bytes available is a clean EOF;
// anything between that and the full prefix is a short read.
func readPrefix(r io.Reader, words int) ([2]uint64, int, error) {
	var out [2]uint64
	buf := make([]byte, 8*words)
	n, err := io.ReadFull(r, buf)
	if err == io.EOF {
		return out, 0, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		return out, n, fmt.Errorf("%w: truncated record prefix", ErrShortRead)
	}
	if err != nil {
		return out, n, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	for i := 0; i < words; i++ {
		out[i] = binary.NativeEndian.Uint64(buf[i*8:])
	}
	return out, n, nil
}

func readPayload(r io.Reader, v codec.Value, length uint64, prefixLen int, checksummed bool, wantSum uint64) (int, error) {
	if length > maxPayload {
		return prefixLen, fmt.Errorf("%w: record declares %d bytes, limit %d", codec.ErrCorrupt, length, maxPayload)
	}
	payload := make([]byte, length)
	n, err := io.ReadFull(r, payload)
	total := prefixLen + n
	if err != nil {
		return total, fmt.Errorf("%w: record declares %d bytes, read %d", ErrShortRead, length, n)
	}
	if checksummed {
		if got := xxhash.Sum64(payload); got != wantSum {
			return total, fmt.Errorf("%w: stored %#x, computed %#x", ErrChecksumMismatch, wantSum, got)
		}
	}
	consumed, err := codec.Decode(payload, v)
	if err != nil {
		return total, err
	}
	if consumed != int(length) {
		return total, fmt.Errorf("%w: decoded %d of %d payload bytes", codec.ErrCorrupt, consumed, length)
	}
	return total, nil
}
