// Package p2p implements the peer wire protocol from spec.md §4.3: framed
// JSON messages over a plain TCP connection, network magic bytes, and the
// handshake that establishes a peer's identity before any other message is
// accepted.
package p2p

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxRelayMsgBytes is the hard cap on a single message payload, per
// spec.md §4.3. A peer that exceeds it is a protocol violation.
const MaxRelayMsgBytes = 1 << 20 // 1 MiB

// Magic bytes identify the network a peer believes it's on. See spec.md §6.
var (
	MainnetMagic = [4]byte{0xC0, 0x1D, 0x7E, 0x4D}
	TestnetMagic = [4]byte{0x7E, 0x57, 0x7E, 0x4D}
)

// ReadError carries a human-readable cause and whether the connection
// should be torn down, following the teacher's own
// read-error-with-consequence pattern. It carries no ban consequence; the
// quarantine gate decides that separately.
type ReadError struct {
	Err        error
	Disconnect bool
}

func (e *ReadError) Error() string { return e.Err.Error() }
func (e *ReadError) Unwrap() error { return e.Err }

// WriteFrame writes magic + big-endian length + JSON payload to w, per
// spec.md §4.3's exact wire format.
func WriteFrame(w io.Writer, magic [4]byte, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("p2p: marshal payload: %w", err)
	}
	if len(raw) > MaxRelayMsgBytes {
		return fmt.Errorf("p2p: payload %d bytes exceeds max %d", len(raw), MaxRelayMsgBytes)
	}
	var header [8]byte
	copy(header[:4], magic[:])
	binary.BigEndian.PutUint32(header[4:], uint32(len(raw)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("p2p: write header: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("p2p: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r, verifying its magic against
// expectedMagic and its length against MaxRelayMsgBytes before reading the
// payload. A magic mismatch or oversized length is reported with
// Disconnect=true: the caller should tear down the connection, the
// quarantine gate decides the ban consequence separately.
func ReadFrame(r io.Reader, expectedMagic [4]byte) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, &ReadError{Err: fmt.Errorf("p2p: read header: %w", err), Disconnect: true}
	}
	var magic [4]byte
	copy(magic[:], header[:4])
	if magic != expectedMagic {
		return nil, &ReadError{Err: fmt.Errorf("p2p: magic mismatch: got %x want %x", magic, expectedMagic), Disconnect: true}
	}
	length := binary.BigEndian.Uint32(header[4:])
	if length > MaxRelayMsgBytes {
		return nil, &ReadError{Err: fmt.Errorf("p2p: frame length %d exceeds max %d", length, MaxRelayMsgBytes), Disconnect: true}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &ReadError{Err: fmt.Errorf("p2p: read payload: %w", err), Disconnect: true}
	}
	return payload, nil
}
