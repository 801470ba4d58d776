package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"chimeradb/pkg/types"
)

const (
	headerSize = 16
	frameSize  = 12 // length + payload crc + header crc

	// seq + op + three length prefixes
	minPayloadSize = 8 + 1 + 4 + 4 + 4
)

var (
	magic = [8]byte{'C', 'H', 'W', 'A', 'L', 0, 0, 1}

	castagnoli = crc32.MakeTable(crc32.Castagnoli)

	errIncomplete     = errors.New("incomplete record")
	errChecksum       = errors.New("checksum mismatch")
	errHeaderChecksum = errors.New("frame header checksum mismatch")
)

// Record is a single logged mutation.
type Record struct {
	Seq        types.SeqN
	Op         types.Op
	Collection string
	Key        string
	Value      []byte
}

func (r Record) payloadSize() int {
	return minPayloadSize + len(r.Collection) + len(r.Key) + len(r.Value)
}

// encode returns the framed record:
// length | crc32c(payload) | crc32c(length, crc32c(payload)) | payload.
func (r Record) encode() ([]byte, error) {
	size := r.payloadSize()
	if size > math.MaxUint32 {
		return nil, fmt.Errorf("record too large: %d", size)
	}

	buf := make([]byte, frameSize, frameSize+size)
	buf = binary.LittleEndian.AppendUint64(buf, r.Seq)
	buf = append(buf, byte(r.Op))
	buf = appendBytes(buf, []byte(r.Collection))
	buf = appendBytes(buf, []byte(r.Key))
	buf = appendBytes(buf, r.Value)

	payload := buf[frameSize:]
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.Checksum(payload, castagnoli))
	binary.LittleEndian.PutUint32(buf[8:12], crc32.Checksum(buf[0:8], castagnoli))

	return buf, nil
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func decodePayload(p []byte) (Record, error) {
	var rec Record
	if len(p) < minPayloadSize {
		return rec, fmt.Errorf("payload too short: %d bytes", len(p))
	}

	rec.Seq = binary.LittleEndian.Uint64(p[0:8])
	rec.Op = types.Op(p[8])
	if !rec.Op.Valid() {
		return rec, fmt.Errorf("unknown op %d", p[8])
	}

	rest := p[9:]
	coll, rest, err := readBytes(rest)
	if err != nil {
		return rec, fmt.Errorf("collection: %w", err)
	}
	key, rest, err := readBytes(rest)
	if err != nil {
		return rec, fmt.Errorf("key: %w", err)
	}
	val, rest, err := readBytes(rest)
	if err != nil {
		return rec, fmt.Errorf("value: %w", err)
	}
	if len(rest) != 0 {
		return rec, fmt.Errorf("%d trailing bytes", len(rest))
	}

	rec.Collection = string(coll)
	rec.Key = string(key)
	rec.Value = val
	return rec, nil
}

func readBytes(p []byte) ([]byte, []byte, error) {
	if len(p) < 4 {
		return nil, nil, errors.New("truncated length")
	}
	n := binary.LittleEndian.Uint32(p[0:4])
	p = p[4:]
	if uint64(n) > uint64(len(p)) {
		return nil, nil, fmt.Errorf("length %d exceeds payload", n)
	}
	return p[:n:n], p[n:], nil
}

func encodeHeader(base types.SeqN) []byte {
	buf := make([]byte, 0, headerSize)
	buf = append(buf, magic[:]...)
	return binary.LittleEndian.AppendUint64(buf, base)
}

func decodeHeader(b []byte) (types.SeqN, error) {
	if len(b) != headerSize || [8]byte(b[:8]) != magic {
		return 0, errors.New("bad WAL header")
	}
	return binary.LittleEndian.Uint64(b[8:]), nil
}

// frameReader walks the framed records of a log file, tracking the byte
// offset of each frame. It never reads past limit.
type frameReader struct {
	r     *bufio.Reader
	off   int64
	limit int64
}

func newFrameReader(r io.Reader, off, limit int64) *frameReader {
	return &frameReader{r: bufio.NewReader(r), off: off, limit: limit}
}

// next returns the decoded record and its raw frame. It returns io.EOF at a
// clean end and errIncomplete when the limit cuts the frame header short or
// cuts the payload of a frame whose header checksum holds. A header that fails
// its checksum yields errHeaderChecksum with frameEnd just past the header,
// since its length cannot be trusted. errChecksum (or a decode error) reports
// a complete frame with a bad payload. On failure the reader offset still
// points at the start of the bad frame.
func (fr *frameReader) next() (rec Record, raw []byte, frameEnd int64, err error) {
	remaining := fr.limit - fr.off
	if remaining == 0 {
		return rec, nil, fr.off, io.EOF
	}
	if remaining < frameSize {
		return rec, nil, fr.limit, errIncomplete
	}

	var hdr [frameSize]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return rec, nil, fr.limit, fmt.Errorf("%w: %w", errIncomplete, err)
	}
	if crc32.Checksum(hdr[0:8], castagnoli) != binary.LittleEndian.Uint32(hdr[8:12]) {
		return rec, nil, fr.off + frameSize, errHeaderChecksum
	}
	length := int64(binary.LittleEndian.Uint32(hdr[0:4]))
	sum := binary.LittleEndian.Uint32(hdr[4:8])

	frameEnd = fr.off + frameSize + length
	if frameEnd > fr.limit {
		return rec, nil, fr.limit, errIncomplete
	}

	raw = make([]byte, frameSize+length)
	copy(raw, hdr[:])
	if _, err := io.ReadFull(fr.r, raw[frameSize:]); err != nil {
		return rec, nil, fr.limit, fmt.Errorf("%w: %w", errIncomplete, err)
	}

	payload := raw[frameSize:]
	if crc32.Checksum(payload, castagnoli) != sum {
		return rec, nil, frameEnd, errChecksum
	}
	rec, err = decodePayload(payload)
	if err != nil {
		return rec, nil, frameEnd, err
	}

	fr.off = frameEnd
	return rec, raw, frameEnd, nil
}
