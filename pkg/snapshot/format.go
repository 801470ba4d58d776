package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"chimeradb/pkg/compression"
	"chimeradb/pkg/types"
)

const (
	formatVersion = 1
	headerSize    = 8 + 1 + 1 + 8 + 8 + 8 + 4
)

var (
	magic      = [8]byte{'C', 'H', 'S', 'N', 'A', 'P', '0', '1'}
	castagnoli = crc32.MakeTable(crc32.Castagnoli)
)

type fileHeader struct {
	Version    uint8
	Codec      uint8
	Watermark  types.SeqN
	Records    uint64
	PayloadLen uint64
	Checksum   uint32
}

func (h fileHeader) encode() []byte {
	buf := make([]byte, 0, headerSize)
	buf = append(buf, magic[:]...)
	buf = append(buf, h.Version, h.Codec)
	buf = binary.LittleEndian.AppendUint64(buf, h.Watermark)
	buf = binary.LittleEndian.AppendUint64(buf, h.Records)
	buf = binary.LittleEndian.AppendUint64(buf, h.PayloadLen)
	return binary.LittleEndian.AppendUint32(buf, h.Checksum)
}

func decodeHeader(b []byte) (fileHeader, error) {
	var h fileHeader
	if len(b) < headerSize {
		return h, errors.New("short snapshot header")
	}
	if [8]byte(b[:8]) != magic {
		return h, errors.New("bad snapshot magic")
	}
	h.Version = b[8]
	if h.Version != formatVersion {
		return h, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	h.Codec = b[9]
	h.Watermark = binary.LittleEndian.Uint64(b[10:18])
	h.Records = binary.LittleEndian.Uint64(b[18:26])
	h.PayloadLen = binary.LittleEndian.Uint64(b[26:34])
	h.Checksum = binary.LittleEndian.Uint32(b[34:38])
	return h, nil
}

// encodeImage writes the uncompressed image:
// collCount(4) | { nameLen(4) name | count(8) | { keyLen(4) key | valLen(4) val } }
func encodeImage(w io.Writer, im Image) error {
	bw := &binWriter{w: w}
	bw.u32(uint32(len(im.Collections)))
	for _, c := range im.Collections {
		bw.bytes([]byte(c.Name))
		bw.u64(uint64(len(c.Entries)))
		for _, e := range c.Entries {
			bw.bytes([]byte(e.Key))
			bw.bytes(e.Value)
		}
	}
	return bw.err
}

func decodeImage(p []byte) (Image, error) {
	var im Image
	r := &binReader{b: p}

	nColl := r.u32()
	for i := uint32(0); i < nColl && r.err == nil; i++ {
		c := Collection{Name: string(r.bytes())}
		n := r.u64()
		if r.err == nil && n > uint64(len(r.b)) {
			return im, fmt.Errorf("collection %q claims %d entries", c.Name, n)
		}
		c.Entries = make([]Entry, 0, n)
		for j := uint64(0); j < n && r.err == nil; j++ {
			key := string(r.bytes())
			val := r.bytes()
			c.Entries = append(c.Entries, Entry{Key: key, Value: val})
		}
		im.Collections = append(im.Collections, c)
	}
	if r.err != nil {
		return Image{}, r.err
	}
	if len(r.b) != 0 {
		return Image{}, fmt.Errorf("%d trailing bytes in snapshot payload", len(r.b))
	}
	return im, nil
}

// marshal compresses the image and frames it with a checksummed header.
func marshal(im Image, watermark types.SeqN, codec compression.Codec) ([]byte, error) {
	var raw bytes.Buffer
	if err := encodeImage(&raw, im); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot image: %w", err)
	}

	var payload bytes.Buffer
	if _, err := codec.Compress(&raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot with %s: %w", codec.Name(), err)
	}

	h := fileHeader{
		Version:    formatVersion,
		Codec:      codec.ID(),
		Watermark:  watermark,
		Records:    im.Records(),
		PayloadLen: uint64(payload.Len()),
		Checksum:   crc32.Checksum(payload.Bytes(), castagnoli),
	}

	out := make([]byte, 0, headerSize+payload.Len())
	out = append(out, h.encode()...)
	return append(out, payload.Bytes()...), nil
}

// unmarshal verifies and decodes a whole snapshot file.
func unmarshal(data []byte) (Image, fileHeader, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return Image{}, h, err
	}

	payload := data[headerSize:]
	if uint64(len(payload)) != h.PayloadLen {
		return Image{}, h, fmt.Errorf("payload length %d, header says %d", len(payload), h.PayloadLen)
	}
	if crc32.Checksum(payload, castagnoli) != h.Checksum {
		return Image{}, h, errors.New("snapshot checksum mismatch")
	}

	codec, err := compression.ByID(h.Codec)
	if err != nil {
		return Image{}, h, err
	}

	var raw bytes.Buffer
	if _, err := codec.Decompress(bytes.NewReader(payload), &raw); err != nil {
		return Image{}, h, fmt.Errorf("failed to decompress snapshot: %w", err)
	}

	im, err := decodeImage(raw.Bytes())
	if err != nil {
		return Image{}, h, err
	}
	if im.Records() != h.Records {
		return Image{}, h, fmt.Errorf("snapshot holds %d records, header says %d", im.Records(), h.Records)
	}
	return im, h, nil
}

type binWriter struct {
	w   io.Writer
	buf [8]byte
	err error
}

func (bw *binWriter) write(p []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(p)
}

func (bw *binWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(bw.buf[:4], v)
	bw.write(bw.buf[:4])
}

func (bw *binWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(bw.buf[:], v)
	bw.write(bw.buf[:])
}

func (bw *binWriter) bytes(p []byte) {
	if len(p) > math.MaxUint32 {
		bw.err = fmt.Errorf("field too large: %d bytes", len(p))
		return
	}
	bw.u32(uint32(len(p)))
	bw.write(p)
}

type binReader struct {
	b   []byte
	err error
}

func (r *binReader) take(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.b)) {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	out := r.b[:n:n]
	r.b = r.b[n:]
	return out
}

func (r *binReader) u32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *binReader) u64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *binReader) bytes() []byte {
	return r.take(uint64(r.u32()))
}
