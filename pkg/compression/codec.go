package compression

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is a streaming compressor. The ID is persisted in snapshot headers and
// must never be reused for a different algorithm.
type Codec interface {
	ID() byte
	Name() string
	// Compress copies r into w compressed and returns the bytes written to w.
	Compress(r io.Reader, w io.Writer) (int64, error)
	// Decompress copies r into w decompressed and returns the bytes written to w.
	Decompress(r io.Reader, w io.Writer) (int64, error)
}

const (
	IDNone   byte = 0
	IDGzip   byte = 1
	IDZstd   byte = 2
	IDSnappy byte = 3
	IDLZ4    byte = 4
)

var codecs = []Codec{
	noneCodec{},
	gzipCodec{},
	zstdCodec{},
	snappyCodec{},
	lz4Codec{},
}

// ByName resolves a configured codec name.
func ByName(name string) (Codec, error) {
	for _, c := range codecs {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown compression codec %q", name)
}

// ByID resolves a codec from a persisted header byte.
func ByID(id byte) (Codec, error) {
	for _, c := range codecs {
		if c.ID() == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown compression codec id %d", id)
}

// Names lists supported codec names.
func Names() []string {
	names := make([]string, 0, len(codecs))
	for _, c := range codecs {
		names = append(names, c.Name())
	}
	return names
}

type noneCodec struct{}

func (noneCodec) ID() byte     { return IDNone }
func (noneCodec) Name() string { return "none" }

func (noneCodec) Compress(r io.Reader, w io.Writer) (int64, error) {
	return io.Copy(w, r)
}

func (noneCodec) Decompress(r io.Reader, w io.Writer) (int64, error) {
	return io.Copy(w, r)
}

type gzipCodec struct{}

func (gzipCodec) ID() byte     { return IDGzip }
func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) Compress(r io.Reader, w io.Writer) (int64, error) {
	counter := &byteCounter{w: w}
	gz := gzip.NewWriter(counter)
	return closeAfterCopy(counter, gz, r)
}

func (gzipCodec) Decompress(r io.Reader, w io.Writer) (int64, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer gz.Close()

	return io.Copy(w, gz)
}

type zstdCodec struct{}

func (zstdCodec) ID() byte     { return IDZstd }
func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Compress(r io.Reader, w io.Writer) (int64, error) {
	counter := &byteCounter{w: w}
	enc, err := zstd.NewWriter(counter)
	if err != nil {
		return 0, err
	}
	return closeAfterCopy(counter, enc, r)
}

func (zstdCodec) Decompress(r io.Reader, w io.Writer) (int64, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	return io.Copy(w, dec)
}

type snappyCodec struct{}

func (snappyCodec) ID() byte     { return IDSnappy }
func (snappyCodec) Name() string { return "snappy" }

func (snappyCodec) Compress(r io.Reader, w io.Writer) (int64, error) {
	counter := &byteCounter{w: w}
	return closeAfterCopy(counter, snappy.NewBufferedWriter(counter), r)
}

func (snappyCodec) Decompress(r io.Reader, w io.Writer) (int64, error) {
	return io.Copy(w, snappy.NewReader(r))
}

type lz4Codec struct{}

func (lz4Codec) ID() byte     { return IDLZ4 }
func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(r io.Reader, w io.Writer) (int64, error) {
	counter := &byteCounter{w: w}
	return closeAfterCopy(counter, lz4.NewWriter(counter), r)
}

func (lz4Codec) Decompress(r io.Reader, w io.Writer) (int64, error) {
	return io.Copy(w, lz4.NewReader(r))
}

// closeAfterCopy drains r into wc and closes it so trailing frames are flushed.
func closeAfterCopy(counter *byteCounter, wc io.WriteCloser, r io.Reader) (int64, error) {
	if _, err := io.Copy(wc, r); err != nil {
		_ = wc.Close()
		return 0, err
	}
	if err := wc.Close(); err != nil {
		return 0, err
	}
	return counter.Count(), nil
}
