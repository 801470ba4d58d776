package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecsRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":      {},
		"short":      []byte("alice"),
		"repetitive": []byte(strings.Repeat("chimera ", 4096)),
	}

	for _, name := range Names() {
		codec, err := ByName(name)
		require.NoError(t, err)

		for label, in := range inputs {
			t.Run(name+"/"+label, func(t *testing.T) {
				var compressed bytes.Buffer
				n, err := codec.Compress(bytes.NewReader(in), &compressed)
				require.NoError(t, err)
				assert.Equal(t, int64(compressed.Len()), n)

				var out bytes.Buffer
				_, err = codec.Decompress(&compressed, &out)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(in, out.Bytes()))
			})
		}
	}
}

func TestCodecLookup(t *testing.T) {
	for _, name := range Names() {
		byName, err := ByName(name)
		require.NoError(t, err)
		byID, err := ByID(byName.ID())
		require.NoError(t, err)
		assert.Equal(t, name, byID.Name())
	}

	_, err := ByName("brotli")
	assert.Error(t, err)
	_, err = ByID(99)
	assert.Error(t, err)
}

func TestCompressionShrinksRepetitiveInput(t *testing.T) {
	in := []byte(strings.Repeat("abcdefgh", 8192))
	for _, name := range []string{"gzip", "zstd", "snappy", "lz4"} {
		codec, err := ByName(name)
		require.NoError(t, err)

		var out bytes.Buffer
		_, err = codec.Compress(bytes.NewReader(in), &out)
		require.NoError(t, err)
		assert.Less(t, out.Len(), len(in), name)
	}
}
