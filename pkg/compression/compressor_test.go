package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReader(t *testing.T) {
	line := `{"type":"RECORD","stream":"sales","record":{"idTenant":"1","saleDate":"2024-03-01T00:00:00Z"}}` + "\n"
	payload := []byte(strings.Repeat(line, 200))

	algorithms := []Algorithm{None, Gzip, Deflate, Zstd, LZ4, Snappy, S2}
	levels := []Level{Fastest, Default, Best}

	for _, algorithm := range algorithms {
		for _, level := range levels {
			t.Run(string(algorithm), func(t *testing.T) {
				var buf bytes.Buffer
				w, err := NewWriter(&buf, algorithm, level)
				require.NoError(t, err)

				// Two writes separated by a flush, as a sink does per page.
				_, err = w.Write(payload[:len(payload)/2])
				require.NoError(t, err)
				require.NoError(t, w.Flush())
				_, err = w.Write(payload[len(payload)/2:])
				require.NoError(t, err)
				require.NoError(t, w.Close())

				if algorithm != None {
					assert.Less(t, buf.Len(), len(payload))
				}

				r, err := NewReader(&buf, algorithm)
				require.NoError(t, err)
				defer r.Close()
				got, err := io.ReadAll(r)
				require.NoError(t, err)
				assert.Equal(t, payload, got)
			})
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{in: "", want: None},
		{in: "GZIP", want: Gzip},
		{in: "gz", want: Gzip},
		{in: "zst", want: Zstd},
		{in: "lz4", want: LZ4},
		{in: "brotli", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".zst", Zstd.Extension())
	assert.Equal(t, ".gz", Gzip.Extension())
	assert.Equal(t, "", None.Extension())
}
