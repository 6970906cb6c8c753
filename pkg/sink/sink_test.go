package sink

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tap-tilroy/pkg/compression"
	"github.com/ajitpratap0/tap-tilroy/pkg/config"
	"github.com/ajitpratap0/tap-tilroy/pkg/json"
	"github.com/ajitpratap0/tap-tilroy/pkg/singer"
)

func readLines(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestWriterSinkOrder(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	extracted := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Emit(singer.NewSchema("sales", map[string]interface{}{"type": "object"}, []string{"idTenant"}, nil)))
	require.NoError(t, s.Emit(singer.NewRecord("sales", map[string]interface{}{"idTenant": "1"}, extracted)))
	assert.Zero(t, buf.Len(), "records stay buffered until flush")

	require.NoError(t, s.Flush())
	require.NoError(t, s.Emit(singer.NewState(map[string]interface{}{"version": 2})))
	require.NoError(t, s.Close())

	lines := readLines(t, buf.Bytes())
	require.Len(t, lines, 3)
	assert.Equal(t, "SCHEMA", lines[0]["type"])
	assert.Equal(t, "RECORD", lines[1]["type"])
	assert.Equal(t, "2024-03-01T12:00:00Z", lines[1]["time_extracted"])
	assert.Equal(t, "STATE", lines[2]["type"])
	assert.Equal(t, int64(3), s.Count())

	assert.Error(t, s.Emit(singer.NewState(nil)), "emit after close")
	assert.NoError(t, s.Close(), "close is idempotent")
}

func TestWriterSinkConcurrentEmit(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	var wg sync.WaitGroup
	for _, stream := range []string{"shops", "products", "sales", "stock_changes"} {
		wg.Add(1)
		go func(stream string) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				assert.NoError(t, s.Emit(singer.NewRecord(stream, map[string]interface{}{"i": i}, time.Time{})))
			}
		}(stream)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	// Every line must decode on its own: no interleaved writes.
	assert.Len(t, readLines(t, buf.Bytes()), 1000)
}

func TestFileSinkCompressed(t *testing.T) {
	for _, algorithm := range []compression.Algorithm{compression.None, compression.Gzip, compression.Zstd, compression.LZ4} {
		t.Run(string(algorithm), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.jsonl"+algorithm.Extension())
			s, err := NewFileSink(path, algorithm)
			require.NoError(t, err)
			for i := 0; i < 50; i++ {
				require.NoError(t, s.Emit(singer.NewRecord("shops", map[string]interface{}{"tilroyId": i}, time.Time{})))
			}
			require.NoError(t, s.Flush())
			require.NoError(t, s.Close())

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()
			r, err := compression.NewReader(f, algorithm)
			require.NoError(t, err)
			defer r.Close()

			var plain bytes.Buffer
			_, err = plain.ReadFrom(r)
			require.NoError(t, err)
			assert.Len(t, readLines(t, plain.Bytes()), 50)
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.OutputConfig
		wantErr bool
	}{
		{name: "stdout", cfg: config.OutputConfig{Type: "stdout"}},
		{name: "default", cfg: config.OutputConfig{}},
		{name: "file", cfg: config.OutputConfig{Type: "file", Path: filepath.Join(t.TempDir(), "out.gz"), Compression: "gzip"}},
		{name: "bad compression", cfg: config.OutputConfig{Type: "file", Path: "x", Compression: "rar"}, wantErr: true},
		{name: "kafka without brokers", cfg: config.OutputConfig{Type: "kafka"}, wantErr: true},
		{name: "unknown", cfg: config.OutputConfig{Type: "s3"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg, &bytes.Buffer{}, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, s.Close())
		})
	}
}
