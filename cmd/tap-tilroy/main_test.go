package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tap-tilroy v"+version)
}

func TestDiscover(t *testing.T) {
	cfg := writeConfig(t, `{"api_url": "https://api.example.com", "tilroy_api_key": "a", "x_api_key": "b"}`)

	for _, args := range [][]string{
		{"--config", cfg, "--discover"},
		{"discover", "--config", cfg},
	} {
		out, err := execute(t, args...)
		require.NoError(t, err)

		var doc struct {
			Streams []struct {
				TapStreamID string `json:"tap_stream_id"`
			} `json:"streams"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &doc))
		ids := make([]string, 0, len(doc.Streams))
		for _, s := range doc.Streams {
			ids = append(ids, s.TapStreamID)
		}
		assert.Equal(t, []string{"shops", "products", "purchase_orders", "stock_changes", "sales"}, ids)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("TILROY_KEY", "from-env")
	path := writeConfig(t, `{
		"api_url": "https://api.example.com",
		"tilroy_api_key": "${TILROY_KEY}",
		"x_api_key": "b",
		"sync": {"max_concurrent_streams": 3}
	}`)

	cfg, err := loadConfig(flags{
		config:    path,
		state:     "/tmp/state.json",
		logLevel:  "debug",
		streams:   5,
		policy:    "skip",
		startDate: "2024-01-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.TilroyAPIKey)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, 5, cfg.Sync.MaxConcurrentStreams)
	assert.Equal(t, "skip", cfg.Sync.ValidationPolicy)
	assert.Equal(t, "2024-01-01", cfg.StartDate)
	assert.Equal(t, "/tmp/state.json", cfg.State.Path)
}

func TestEnvironmentOverridesFlags(t *testing.T) {
	t.Setenv("TAP_VALIDATION_POLICY", "bogus")
	cfg := writeConfig(t, `{"api_url": "https://api.example.com", "tilroy_api_key": "a", "x_api_key": "b"}`)

	_, err := execute(t, "run", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestRunWritesMessagesAndState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shopapi/production/shops" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"tilroyId": "1", "number": "7", "name": "Gent", "type": {"code": "STORE"}}]`))
	}))
	defer srv.Close()

	statePath := filepath.Join(t.TempDir(), "state.json")
	cfg := writeConfig(t, `{
		"api_url": "`+srv.URL+`",
		"tilroy_api_key": "a",
		"x_api_key": "b",
		"streams": {
			"products": {"selected": false},
			"purchase_orders": {"selected": false},
			"stock_changes": {"selected": false},
			"sales": {"selected": false}
		}
	}`)

	out, err := execute(t, "run", "--config", cfg, "--state", statePath)
	require.NoError(t, err)

	var types []string
	var record map[string]interface{}
	sc := bufio.NewScanner(bytes.NewBufferString(out))
	for sc.Scan() {
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &msg))
		types = append(types, msg["type"].(string))
		if msg["type"] == "RECORD" {
			record = msg["record"].(map[string]interface{})
		}
	}
	assert.Equal(t, []string{"SCHEMA", "RECORD", "STATE"}, types)
	assert.Equal(t, "STORE", record["type_code"])
	assert.NotContains(t, record, "type")

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	st, err := state.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, st.Streams["shops"].Status)
}
