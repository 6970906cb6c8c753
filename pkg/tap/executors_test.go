package tap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tap-tilroy/pkg/auth"
	"github.com/ajitpratap0/tap-tilroy/pkg/catalog"
	"github.com/ajitpratap0/tap-tilroy/pkg/clients"
	"github.com/ajitpratap0/tap-tilroy/pkg/config"
	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
	"github.com/ajitpratap0/tap-tilroy/pkg/testutil"
)

func TestNewCredentials(t *testing.T) {
	client := clients.NewHTTPClient(nil, nil)
	defer client.Close()

	tests := []struct {
		name    string
		auth    config.AuthConfig
		want    interface{}
		wantErr bool
	}{
		{"default is api key", config.AuthConfig{}, &auth.StaticProvider{}, false},
		{"api key", config.AuthConfig{Type: "api_key"}, &auth.StaticProvider{}, false},
		{"oauth2", config.AuthConfig{Type: "oauth2", TokenURL: "https://id.example.com/token", ClientID: "tap"}, &auth.RefreshingProvider{}, false},
		{"jwt", config.AuthConfig{Type: "jwt", TokenURL: "https://id.example.com/login"}, &auth.RefreshingProvider{}, false},
		{"unknown", config.AuthConfig{Type: "kerberos"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			cfg.TilroyAPIKey, cfg.XAPIKey = "k1", "k2"
			cfg.Auth = tt.auth

			p, err := NewCredentials(cfg, client, testutil.Logger(t))
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
		})
	}
}

func TestExecutors(t *testing.T) {
	cfg := config.NewConfig()
	cfg.TilroyAPIKey, cfg.XAPIKey = "k1", "k2"

	ctx := testutil.Context(t, 0)
	execs, err := NewExecutors(ctx, cfg, testutil.Logger(t))
	require.NoError(t, err)
	defer execs.Close()

	desc := &catalog.StreamDescriptor{ID: "shops", Endpoint: &fetch.HTTPEndpoint{Path: "/shopapi/production/shops"}}
	exec, err := execs.Executor(desc)
	require.NoError(t, err)
	assert.IsType(t, &fetch.HTTPExecutor{}, exec)

	_, err = execs.Executor(&catalog.StreamDescriptor{ID: "mirror", Query: &fetch.SQLQuery{Table: "sales"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "query stream without a database")

	_, err = execs.Executor(&catalog.StreamDescriptor{ID: "bare"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestExecutorsWithDatabase(t *testing.T) {
	cfg := config.NewConfig()
	cfg.TilroyAPIKey, cfg.XAPIKey = "k1", "k2"
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"}

	execs, err := NewExecutors(context.Background(), cfg, testutil.Logger(t))
	require.NoError(t, err)
	defer execs.Close()

	exec, err := execs.Executor(&catalog.StreamDescriptor{ID: "sales", Query: &fetch.SQLQuery{Table: "sales"}})
	require.NoError(t, err)
	assert.IsType(t, &fetch.SQLExecutor{}, exec)
}
