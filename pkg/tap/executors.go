package tap

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/auth"
	"github.com/ajitpratap0/tap-tilroy/pkg/catalog"
	"github.com/ajitpratap0/tap-tilroy/pkg/clients"
	"github.com/ajitpratap0/tap-tilroy/pkg/config"
	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
)

// ExecutorFactory builds the executor that serves a stream.
type ExecutorFactory interface {
	Executor(desc *catalog.StreamDescriptor) (fetch.Executor, error)
}

// ExecutorFactoryFunc adapts a function to ExecutorFactory.
type ExecutorFactoryFunc func(desc *catalog.StreamDescriptor) (fetch.Executor, error)

func (f ExecutorFactoryFunc) Executor(desc *catalog.StreamDescriptor) (fetch.Executor, error) {
	return f(desc)
}

// Executors builds HTTP executors for streams with an endpoint and SQL
// executors for streams with a query. Every executor shares one HTTP
// client, one credential provider and one database handle.
type Executors struct {
	baseURL string
	client  *clients.HTTPClient
	creds   auth.Provider
	db      *sql.DB
	dialect fetch.Dialect
	opts    []fetch.Option
}

// NewExecutors prepares the shared resources described by cfg. The
// database is opened only when a DSN is configured.
func NewExecutors(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Executors, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpCfg := clients.DefaultHTTPConfig()
	if cfg.UserAgent != "" {
		httpCfg.UserAgent = cfg.UserAgent
	}
	if cfg.Reliability.IsRateLimited() {
		httpCfg.RateLimit = float64(cfg.Reliability.RateLimitPerSec)
		httpCfg.RateBurst = cfg.Reliability.RateLimitBurst
	}
	client := clients.NewHTTPClient(httpCfg, logger)

	creds, err := NewCredentials(cfg, client, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	e := &Executors{
		baseURL: cfg.APIURL,
		client:  client,
		creds:   creds,
		opts: []fetch.Option{
			fetch.WithRetryPolicy(fetch.PolicyFromConfig(cfg.Reliability)),
			fetch.WithAttemptTimeout(cfg.Reliability.RequestTimeout),
			fetch.WithLogger(logger),
		},
	}

	if cfg.Database.DSN != "" {
		db, dialect, err := fetch.OpenDB(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			client.Close()
			return nil, err
		}
		e.db, e.dialect = db, dialect
		logger.Info("database source opened", zap.String("dialect", string(dialect)))
	}
	return e, nil
}

// NewCredentials builds the credential provider selected by cfg.Auth.
func NewCredentials(cfg *config.Config, client *clients.HTTPClient, logger *zap.Logger) (auth.Provider, error) {
	switch cfg.Auth.Type {
	case "", "api_key":
		return auth.NewAPIKeyProvider(cfg.TilroyAPIKey, cfg.XAPIKey), nil
	case "oauth2":
		src := auth.NewClientCredentialsSource(cfg.Auth.TokenURL, cfg.Auth.ClientID, cfg.Auth.ClientSecret, cfg.Auth.Scopes, client.StandardClient())
		return auth.NewRefreshingProvider(src, logger), nil
	case "jwt":
		var headers map[string]string
		if cfg.XAPIKey != "" {
			headers = map[string]string{"x-api-key": cfg.XAPIKey}
		}
		src := auth.NewJWTLoginSource(cfg.Auth.TokenURL, cfg.Auth.Username, cfg.Auth.Password, headers, client.StandardClient())
		return auth.NewRefreshingProvider(src, logger), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown auth type %q", cfg.Auth.Type)
	}
}

// Executor implements ExecutorFactory.
func (e *Executors) Executor(desc *catalog.StreamDescriptor) (fetch.Executor, error) {
	switch {
	case desc.Query != nil:
		if e.db == nil {
			return nil, errors.Newf(errors.ErrorTypeConfig, "stream %s reads from a database but no database is configured", desc.ID)
		}
		return fetch.NewSQLExecutor(e.db, e.dialect, *desc.Query, e.opts...), nil
	case desc.Endpoint != nil:
		return fetch.NewHTTPExecutor(e.client, e.baseURL, *desc.Endpoint, e.creds, e.opts...)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "stream %s has neither an endpoint nor a query", desc.ID)
	}
}

// Close releases the shared client and database.
func (e *Executors) Close() error {
	e.client.Close()
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}
