package fetch

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

func seedOrders(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := OpenDB(ctx, "sqlite3", filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	require.Equal(t, DialectSQLite, dialect)
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(ctx, `CREATE TABLE orders (id INTEGER PRIMARY KEY, code TEXT, updated_at TEXT, amount REAL)`)
	require.NoError(t, err)
	rows := []struct {
		id      int
		code    string
		updated string
		amount  float64
	}{
		{1, "A", "2024-01-01T00:00:00Z", 1.5},
		{2, "B", "2024-01-02T00:00:00Z", 2},
		{3, "C", "2024-01-02T00:00:00Z", 3},
		{4, "D", "2024-01-03T00:00:00Z", 4.25},
		{5, "E", "2024-01-04T00:00:00Z", 5},
	}
	for _, r := range rows {
		_, err := db.ExecContext(ctx, `INSERT INTO orders (id, code, updated_at, amount) VALUES (?, ?, ?, ?)`, r.id, r.code, r.updated, r.amount)
		require.NoError(t, err)
	}
	return db
}

func TestSQLExecutorPages(t *testing.T) {
	db := seedOrders(t)
	e := NewSQLExecutor(db, DialectSQLite, SQLQuery{
		Table:          "orders",
		Columns:        []string{"id", "code", "updated_at", "amount"},
		ReplicationKey: "updated_at",
		KeyColumns:     []string{"id"},
	}, WithLogger(zaptest.NewLogger(t)))

	var codes []string
	for offset := 0; ; offset += 2 {
		page, err := e.Fetch(context.Background(), RequestSpec{Stream: "orders", Offset: offset, PageSize: 2})
		require.NoError(t, err)
		for _, r := range page.Records {
			codes = append(codes, r["code"].(string))
		}
		if page.Len() < 2 {
			break
		}
	}
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, codes)
}

func TestSQLExecutorBound(t *testing.T) {
	db := seedOrders(t)
	e := NewSQLExecutor(db, DialectSQLite, SQLQuery{Table: "orders", ReplicationKey: "updated_at", KeyColumns: []string{"id"}})
	bookmark := state.Bookmark{Kind: state.KindTimestamp, Value: "2024-01-02T00:00:00Z"}

	tests := []struct {
		name      string
		inclusive bool
		want      []string
	}{
		{name: "strict", want: []string{"D", "E"}},
		{name: "inclusive", inclusive: true, want: []string{"B", "C", "D", "E"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := e.Fetch(context.Background(), RequestSpec{
				Stream:   "orders",
				PageSize: 10,
				Bound:    &Bound{Field: "updated_at", Value: bookmark, Inclusive: tt.inclusive},
			})
			require.NoError(t, err)
			var codes []string
			for _, r := range page.Records {
				codes = append(codes, r["code"].(string))
			}
			assert.Equal(t, tt.want, codes)
		})
	}
}

func TestSQLExecutorQueryError(t *testing.T) {
	db := seedOrders(t)
	e := NewSQLExecutor(db, DialectSQLite, SQLQuery{Table: "missing"})

	_, err := e.Fetch(context.Background(), RequestSpec{Stream: "missing", PageSize: 1})
	var fe *errors.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, errors.FetchClientError, fe.Kind)
	assert.Equal(t, 1, fe.Attempts)
}

func TestSQLBuild(t *testing.T) {
	query := SQLQuery{Table: "sales.orders", Columns: []string{"id", "code"}, ReplicationKey: "updated_at", KeyColumns: []string{"id"}, Where: "deleted = 0"}
	bound := &Bound{Field: "updated_at", Value: state.IntegerBookmark(7)}

	tests := []struct {
		dialect Dialect
		want    string
	}{
		{DialectPostgres, `SELECT "id", "code" FROM "sales"."orders" WHERE (deleted = 0) AND "updated_at" > $1 ORDER BY "updated_at", "id" LIMIT 50 OFFSET 100`},
		{DialectMySQL, "SELECT `id`, `code` FROM `sales`.`orders` WHERE (deleted = 0) AND `updated_at` > ? ORDER BY `updated_at`, `id` LIMIT 50 OFFSET 100"},
		{DialectSQLServer, `SELECT [id], [code] FROM [sales].[orders] WHERE (deleted = 0) AND [updated_at] > @p1 ORDER BY [updated_at], [id] OFFSET 100 ROWS FETCH NEXT 50 ROWS ONLY`},
	}
	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			e := NewSQLExecutor(nil, tt.dialect, query)
			stmt, args := e.build(RequestSpec{Offset: 100, PageSize: 50, Bound: bound})
			assert.Equal(t, tt.want, stmt)
			assert.Equal(t, []interface{}{int64(7)}, args)
		})
	}
}

func TestParseDialect(t *testing.T) {
	for name, want := range map[string]Dialect{
		"postgresql": DialectPostgres,
		"mysql":      DialectMySQL,
		"mssql":      DialectSQLServer,
		"sqlite":     DialectSQLite,
	} {
		got, err := ParseDialect(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDialect("oracle")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
