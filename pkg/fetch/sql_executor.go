package fetch

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	mssql "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/metrics"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

// Dialect selects SQL syntax and the database/sql driver.
type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectMySQL     Dialect = "mysql"
	DialectSQLServer Dialect = "sqlserver"
	DialectSQLite    Dialect = "sqlite"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlserver", "mssql":
		return DialectSQLServer, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "unsupported database driver %q", name)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectMySQL:
		return "mysql"
	case DialectSQLServer:
		return "sqlserver"
	default:
		return "sqlite"
	}
}

func (d Dialect) quote(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		switch d {
		case DialectMySQL:
			parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
		case DialectSQLServer:
			parts[i] = "[" + strings.ReplaceAll(p, "]", "]]") + "]"
		default:
			parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
		}
	}
	return strings.Join(parts, ".")
}

func (d Dialect) placeholder(n int) string {
	switch d {
	case DialectPostgres:
		return fmt.Sprintf("$%d", n)
	case DialectSQLServer:
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

// OpenDB opens and pings a database for the named driver.
func OpenDB(ctx context.Context, driverName, dsn string) (*sql.DB, Dialect, error) {
	d, err := ParseDialect(driverName)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.ErrorTypeConnection, "failed to open database")
	}
	if d == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to database")
	}
	return db, d, nil
}

// SQLQuery describes a read-only table scan.
type SQLQuery struct {
	Table string
	// Columns to select; all columns when empty.
	Columns []string
	// ReplicationKey orders the scan and is the target of Bound filters.
	ReplicationKey string
	// KeyColumns break ties so offsets are stable.
	KeyColumns []string
	// Where is an optional static filter, ANDed with the bound.
	Where string
}

// SQLExecutor pages through a table with LIMIT/OFFSET.
type SQLExecutor struct {
	db      *sql.DB
	dialect Dialect
	query   SQLQuery
	execOptions
}

// NewSQLExecutor creates an executor for one query. db may be shared.
func NewSQLExecutor(db *sql.DB, dialect Dialect, query SQLQuery, opts ...Option) *SQLExecutor {
	return &SQLExecutor{
		db:          db,
		dialect:     dialect,
		query:       query,
		execOptions: newOptions("sql_executor", opts),
	}
}

// Fetch runs the page query.
func (e *SQLExecutor) Fetch(ctx context.Context, spec RequestSpec) (*Page, error) {
	stmt, args := e.build(spec)
	return e.policy.Execute(ctx, func(ctx context.Context, _ int) Outcome {
		return e.attempt(ctx, spec.Stream, stmt, args)
	}, Hooks{OnAttempt: e.attemptHook(spec.Stream)})
}

func (e *SQLExecutor) attempt(ctx context.Context, stream, stmt string, args []interface{}) Outcome {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	timer := metrics.NewTimer("fetch")
	defer func() {
		metrics.FetchDuration.WithLabelValues(stream).Observe(timer.Stop().Seconds())
	}()

	rows, err := e.db.QueryContext(attemptCtx, stmt, args...)
	if err != nil {
		return e.classify(ctx, stream, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return e.classify(ctx, stream, err)
	}

	page := &Page{Records: make([]Record, 0)}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return e.classify(ctx, stream, err)
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			rec[c] = normalizeSQLValue(vals[i])
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return e.classify(ctx, stream, err)
	}
	return Ok(page)
}

func (e *SQLExecutor) build(spec RequestSpec) (string, []interface{}) {
	d := e.dialect
	q := e.query
	var b strings.Builder

	b.WriteString("SELECT ")
	if len(q.Columns) == 0 {
		b.WriteString("*")
	} else {
		for i, c := range q.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.quote(c))
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(d.quote(q.Table))

	var conds []string
	var args []interface{}
	if q.Where != "" {
		conds = append(conds, "("+q.Where+")")
	}
	if spec.Bound != nil {
		op := ">"
		if spec.Bound.Inclusive {
			op = ">="
		}
		args = append(args, e.boundArg(spec.Bound.Value))
		conds = append(conds, fmt.Sprintf("%s %s %s", d.quote(spec.Bound.Field), op, d.placeholder(len(args))))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}

	var order []string
	if q.ReplicationKey != "" {
		order = append(order, d.quote(q.ReplicationKey))
	}
	for _, k := range q.KeyColumns {
		if k != q.ReplicationKey {
			order = append(order, d.quote(k))
		}
	}
	if len(order) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(order, ", "))
	} else if d == DialectSQLServer {
		b.WriteString(" ORDER BY (SELECT NULL)")
	}

	if spec.PageSize > 0 {
		if d == DialectSQLServer {
			fmt.Fprintf(&b, " OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", spec.Offset, spec.PageSize)
		} else {
			fmt.Fprintf(&b, " LIMIT %d OFFSET %d", spec.PageSize, spec.Offset)
		}
	}
	return b.String(), args
}

func (e *SQLExecutor) boundArg(b state.Bookmark) interface{} {
	switch b.Kind {
	case state.KindInteger:
		if n, err := b.Int(); err == nil {
			return n
		}
	case state.KindTimestamp:
		// SQLite stores timestamps as text; compare in canonical form.
		if e.dialect == DialectSQLite {
			return b.Value
		}
		if t, err := b.Time(); err == nil {
			return t
		}
	}
	return b.Value
}

func normalizeSQLValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return x
	}
}

func (e *SQLExecutor) classify(ctx context.Context, stream string, err error) Outcome {
	if ctx.Err() != nil {
		return Fatal(ctx.Err())
	}
	fe := &errors.FetchError{Stream: stream, Cause: err}

	var (
		pgErr   *pgconn.PgError
		myErr   *mysql.MySQLError
		msErr   mssql.Error
		liteErr *sqlite.Error
		netErr  net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &netErr):
		fe.Kind = errors.FetchTransport
	case errors.As(err, &pgErr):
		fe.Kind = pgKind(pgErr.Code)
	case errors.As(err, &myErr):
		fe.Kind = mysqlKind(myErr.Number)
	case errors.As(err, &msErr):
		fe.Kind = mssqlKind(msErr.Number)
	case errors.As(err, &liteErr):
		// SQLITE_BUSY and SQLITE_LOCKED, including extended codes
		if c := liteErr.Code() & 0xff; c == 5 || c == 6 {
			fe.Kind = errors.FetchServerError
		} else {
			fe.Kind = errors.FetchClientError
		}
	default:
		fe.Kind = errors.FetchClientError
	}

	if fe.Retryable() {
		return Retryable(fe)
	}
	return Fatal(fe)
}

func pgKind(code string) errors.FetchKind {
	switch {
	case strings.HasPrefix(code, "08"):
		return errors.FetchTransport
	case strings.HasPrefix(code, "28"):
		return errors.FetchAuth
	case code == "40001", code == "40P01", code == "53300", code == "57P01", code == "57P03":
		return errors.FetchServerError
	default:
		return errors.FetchClientError
	}
}

func mysqlKind(number uint16) errors.FetchKind {
	switch number {
	case 1040, 1205, 1213:
		return errors.FetchServerError
	case 1045:
		return errors.FetchAuth
	default:
		return errors.FetchClientError
	}
}

func mssqlKind(number int32) errors.FetchKind {
	switch number {
	case 1205, 40501, 40613:
		return errors.FetchServerError
	case 18456:
		return errors.FetchAuth
	default:
		return errors.FetchClientError
	}
}
