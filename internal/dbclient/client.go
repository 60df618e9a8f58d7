// Package dbclient wraps the Postgres+pgvector database: named stored
// procedures invoked as set-returning functions, simple table filters,
// and a liveness probe (spec §4.5.2, §6.4). Grounded on the teacher's
// connection-pool and retry conventions in
// internal/memory/providers/pgvector.go.
package dbclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/aoma-mesh/mcp-server/internal/errs"
)

// Row is a single result row addressed by column name, mirroring the
// untyped row shape a REST-style Postgres API would hand back.
type Row map[string]interface{}

type Client struct {
	pool       *pgxpool.Pool
	maxRetries int
}

func Connect(ctx context.Context, dbURL, serviceKey string, maxRetries int) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, errs.Internal("invalid database url", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	// Every new connection registers pgvector's wire codec (so `vector`
	// columns and pgvector.Vector query args encode/scan correctly) and,
	// when a service key is configured, switches into the elevated
	// Postgres role it represents so RPCs can read past row-level
	// security the way the Supabase-style schema expects.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgvector.RegisterTypes(conn.TypeMap())
		if serviceKey != "" {
			if _, err := conn.Exec(ctx, "SET ROLE service_role"); err != nil {
				return err
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.Upstream(0, "failed to create database pool", err)
	}
	return &Client{pool: pool, maxRetries: maxRetries}, nil
}

func (c *Client) Close() {
	c.pool.Close()
}

// RPC invokes a named stored procedure as a set-returning function:
// SELECT * FROM name(p1, p2, ...). Parameter order must match the
// procedure's declared signature (spec §6.4).
func (c *Client) RPC(ctx context.Context, name string, params ...interface{}) ([]Row, error) {
	placeholders := make([]string, len(params))
	for i := range params {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("SELECT * FROM %s(%s)", name, strings.Join(placeholders, ", "))
	return c.queryWithRetry(ctx, query, params...)
}

// Filter is one equality or IN predicate for Select.
type Filter struct {
	Column string
	Values []interface{} // len==1 -> equality, len>1 -> IN
}

// TextSearch appends an `column1 ilike %q% OR column2 ilike %q%` clause,
// used by the Jira text-search fallback (spec §4.6.2).
type TextSearch struct {
	Columns []string
	Query   string
}

// Select runs simple filter-equality/IN predicates plus a single
// OR/ILIKE fallback, per spec §4.5.2.
func (c *Client) Select(ctx context.Context, table string, filters []Filter, text *TextSearch, limit int) ([]Row, error) {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(table)

	var args []interface{}
	var clauses []string
	for _, f := range filters {
		if len(f.Values) == 0 {
			continue
		}
		if len(f.Values) == 1 {
			args = append(args, f.Values[0])
			clauses = append(clauses, fmt.Sprintf("%s = $%d", f.Column, len(args)))
			continue
		}
		placeholders := make([]string, len(f.Values))
		for i, v := range f.Values {
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", f.Column, strings.Join(placeholders, ", ")))
	}
	if text != nil && text.Query != "" && len(text.Columns) > 0 {
		like := "%" + text.Query + "%"
		var orParts []string
		for _, col := range text.Columns {
			args = append(args, like)
			orParts = append(orParts, fmt.Sprintf("%s ILIKE $%d", col, len(args)))
		}
		clauses = append(clauses, "("+strings.Join(orParts, " OR ")+")")
	}
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	if limit > 0 {
		args = append(args, limit)
		b.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	return c.queryWithRetry(ctx, b.String(), args...)
}

func (c *Client) queryWithRetry(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 50 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, errs.Timeout("database request cancelled while retrying")
			case <-time.After(backoff):
			}
		}
		rows, err := c.pool.Query(ctx, query, args...)
		if err != nil {
			lastErr = err
			continue
		}
		out, err := collect(rows)
		if err != nil {
			lastErr = err
			continue
		}
		return out, nil
	}
	return nil, errs.Upstream(0, "database rpc failed", lastErr)
}

func collect(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Probe performs a 5-second liveness check against the pool.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.pool.Ping(ctx) == nil
}
