package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// executor interface allows using both sql.DB and sql.Tx
type executor interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// rebind converts ? placeholders to $1..$n for the postgres driver. SQLite
// accepts ? natively, so queries are written once in ? form.
func rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

// forUpdate appends a row lock clause on postgres. SQLite serializes writers
// at the connection level, so the clause is unnecessary and unsupported there.
func forUpdate(driver, query string) string {
	if driver == "postgres" {
		return query + " FOR UPDATE"
	}
	return query
}
