// Package repository はレコードのPostgreSQL永続化を提供する。
// store.Backendの実装として、Notionの代わりにPostgreSQLを公開先に使う場合に利用する。
package repository

import (
	"context"
	"database/sql"
)

// DBTX はsql.DBとsql.Txの共通インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
