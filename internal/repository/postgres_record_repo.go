package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feed2notion/internal/model"
)

// PostgresRecordRepo はPostgreSQLを使用したレコードリポジトリ。
type PostgresRecordRepo struct {
	db  DBTX
	now func() time.Time
}

// NewPostgresRecordRepo はPostgresRecordRepoを生成する。
func NewPostgresRecordRepo(db DBTX) *PostgresRecordRepo {
	return &PostgresRecordRepo{db: db, now: time.Now}
}

// TitleExists はタイトルが完全一致するレコードが存在するかを返す。
func (r *PostgresRecordRepo) TitleExists(ctx context.Context, title string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE title = $1)`,
		title,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("レコードの存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// CreatePage はレコードを作成し、生成したUUIDを返す。
// rec.DateはYYYY-MM-DD形式であること。
func (r *PostgresRecordRepo) CreatePage(ctx context.Context, rec model.PublishRecord) (string, error) {
	date, err := time.Parse(model.DateLayout, rec.Date)
	if err != nil {
		return "", fmt.Errorf("日付の形式が不正です: %w", err)
	}

	id := uuid.New().String()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO records (id, title, link, record_date, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, rec.Title, rec.Link, date, r.now(),
	)
	if err != nil {
		return "", fmt.Errorf("レコードの作成に失敗しました: %w", err)
	}
	return id, nil
}

// AppendBlock はレコードの末尾に本文ブロックを追加する。
// 同一レコードへの追記は呼び出し側で逐次化されている前提で、位置は既存の最大値+1とする。
func (r *PostgresRecordRepo) AppendBlock(ctx context.Context, recordID, text string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO record_blocks (record_id, position, content)
		 SELECT $1, COALESCE(MAX(position) + 1, 0), $2
		 FROM record_blocks WHERE record_id = $1`,
		recordID, text,
	)
	if err != nil {
		return fmt.Errorf("本文ブロックの追加に失敗しました: %w", err)
	}
	return nil
}
