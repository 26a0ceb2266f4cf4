// Package mongo はMongoDBを公開先とするstore.Backendの実装を提供する。
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hitoshi/feed2notion/internal/model"
)

const (
	recordsCollection = "records"
	defaultDBName     = "feed2notion"
)

// recordDocument はrecordsコレクションのドキュメント。
type recordDocument struct {
	ID        string    `bson:"_id"`
	Title     string    `bson:"title"`
	Link      string    `bson:"link"`
	Date      string    `bson:"date"`
	Blocks    []string  `bson:"blocks"`
	CreatedAt time.Time `bson:"created_at"`
}

// RecordStore はMongoDBのrecordsコレクションにレコードを保存する。
type RecordStore struct {
	client  *mongodriver.Client
	db      *mongodriver.Database
	records *mongodriver.Collection
	now     func() time.Time
}

// New はMongoDBに接続して疎通を確認し、必要なインデックスを作成する。
// databaseが空の場合は"feed2notion"を使用する。
func New(ctx context.Context, uri, database string) (*RecordStore, error) {
	if uri == "" {
		return nil, errors.New("mongo: empty uri")
	}
	if database == "" {
		database = defaultDBName
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := cli.Database(database)
	s := &RecordStore{
		client:  cli,
		db:      db,
		records: db.Collection(recordsCollection),
		now:     time.Now,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	return s, nil
}

// Close はMongoDBとの接続を切断する。
func (s *RecordStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ensureIndexes はタイトルの一意インデックスを作成する。
// 同時に作成された同一タイトルの2件目はInsertOneで失敗する。
func (s *RecordStore) ensureIndexes(ctx context.Context) error {
	_, err := s.records.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "title", Value: 1}},
		Options: options.Index().SetName("idx_title").SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo create index: %w", err)
	}
	return nil
}

// TitleExists はタイトルが完全一致するレコードが存在するかを返す。
func (s *RecordStore) TitleExists(ctx context.Context, title string) (bool, error) {
	n, err := s.records.CountDocuments(ctx, bson.M{"title": title}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("mongo count records: %w", err)
	}
	return n > 0, nil
}

// CreatePage は本文ブロックを持たないレコードを作成し、そのIDを返す。
func (s *RecordStore) CreatePage(ctx context.Context, rec model.PublishRecord) (string, error) {
	doc := recordDocument{
		ID:        uuid.New().String(),
		Title:     rec.Title,
		Link:      rec.Link,
		Date:      rec.Date,
		Blocks:    []string{},
		CreatedAt: s.now().UTC(),
	}

	if _, err := s.records.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("mongo insert record: %w", err)
	}
	return doc.ID, nil
}

// AppendBlock はレコードのblocks配列の末尾にテキストを追加する。
func (s *RecordStore) AppendBlock(ctx context.Context, recordID, text string) error {
	res, err := s.records.UpdateOne(ctx,
		bson.M{"_id": recordID},
		bson.M{"$push": bson.M{"blocks": text}},
	)
	if err != nil {
		return fmt.Errorf("mongo append block: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("mongo append block: record %s not found", recordID)
	}
	return nil
}
