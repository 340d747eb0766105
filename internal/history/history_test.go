package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestRecorder_WritesRecord(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	rec := NewRecorder(repo, nil)

	id, err := rec.Record(context.Background(), Entry{
		UserID:         1,
		QueryType:      TypeNL2SQLQuery,
		QueryText:      "top 3 products",
		SQL:            "SELECT 1 LIMIT 3",
		Status:         StatusSuccess,
		Model:          "gpt",
		ProcessingTime: 1500 * time.Millisecond,
		RowCount:       3,
		Meta:           map[string]any{"visualization": "bar"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("expected ULID id, got %q", id)
	}

	got, err := repo.Get(context.Background(), 1, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := repo.Get(context.Background(), 2, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other users must not see the record, got %v", err)
	}
	if got.Status != StatusSuccess || got.ProcessingTime != 1.5 || got.RowCount != 3 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.MetaInfo["visualization"] != "bar" {
		t.Fatalf("unexpected meta: %#v", got.MetaInfo)
	}
}

func TestRecorder_SurvivesCancelledContext(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id, err := NewRecorder(repo, nil).Record(ctx, Entry{UserID: 1, QueryType: TypeDirect, QueryText: "q", Status: StatusError})
	if err != nil {
		t.Fatalf("record with cancelled ctx: %v", err)
	}
	if _, err := repo.Get(context.Background(), 1, id); err != nil {
		t.Fatalf("expected record to be stored: %v", err)
	}
}

type failingSink struct{}

func (failingSink) Save(ctx context.Context, rec *Record) error { return errors.New("db down") }

func TestRecorder_ReportsSinkError(t *testing.T) {
	_, err := NewRecorder(failingSink{}, nil).Record(context.Background(), Entry{QueryType: TypeDirect})
	if err == nil {
		t.Fatalf("expected sink error")
	}
}

func TestRepo_ListNewestFirst(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		qt := TypeNL2SQLQuery
		if i%2 == 1 {
			qt = TypeDirect
		}
		if err := repo.Create(context.Background(), &Record{
			ID:        fmt.Sprintf("01HX%022d", i),
			UserID:    7,
			QueryType: qt,
			QueryText: fmt.Sprintf("q%d", i),
			Status:    StatusSuccess,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	if err := repo.Create(context.Background(), &Record{
		ID: "01HXOTHERUSER0000000000000", UserID: 8, QueryType: TypeDirect, QueryText: "other", Status: StatusError, CreatedAt: base,
	}); err != nil {
		t.Fatalf("seed other: %v", err)
	}

	recs, err := repo.List(context.Background(), 7, ListParams{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].QueryText != "q4" || recs[1].QueryText != "q3" {
		t.Fatalf("unexpected page: %+v", recs)
	}

	recs, err = repo.List(context.Background(), 7, ListParams{Limit: 10, Offset: 1, QueryType: TypeDirect})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(recs) != 1 || recs[0].QueryText != "q1" {
		t.Fatalf("unexpected filtered page: %+v", recs)
	}
}

func TestRepo_CreateIfAbsent(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	rec := &Record{ID: "01HXDUPLICATE0000000000000", UserID: 1, QueryType: TypeDirect, QueryText: "q", Status: StatusSuccess}

	created, err := repo.CreateIfAbsent(context.Background(), rec)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	dup := *rec
	created, err = repo.CreateIfAbsent(context.Background(), &dup)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate to be skipped")
	}
}

type capturePublisher struct {
	id   string
	body []byte
}

func (p *capturePublisher) Publish(ctx context.Context, messageID string, body []byte) error {
	p.id = messageID
	p.body = body
	return nil
}

func TestQueueSink_RoundTrip(t *testing.T) {
	pub := &capturePublisher{}
	rec := NewRecorder(NewQueueSink(pub), nil)
	id, err := rec.Record(context.Background(), Entry{UserID: 3, QueryType: TypeNL2SQLOnly, QueryText: "q", Status: StatusPartial})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if pub.id != id {
		t.Fatalf("message id should be the record id")
	}
	decoded, err := DecodeRecord(pub.body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.UserID != 3 || decoded.Status != StatusPartial {
		t.Fatalf("unexpected decoded record: %+v", decoded)
	}
	if _, err := DecodeRecord([]byte(`{}`)); err == nil {
		t.Fatalf("expected error for message without id")
	}
}

func TestRepo_IngestQueueMessage(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	pub := &capturePublisher{}
	rec := NewRecorder(NewQueueSink(pub), nil)
	id, err := rec.Record(ctx, Entry{UserID: 4, QueryType: TypeDirect, QueryText: "SELECT 1", Status: StatusSuccess})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if pub.id != id {
		t.Fatalf("message id must equal record id: %q vs %q", pub.id, id)
	}

	for i, want := range []bool{true, false} {
		inserted, err := repo.Ingest(ctx, pub.body)
		if err != nil || inserted != want {
			t.Fatalf("delivery %d: inserted=%v err=%v", i, inserted, err)
		}
	}
	recs, _ := repo.List(ctx, 4, ListParams{})
	if len(recs) != 1 {
		t.Fatalf("redelivery must not duplicate: %d records", len(recs))
	}

	if _, err := repo.Ingest(ctx, []byte(`{"user_id":1}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
