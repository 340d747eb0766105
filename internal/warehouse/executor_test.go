package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newSQLMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return gdb, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestExecute_RowsAndCap(t *testing.T) {
	gdb, mock := newSQLMock(t)
	rows := sqlmock.NewRows([]string{"product_name", "total_sold"})
	for i := 0; i < 5; i++ {
		rows.AddRow([]byte(fmt.Sprintf("p%d", i)), int64(10-i))
	}
	mock.ExpectQuery(`SELECT product_name, total_sold FROM sales`).WillReturnRows(rows)

	res, err := NewExecutor(gdb, nil).Execute(context.Background(), "SELECT product_name, total_sold FROM sales", 3)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	assertSQLMock(t, mock)

	if res.RowCount != 3 || len(res.Rows) != 3 || !res.Truncated {
		t.Fatalf("unexpected result: count=%d truncated=%v", res.RowCount, res.Truncated)
	}
	if res.Columns[0] != "product_name" || res.Columns[1] != "total_sold" {
		t.Fatalf("unexpected columns: %v", res.Columns)
	}
	if res.Rows[0]["product_name"] != "p0" {
		t.Fatalf("expected []byte normalized to string, got %#v", res.Rows[0]["product_name"])
	}
	if res.Rows[2]["total_sold"] != int64(8) {
		t.Fatalf("unexpected value: %#v", res.Rows[2]["total_sold"])
	}
}

func TestExecute_EmptyResult(t *testing.T) {
	gdb, mock := newSQLMock(t)
	mock.ExpectQuery(`SELECT id FROM users`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	res, err := NewExecutor(gdb, nil).Execute(context.Background(), "SELECT id FROM users WHERE 1=0", 10)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	assertSQLMock(t, mock)
	if res.RowCount != 0 || res.Rows == nil || res.Truncated {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecute_ErrorClassification(t *testing.T) {
	cases := []struct {
		err  error
		kind ErrorKind
	}{
		{&mysql.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax near 'FORM'"}, KindSyntax},
		{&mysql.MySQLError{Number: 1146, Message: "Table 'shop.nope' doesn't exist"}, KindRuntime},
		{&mysql.MySQLError{Number: 1054, Message: "Unknown column 'x'"}, KindRuntime},
		{context.DeadlineExceeded, KindTimeout},
	}
	for _, tc := range cases {
		gdb, mock := newSQLMock(t)
		mock.ExpectQuery(`SELECT`).WillReturnError(tc.err)

		_, err := NewExecutor(gdb, nil).Execute(context.Background(), "SELECT x FROM nope", 10)
		assertSQLMock(t, mock)

		if apperr.CategoryOf(err) != apperr.ExecutionFailed {
			t.Fatalf("expected ExecutionFailed, got %v", err)
		}
		if KindOf(err) != tc.kind {
			t.Fatalf("%v: expected kind %s, got %s", tc.err, tc.kind, KindOf(err))
		}
		if strings.Contains(apperr.PublicMessage(err), "shop.nope") || strings.Contains(apperr.PublicMessage(err), "FORM") {
			t.Fatalf("driver message leaked: %q", apperr.PublicMessage(err))
		}
		if !errors.Is(err, tc.err) {
			t.Fatalf("expected original error in chain")
		}
	}
}

func TestExecute_SQLite(t *testing.T) {
	db := openTestDB(t)
	if err := db.Exec("CREATE TABLE products (product_id INTEGER PRIMARY KEY, name TEXT, price REAL, created_at DATETIME)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i, name := range []string{"desk", "lamp", "chair"} {
		if err := db.Exec("INSERT INTO products (name, price, created_at) VALUES (?, ?, ?)", name, float64(10*(i+1)), time.Now()).Error; err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	res, err := NewExecutor(db, nil).Execute(context.Background(), "SELECT name, price FROM products ORDER BY price DESC", 2)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.RowCount != 2 || res.Rows[0]["name"] != "chair" {
		t.Fatalf("unexpected rows: %+v", res.Rows)
	}

	_, err = NewExecutor(db, nil).Execute(context.Background(), "SELEC name FROM products", 2)
	if KindOf(err) != KindSyntax {
		t.Fatalf("expected syntax kind, got %v", err)
	}
}

func TestSchemaDescriber(t *testing.T) {
	db := openTestDB(t)
	if err := db.Exec("CREATE TABLE orders (order_id INTEGER PRIMARY KEY, total_amount REAL NOT NULL)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}

	d := NewSchemaDescriber(db, "fallback", time.Minute, nil)
	text := d.Describe(context.Background())
	if !strings.Contains(text, "orders:") || !strings.Contains(text, "total_amount") {
		t.Fatalf("unexpected schema text:\n%s", text)
	}

	// cached until invalidated
	if err := db.Exec("CREATE TABLE refunds (id INTEGER)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	if strings.Contains(d.Describe(context.Background()), "refunds") {
		t.Fatalf("expected cached description")
	}
	d.Invalidate()
	if !strings.Contains(d.Describe(context.Background()), "refunds") {
		t.Fatalf("expected refreshed description")
	}
}

func TestSchemaDescriber_Fallback(t *testing.T) {
	d := NewSchemaDescriber(openTestDB(t), "fallback schema", time.Minute, nil)
	if got := d.Describe(context.Background()); got != "fallback schema" {
		t.Fatalf("expected fallback for empty database, got %q", got)
	}
}
