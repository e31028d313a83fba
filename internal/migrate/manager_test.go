package migrate

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var migrateNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id text);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0002_b.up.sql":   {Data: []byte("create table b (id text);\n-- trailing; comment\ncreate index b_idx on b (id);")},
		"0002_b.down.sql": {Data: []byte("drop table b;")},
		"notes.txt":       {Data: []byte("ignored")},
	}
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_history where kind = \\$1").WithArgs("migration").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index b_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_history").WithArgs("migration", "0002_b.up.sql", migrateNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m := NewManager(db, testFS(), nil, WithClock(func() time.Time { return migrateNow }))
	ran, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(ran) != 1 || ran[0] != "0002_b.up.sql" {
		t.Fatalf("ran = %v", ran)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_history").WithArgs("migration").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	m := NewManager(db, testFS(), nil)
	ran, err := m.Up(context.Background())
	if err == nil || len(ran) != 0 {
		t.Fatalf("expected failure before any migration, got %v, %v", ran, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name, applied_at from schema_history where kind = \\$1 order by applied_at, name").
		WithArgs("migration").
		WillReturnRows(sqlmock.NewRows([]string{"name", "applied_at"}).
			AddRow("0001_a.up.sql", migrateNow).
			AddRow("0002_b.up.sql", migrateNow.Add(time.Minute)))
	mock.ExpectBegin()
	mock.ExpectExec("drop table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_history where kind = \\$1 and name = \\$2").WithArgs("migration", "0002_b.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m := NewManager(db, testFS(), nil)
	name, err := m.Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0002_b.up.sql" {
		t.Fatalf("rolled back %s", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithEmptyHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectExec("create table if not exists").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name, applied_at").WithArgs("migration").
		WillReturnRows(sqlmock.NewRows([]string{"name", "applied_at"}))

	if _, err := NewManager(db, testFS(), nil).Down(context.Background()); !errors.Is(err, ErrNothingToRollback) {
		t.Fatalf("expected ErrNothingToRollback, got %v", err)
	}
}

func TestSeedSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	seeds := fstest.MapFS{
		"0001_sections.sql": {Data: []byte("insert into sections (id, title) values ('math', 'Math; Advanced');")},
		"0002_more.sql":     {Data: []byte("select 1;")},
	}
	mock.ExpectExec("create table if not exists").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_history where kind = \\$1").WithArgs("seed").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0002_more.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("insert into sections").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into schema_history").WithArgs("seed", "0001_sections.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ran, err := NewManager(db, nil, seeds).Seed(context.Background())
	if err != nil || len(ran) != 1 {
		t.Fatalf("Seed = %v, %v", ran, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	got := SplitStatements("create table x (v text default 'a;b');\n-- comment; here\n\ninsert into x values ('it''s');;")
	if len(got) != 2 {
		t.Fatalf("statements = %q", got)
	}
	if got[0] != "create table x (v text default 'a;b')" {
		t.Fatalf("first = %q", got[0])
	}
	if got[1] != "insert into x values ('it''s')" {
		t.Fatalf("second = %q", got[1])
	}
}

func TestWithHistoryTableRejectsUnsafeNames(t *testing.T) {
	m := NewManager(nil, nil, nil, WithHistoryTable("x; drop table y"))
	if m.table != defaultHistoryTable {
		t.Fatalf("unsafe table name accepted: %s", m.table)
	}
	m = NewManager(nil, nil, nil, WithHistoryTable("edupanel_history"))
	if m.table != "edupanel_history" {
		t.Fatalf("table = %s", m.table)
	}
}
