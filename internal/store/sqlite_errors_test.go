package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/forgeworks/anvil/pkg/models"
)

func TestRecordMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewSQLiteStoreFromDB(db)

	mock.ExpectExec("INSERT INTO tool_calls").
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: tool_calls.id"))

	call := &models.ToolCall{ID: "dup", MessageID: "m", ThreadID: "t", ToolName: "bash"}
	if err := s.Record(context.Background(), call); !errors.Is(err, ErrDuplicateCallID) {
		t.Errorf("err = %v, want ErrDuplicateCallID", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestAppendDeltaPropagatesDBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewSQLiteStoreFromDB(db)

	dbErr := errors.New("database is locked")
	mock.ExpectExec("UPDATE messages").WillReturnError(dbErr)

	if err := s.AppendDelta(context.Background(), "m1", "delta", false); !errors.Is(err, dbErr) {
		t.Errorf("err = %v, want the database error", err)
	}
}

func TestSweepStaleReportsAffectedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewSQLiteStoreFromDB(db)

	mock.ExpectExec("UPDATE tool_calls").WillReturnResult(sqlmock.NewResult(0, 3))

	swept, err := s.SweepStale(context.Background(), "msg")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 3 {
		t.Errorf("swept = %d, want 3", swept)
	}
}
