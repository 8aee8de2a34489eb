package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

const findRefreshSQL = "SELECT id, user_id, token_hash, expires_at, revoked_at, created_at FROM refresh_tokens WHERE token_hash=? LIMIT 1"

func TestValidateRefresh(t *testing.T) {
	now := time.Now().UTC()
	cols := []string{"id", "user_id", "token_hash", "expires_at", "revoked_at", "created_at"}
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantID  uint64
		wantErr error
	}{
		{"active", sqlmock.NewRows(cols).AddRow(1, 7, "h", now.Add(time.Hour), nil, now), 7, nil},
		{"revoked", sqlmock.NewRows(cols).AddRow(1, 7, "h", now.Add(time.Hour), now, now), 0, ErrNotFound},
		{"expired", sqlmock.NewRows(cols).AddRow(1, 7, "h", now.Add(-time.Minute), nil, now), 0, ErrNotFound},
		{"unknown", sqlmock.NewRows(cols), 0, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatal(err)
			}
			defer db.Close()
			mock.ExpectQuery(regexp.QuoteMeta(findRefreshSQL)).WithArgs("h").WillReturnRows(tt.rows)

			id, err := NewTokenRepo(db).ValidateRefresh(context.Background(), "h")
			if !errors.Is(err, tt.wantErr) || id != tt.wantID {
				t.Errorf("ValidateRefresh = %d, %v; want %d, %v", id, err, tt.wantID, tt.wantErr)
			}
		})
	}
}

func TestRotateSpendsTokenOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	repo := NewTokenRepo(db)
	exp := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	revoke := regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at=NOW() WHERE token_hash=? AND revoked_at IS NULL")

	mock.ExpectBegin()
	mock.ExpectExec(revoke).WithArgs("old").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES (?,?,?)")).
		WithArgs(uint64(7), "new", exp).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(revoke).WithArgs("old").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := repo.Rotate(context.Background(), 7, "old", "new", exp); err != nil {
		t.Fatalf("first rotate: %v", err)
	}
	if err := repo.Rotate(context.Background(), 7, "old", "newer", exp); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second rotate err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFindRefreshReportsDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mock.ExpectQuery(regexp.QuoteMeta(findRefreshSQL)).WithArgs("h").WillReturnError(sql.ErrConnDone)

	if _, err := NewTokenRepo(db).FindRefresh(context.Background(), "h"); !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("err = %v", err)
	}
}
