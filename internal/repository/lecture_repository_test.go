package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLectureRepositoryFindDetailByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLectureRepository(db)

	rows := sqlmock.NewRows([]string{"id", "course_id", "title", "date", "start_time", "end_time", "ledger_lecture_id", "course_code", "course_name", "teacher_id"}).
		AddRow("lec-1", "course-1", "Routing", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), "09:00", "10:30", nil, "NET101", "Networks", "tch-1")
	mock.ExpectQuery(regexp.QuoteMeta("FROM lectures l")).
		WithArgs("lec-1").
		WillReturnRows(rows)

	lecture, err := repo.FindDetailByID(context.Background(), "lec-1")
	require.NoError(t, err)
	assert.Equal(t, "tch-1", lecture.TeacherID)
	assert.Equal(t, "Networks", lecture.CourseName)
	assert.Nil(t, lecture.LedgerLectureID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLectureRepositorySetLedgerIDMissingLecture(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLectureRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE lectures SET ledger_lecture_id = $2 WHERE id = $1")).
		WithArgs("lec-404", "ledger-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetLedgerID(context.Background(), "lec-404", "ledger-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
