package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T, loc *time.Location) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock, loc), mock
}

var patientCols = []string{"id", "name", "email", "phone", "reliability_score", "no_show_count", "created_at", "updated_at"}

func TestPgGetPatientByID(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	id := uuid.New()
	phone := "+33600000000"

	mock.ExpectQuery("FROM patients").WithArgs(id).WillReturnRows(
		pgxmock.NewRows(patientCols).AddRow(id, "Amina", (*string)(nil), &phone, 72.5, 1, monday, monday),
	)
	p, err := repo.GetPatientByID(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, "Amina", p.Name)
	assert.Equal(t, 72.5, p.ReliabilityScore)
	assert.Equal(t, 1, p.NoShowCount)
	assert.Nil(t, p.Email)
	assert.Equal(t, phone, *p.Phone)

	mock.ExpectQuery("FROM patients").WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetPatientByID(t.Context(), id)
	require.ErrorIs(t, err, ErrPatientNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetPatientForUpdateLocksRow(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	id := uuid.New()

	mock.ExpectQuery("FOR UPDATE").WithArgs(id).WillReturnRows(
		pgxmock.NewRows(patientCols).AddRow(id, "Amina", (*string)(nil), (*string)(nil), 50.0, 0, monday, monday),
	)
	_, err := repo.GetPatientForUpdate(t.Context(), id)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSavePatientClampsScore(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	p := &Patient{ID: uuid.New(), ReliabilityScore: 130, NoShowCount: 2}

	mock.ExpectExec("UPDATE patients").WithArgs(p.ID, 100.0, 2).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.SavePatient(t.Context(), p))

	mock.ExpectExec("UPDATE patients").WithArgs(p.ID, 100.0, 2).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, repo.SavePatient(t.Context(), p), ErrPatientNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetAppointmentUsesClinicZone(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	repo, mock := newMockRepo(t, paris)

	id := uuid.New()
	date := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	queue := 4

	cols := []string{"id", "patient_id", "practitioner_id", "appointment_date", "start_time", "duration_minutes",
		"status", "queue_number", "urgency_level", "is_shadow_slot", "booking_type",
		"arrival_time", "check_in_time", "created_at", "updated_at"}
	mock.ExpectQuery("FROM appointments").WithArgs(id).WillReturnRows(
		pgxmock.NewRows(cols).AddRow(id, uuid.New(), uuid.New(), date, &start, 45,
			StatusWaiting, &queue, 2, false, BookingScheduled,
			(*time.Time)(nil), (*time.Time)(nil), date, date),
	)

	a, err := repo.GetAppointmentByID(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, paris), a.Date)
	assert.Equal(t, paris, a.Start.Location())
	assert.Equal(t, 10, a.Start.Hour())
	assert.Equal(t, 45*time.Minute, a.Duration)
	assert.Equal(t, 4, *a.QueueNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreateAppointmentDuplicateSlot(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	start := clock(monday, 10, 0)
	a := &Appointment{PractitionerID: uuid.New(), PatientID: uuid.New(), Date: monday, Start: &start, Status: StatusConfirmed, BookingType: BookingScheduled}

	args := make([]any, 15)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").WithArgs(args...).WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	mock.ExpectRollback()

	err := repo.CreateAppointment(t.Context(), a)
	require.ErrorIs(t, err, ErrDuplicateSlot)
	assert.NotEqual(t, uuid.Nil, a.ID)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	require.NoError(t, repo.CreateAppointment(t.Context(), a))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSaveAppointment(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	a := &Appointment{ID: uuid.New(), Date: monday, Status: StatusWaiting, BookingType: BookingWalkIn, QueueNumber: intPtr(3)}

	args := make([]any, 12)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}

	mock.ExpectExec("UPDATE appointments").WithArgs(args...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, repo.SaveAppointment(t.Context(), a), ErrAppointmentNotFound)

	mock.ExpectExec("UPDATE appointments").WithArgs(args...).WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	require.ErrorIs(t, repo.SaveAppointment(t.Context(), a), ErrDuplicateSlot)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMaxQueueNumber(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	practitioner := uuid.New()

	mock.ExpectQuery("COALESCE\\(MAX\\(queue_number\\), 0\\)").WithArgs(practitioner, monday).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(7))

	n, err := repo.MaxQueueNumber(t.Context(), practitioner, monday)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertEvent(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	id := uuid.New()
	payload := []byte(`{"queue_number":2}`)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO event_logs").WithArgs(EventPatientCalled, &id, payload, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertEvent(t.Context(), EventLog{EventType: EventPatientCalled, AppointmentID: &id, Payload: payload}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgWithinTx(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	p := &Patient{ID: uuid.New(), ReliabilityScore: 40}

	t.Run("commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE patients").WithArgs(p.ID, 40.0, 0).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := repo.WithinTx(t.Context(), func(ctx context.Context, tx Repository) error {
			return tx.SavePatient(ctx, p)
		})
		require.NoError(t, err)
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := repo.WithinTx(t.Context(), func(context.Context, Repository) error { return boom })
		require.ErrorIs(t, err, boom)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListActivePractitioners(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT DISTINCT practitioner_id").
		WithArgs(monday, []string{"confirmed", "waiting", "checked_in"}).
		WillReturnRows(pgxmock.NewRows([]string{"practitioner_id"}).AddRow(a).AddRow(b))

	ids, err := repo.ListActivePractitioners(t.Context(), monday)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
