package demo

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-smartflow/internal/appointment"
)

var seededAt = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func TestGenerate(t *testing.T) {
	ds := Generate(gofakeit.New(42), 2, 25, seededAt)

	require.Len(t, ds.Practitioners, 2)
	assert.Len(t, ds.Availability, 14)
	assert.Len(t, ds.ConsultationTypes, 6)
	require.Len(t, ds.Patients, 25)

	for _, w := range ds.Availability {
		weekend := w.Weekday == time.Saturday || w.Weekday == time.Sunday
		assert.Equal(t, !weekend, w.Enabled, w.Weekday.String())
	}
	for _, p := range ds.Patients {
		assert.GreaterOrEqual(t, p.ReliabilityScore, 0.0)
		assert.LessOrEqual(t, p.ReliabilityScore, 100.0)
		assert.Less(t, p.NoShowCount, 3)
	}
}

func TestLoadMemory(t *testing.T) {
	ds := Generate(gofakeit.New(7), 1, 3, seededAt)
	repo := appointment.NewMemoryRepository()
	LoadMemory(repo, ds)

	ctx := context.Background()
	pr, err := repo.GetPractitionerByID(ctx, ds.Practitioners[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ds.Practitioners[0].Name, pr.Name)

	windows, err := repo.GetAvailability(ctx, pr.ID)
	require.NoError(t, err)
	assert.Len(t, windows, 7)

	ct, err := repo.GetConsultationType(ctx, ds.ConsultationTypes[2].ID)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, ct.Duration)

	for _, p := range ds.Patients {
		_, err := repo.GetPatientByID(ctx, p.ID)
		assert.NoError(t, err)
	}
}

func TestInsertPostgresBatches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ds := Generate(gofakeit.New(1), 1, 3, seededAt)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO practitioners").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for range ds.Availability {
		mock.ExpectExec("INSERT INTO availability_windows").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	for range ds.ConsultationTypes {
		mock.ExpectExec("INSERT INTO consultation_types").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO patients").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO patients").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO patients").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, InsertPostgres(context.Background(), mock, ds, 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}
