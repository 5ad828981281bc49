package appointment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySlotUniqueness(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := t.Context()
	practitioner := uuid.New()
	ten := clock(monday, 10, 0)

	mk := func(shadow bool, status Status) *Appointment {
		return &Appointment{PractitionerID: practitioner, PatientID: uuid.New(), Date: monday, Start: &ten, Status: status, IsShadowSlot: shadow}
	}

	require.NoError(t, repo.CreateAppointment(ctx, mk(false, StatusConfirmed)))
	require.ErrorIs(t, repo.CreateAppointment(ctx, mk(false, StatusWaiting)), ErrDuplicateSlot)
	require.NoError(t, repo.CreateAppointment(ctx, mk(true, StatusConfirmed)), "one shadow may share the slot")
	require.ErrorIs(t, repo.CreateAppointment(ctx, mk(true, StatusConfirmed)), ErrDuplicateSlot)
	require.NoError(t, repo.CreateAppointment(ctx, mk(false, StatusCancelled)), "released statuses do not hold the slot")

	other := &Appointment{PractitionerID: practitioner, PatientID: uuid.New(), Date: monday, Start: timePtr(clock(monday, 11, 0)), Status: StatusConfirmed}
	require.NoError(t, repo.CreateAppointment(ctx, other))
	other.Start = &ten
	require.ErrorIs(t, repo.SaveAppointment(ctx, other), ErrDuplicateSlot)

	stored, err := repo.GetAppointmentByID(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, stored.Start.Equal(clock(monday, 11, 0)))
}

func TestMemoryWithinTx(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := t.Context()
	boom := errors.New("boom")
	patient := Patient{ID: uuid.New(), ReliabilityScore: 50}
	repo.AddPatient(patient)

	err := repo.WithinTx(ctx, func(ctx context.Context, tx Repository) error {
		p, err := tx.GetPatientForUpdate(ctx, patient.ID)
		require.NoError(t, err)
		p.ReliabilityScore = 10
		require.NoError(t, tx.SavePatient(ctx, p))
		require.NoError(t, tx.InsertEvent(ctx, EventLog{EventType: EventNoShowConfirmed}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := repo.GetPatientByID(ctx, patient.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, p.ReliabilityScore)
	assert.Empty(t, repo.Events())

	err = repo.WithinTx(ctx, func(ctx context.Context, tx Repository) error {
		p, err := tx.GetPatientForUpdate(ctx, patient.ID)
		if err != nil {
			return err
		}
		p.ReliabilityScore = 10
		return tx.SavePatient(ctx, p)
	})
	require.NoError(t, err)

	p, err = repo.GetPatientByID(ctx, patient.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, p.ReliabilityScore)
}

func TestMemoryListAppointments(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := t.Context()
	practitioner := uuid.New()
	tuesday := monday.AddDate(0, 0, 1)

	ticket := &Appointment{PractitionerID: practitioner, Date: monday, Status: StatusWaiting}
	late := &Appointment{PractitionerID: practitioner, Date: monday, Start: timePtr(clock(monday, 11, 0)), Status: StatusConfirmed}
	early := &Appointment{PractitionerID: practitioner, Date: monday, Start: timePtr(clock(monday, 9, 0)), Status: StatusCompleted}
	next := &Appointment{PractitionerID: practitioner, Date: tuesday, Start: timePtr(clock(tuesday, 9, 0)), Status: StatusConfirmed}
	elsewhere := &Appointment{PractitionerID: uuid.New(), Date: monday, Start: timePtr(clock(monday, 9, 0)), Status: StatusConfirmed}
	for _, a := range []*Appointment{ticket, late, early, next, elsewhere} {
		require.NoError(t, repo.CreateAppointment(ctx, a))
	}

	ids := func(appts []Appointment) []uuid.UUID {
		out := make([]uuid.UUID, len(appts))
		for i := range appts {
			out[i] = appts[i].ID
		}
		return out
	}

	got, err := repo.ListAppointments(ctx, AppointmentFilter{PractitionerID: practitioner, Date: monday})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{early.ID, late.ID, ticket.ID}, ids(got), "timed first, untimed last")

	got, err = repo.ListAppointments(ctx, AppointmentFilter{PractitionerID: practitioner, Date: monday, Until: tuesday, Statuses: occupyingStatuses})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{late.ID, ticket.ID, next.ID}, ids(got))

	active, err := repo.ListActivePractitioners(ctx, monday)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{practitioner, elsewhere.PractitionerID}, active)

	n, err := repo.MaxQueueNumber(ctx, practitioner, monday)
	require.NoError(t, err)
	assert.Zero(t, n)
}
