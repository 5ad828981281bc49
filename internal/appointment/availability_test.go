package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSlotWorkingHours(t *testing.T) {
	windows := []AvailabilityWindow{
		{Weekday: time.Tuesday, Opens: 14 * time.Hour, Closes: 18 * time.Hour, Enabled: true},
		{Weekday: time.Wednesday, Opens: 9 * time.Hour, Closes: 17 * time.Hour, Enabled: false},
	}
	tuesday := monday.AddDate(0, 0, 1)
	wednesday := monday.AddDate(0, 0, 2)

	tests := []struct {
		name  string
		start time.Time
		want  error
	}{
		{"default hours, inside", clock(monday, 9, 0), nil},
		{"default hours, last slot", clock(monday, 16, 30), nil},
		{"default hours, before opening", clock(monday, 8, 30), ErrOutOfWorkingHours},
		{"default hours, runs past closing", clock(monday, 16, 45), ErrOutOfWorkingHours},
		{"configured window", clock(tuesday, 14, 0), nil},
		{"outside configured window", clock(tuesday, 10, 0), ErrOutOfWorkingHours},
		{"disabled day", clock(wednesday, 10, 0), ErrOutOfWorkingHours},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkSlot(windows, nil, nil, tt.start, 30*time.Minute, nil)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckSlotAbsence(t *testing.T) {
	absences := []Absence{{Start: clock(monday, 12, 0), End: clock(monday, 14, 0), Reason: "training"}}

	assert.ErrorIs(t, checkSlot(nil, absences, nil, clock(monday, 11, 45), 30*time.Minute, nil), ErrOutOfWorkingHours)
	assert.ErrorIs(t, checkSlot(nil, absences, nil, clock(monday, 13, 30), 30*time.Minute, nil), ErrOutOfWorkingHours)
	assert.NoError(t, checkSlot(nil, absences, nil, clock(monday, 11, 30), 30*time.Minute, nil), "ending at the absence start is free")
	assert.NoError(t, checkSlot(nil, absences, nil, clock(monday, 14, 0), 30*time.Minute, nil), "starting at the absence end is free")
}

func TestCheckSlotExistingAppointments(t *testing.T) {
	ten := clock(monday, 10, 0)
	holder := Appointment{ID: uuid.New(), Start: &ten, Duration: 30 * time.Minute, Status: StatusConfirmed}
	cancelled := Appointment{ID: uuid.New(), Start: timePtr(clock(monday, 11, 0)), Status: StatusCancelled}
	checkedIn := Appointment{ID: uuid.New(), Start: timePtr(clock(monday, 12, 0)), Status: StatusCheckedIn}
	long := Appointment{ID: uuid.New(), Start: timePtr(clock(monday, 14, 0)), Duration: time.Hour, Status: StatusWaiting}
	existing := []Appointment{holder, cancelled, checkedIn, long}

	assert.ErrorIs(t, checkSlot(nil, nil, existing, ten, 30*time.Minute, nil), ErrSlotConflict)
	assert.ErrorIs(t, checkSlot(nil, nil, existing, clock(monday, 10, 15), 30*time.Minute, nil), ErrSlotConflict)
	assert.NoError(t, checkSlot(nil, nil, existing, clock(monday, 10, 30), 30*time.Minute, nil))
	assert.NoError(t, checkSlot(nil, nil, existing, clock(monday, 11, 0), 30*time.Minute, nil), "cancelled bookings free their slot")
	assert.ErrorIs(t, checkSlot(nil, nil, existing, clock(monday, 14, 45), 30*time.Minute, nil), ErrSlotConflict, "duration of the existing booking counts")

	assert.True(t, SlotFree(nil, nil, existing, ten, 30*time.Minute, holder.ID), "the moved appointment is excluded")
}

func TestPlannerRefusesExactStartOfCheckedInHolder(t *testing.T) {
	f := newFixture(t)
	noon := clock(monday, 12, 0)
	f.seed(Appointment{Start: &noon, Status: StatusCheckedIn})

	free, err := f.svc.IsFree(t.Context(), f.practitioner, noon, 30*time.Minute, uuid.Nil)
	require.NoError(t, err)
	assert.False(t, free)

	free, err = f.svc.IsFree(t.Context(), f.practitioner, clock(monday, 12, 15), 30*time.Minute, uuid.Nil)
	require.NoError(t, err)
	assert.True(t, free, "a checked-in patient does not occupy time for overlap purposes")
}

func TestServiceIsFree(t *testing.T) {
	f := newFixture(t)
	ten := clock(monday, 10, 0)
	a := f.seed(Appointment{Start: &ten})
	f.repo.AddAbsence(Absence{PractitionerID: f.practitioner, Start: clock(monday, 15, 0), End: clock(monday, 17, 0)})

	tests := []struct {
		name    string
		start   time.Time
		exclude uuid.UUID
		want    bool
	}{
		{"taken", ten, uuid.Nil, false},
		{"taken but excluded", ten, a.ID, true},
		{"free", clock(monday, 11, 0), uuid.Nil, true},
		{"absent", clock(monday, 15, 30), uuid.Nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			free, err := f.svc.IsFree(t.Context(), f.practitioner, tt.start, 30*time.Minute, tt.exclude)
			require.NoError(t, err)
			assert.Equal(t, tt.want, free)
		})
	}
}
