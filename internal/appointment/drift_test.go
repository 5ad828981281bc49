package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDriftNothingPending(t *testing.T) {
	done := Appointment{Start: timePtr(clock(monday, 9, 0)), Status: StatusCompleted}
	ticket := Appointment{Status: StatusWaiting}

	report := computeDrift([]Appointment{done, ticket}, clock(monday, 11, 0), 30*time.Minute, 5*time.Minute)
	assert.Zero(t, report.DriftMinutes)
	assert.False(t, report.IsBehind)
	assert.False(t, report.ShouldCompress)
	assert.Zero(t, report.RemainingCount)
	assert.Equal(t, "nothing pending", report.Message)
}

func TestComputeDriftSuggestsCompression(t *testing.T) {
	appts := []Appointment{
		{ID: uuid.New(), Start: timePtr(clock(monday, 10, 0)), Status: StatusConfirmed},
		{ID: uuid.New(), Start: timePtr(clock(monday, 9, 30)), Status: StatusCheckedIn},
		{ID: uuid.New(), Start: timePtr(clock(monday, 10, 30)), Status: StatusWaiting},
		{ID: uuid.New(), Status: StatusWaiting},
	}

	report := computeDrift(appts, clock(monday, 10, 15), 30*time.Minute, 5*time.Minute)
	assert.Equal(t, 45.0, report.DriftMinutes)
	assert.True(t, report.IsBehind)
	assert.True(t, report.ShouldCompress)
	assert.Equal(t, 4, report.RemainingCount)
	assert.Equal(t, appts[1].ID, *report.NextAppointmentID)
	require.NotNil(t, report.Suggestion)
	assert.Equal(t, 5, report.Suggestion.ReductionMinutes)
	assert.Equal(t, 20, report.Suggestion.PotentialMinutes)
}

func TestComputeDriftAheadOfSchedule(t *testing.T) {
	appts := []Appointment{{Start: timePtr(clock(monday, 10, 0)), Status: StatusConfirmed}}

	report := computeDrift(appts, clock(monday, 9, 45), 30*time.Minute, 5*time.Minute)
	assert.Equal(t, -15.0, report.DriftMinutes)
	assert.False(t, report.IsBehind)
	assert.False(t, report.ShouldCompress)
	assert.Nil(t, report.Suggestion)
}

func TestPlanCompression(t *testing.T) {
	mk := func(h, m int) Appointment {
		return Appointment{ID: uuid.New(), Start: timePtr(clock(monday, h, m)), Duration: 30 * time.Minute, Status: StatusConfirmed}
	}
	appts := []Appointment{mk(10, 0), mk(10, 30), mk(11, 0)}

	t.Run("all future", func(t *testing.T) {
		moves := planCompression(appts, clock(monday, 9, 40), 5*time.Minute)
		require.Len(t, moves, 3)
		assert.Equal(t, clock(monday, 9, 55), moves[0].NewStart)
		assert.Equal(t, clock(monday, 10, 20), moves[1].NewStart)
		assert.Equal(t, clock(monday, 10, 45), moves[2].NewStart)
		for _, m := range moves {
			assert.Equal(t, 25*time.Minute, m.NewDuration)
		}
		assert.False(t, moves[0].NewStart.Add(moves[0].NewDuration).After(moves[1].NewStart), "compressed slots do not overlap")
	})

	t.Run("never into the past", func(t *testing.T) {
		// 10:00 cannot move to 09:55, so later visits have nowhere to go
		// without running into it.
		moves := planCompression(appts, clock(monday, 9, 57), 5*time.Minute)
		assert.Empty(t, moves)
	})

	t.Run("later visits move into a gap", func(t *testing.T) {
		gapped := []Appointment{mk(10, 0), mk(11, 0)}
		moves := planCompression(gapped, clock(monday, 9, 57), 5*time.Minute)
		require.Len(t, moves, 1)
		assert.Equal(t, gapped[1].ID, moves[0].AppointmentID)
		assert.Equal(t, clock(monday, 10, 50), moves[0].NewStart)
	})
}

func TestPlanCompressionNeverOverlapsStationaryVisits(t *testing.T) {
	late := Appointment{ID: uuid.New(), Start: timePtr(clock(monday, 9, 30)), Duration: 45 * time.Minute, Status: StatusConfirmed}
	next := Appointment{ID: uuid.New(), Start: timePtr(clock(monday, 10, 30)), Duration: 30 * time.Minute, Status: StatusConfirmed}
	checkedIn := Appointment{ID: uuid.New(), Start: timePtr(clock(monday, 10, 45)), Status: StatusCheckedIn}
	last := Appointment{ID: uuid.New(), Start: timePtr(clock(monday, 11, 0)), Duration: 30 * time.Minute, Status: StatusWaiting}
	appts := []Appointment{late, next, checkedIn, last}

	moves := planCompression(appts, clock(monday, 10, 0), 5*time.Minute)

	// late still runs until 10:15; the checked-in patient only reserves 10:45.
	require.Len(t, moves, 2)
	assert.Equal(t, clock(monday, 10, 25), moves[0].NewStart)
	assert.Equal(t, clock(monday, 10, 50), moves[1].NewStart)

	final := map[uuid.UUID][2]time.Time{}
	for _, a := range appts {
		if a.Status == StatusCheckedIn {
			continue
		}
		final[a.ID] = [2]time.Time{*a.Start, a.End()}
	}
	for _, m := range moves {
		final[m.AppointmentID] = [2]time.Time{m.NewStart, m.NewStart.Add(m.NewDuration)}
	}
	ids := []uuid.UUID{late.ID, next.ID, last.ID}
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			a, b := final[ids[i]], final[ids[j]]
			assert.False(t, overlaps(a[0], a[1], b[0], b[1]), "visits %d and %d overlap", i, j)
		}
	}
}

func TestPlanCompressionSkipsMoveIntoLateVisit(t *testing.T) {
	late := Appointment{ID: uuid.New(), Start: timePtr(clock(monday, 9, 30)), Duration: time.Hour, Status: StatusConfirmed}
	next := Appointment{ID: uuid.New(), Start: timePtr(clock(monday, 10, 30)), Duration: 30 * time.Minute, Status: StatusConfirmed}

	moves := planCompression([]Appointment{late, next}, clock(monday, 10, 0), 5*time.Minute)
	assert.Empty(t, moves, "09:30-10:30 is still running, 10:25 would overlap it")
}

func TestPlanCompressionMovesOrphanedShadow(t *testing.T) {
	ten := clock(monday, 10, 0)
	gone := Appointment{ID: uuid.New(), Start: &ten, Status: StatusCancelled}
	shadow := Appointment{ID: uuid.New(), Start: &ten, Status: StatusConfirmed, IsShadowSlot: true}

	moves := planCompression([]Appointment{gone, shadow}, clock(monday, 9, 0), 5*time.Minute)
	require.Len(t, moves, 1)
	assert.Equal(t, shadow.ID, moves[0].AppointmentID)
	assert.Equal(t, clock(monday, 9, 55), moves[0].NewStart)
	assert.True(t, moves[0].Promoted)
}

func TestPlanCompressionCarriesShadow(t *testing.T) {
	ten := clock(monday, 10, 0)
	holder := Appointment{ID: uuid.New(), Start: &ten, Status: StatusConfirmed}
	shadow := Appointment{ID: uuid.New(), Start: &ten, Status: StatusConfirmed, IsShadowSlot: true}

	moves := planCompression([]Appointment{shadow, holder}, clock(monday, 9, 0), 5*time.Minute)
	require.Len(t, moves, 2)
	assert.Equal(t, holder.ID, moves[0].AppointmentID)
	assert.Equal(t, shadow.ID, moves[1].AppointmentID)
	assert.Equal(t, moves[0].NewStart, moves[1].NewStart)
}

func TestApplyCompression(t *testing.T) {
	f := newFixture(t)
	now := clock(monday, 9, 40)
	a := f.seed(Appointment{Start: timePtr(clock(monday, 10, 0))})
	b := f.seed(Appointment{Start: timePtr(clock(monday, 10, 30)), Status: StatusWaiting})
	checkedIn := f.seed(Appointment{Start: timePtr(clock(monday, 9, 30)), Status: StatusCheckedIn})

	res, err := f.svc.ApplyCompression(t.Context(), f.practitioner, 0, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CompressedCount)
	assert.Equal(t, 10, res.RecoveredMinutes)
	require.Len(t, res.Moves, 2)

	assert.Equal(t, clock(monday, 9, 55), *f.get(a.ID).Start)
	assert.Equal(t, clock(monday, 10, 20), *f.get(b.ID).Start)
	assert.Equal(t, 25*time.Minute, f.get(a.ID).Duration)
	assert.Equal(t, clock(monday, 9, 30), *f.get(checkedIn.ID).Start, "present patients are not moved")
	assert.Equal(t, 2, f.eventsOfType(EventAppointmentCompressed))
}

func TestDetectDrift(t *testing.T) {
	f := newFixture(t)
	f.seed(Appointment{Start: timePtr(clock(monday, 9, 0)), Status: StatusCheckedIn})
	f.seed(Appointment{Start: timePtr(clock(monday, 9, 30))})

	report, err := f.svc.DetectDrift(t.Context(), f.practitioner, clock(monday, 9, 35))
	require.NoError(t, err)
	assert.Equal(t, f.practitioner, report.PractitionerID)
	assert.Equal(t, 35.0, report.DriftMinutes)
	assert.True(t, report.ShouldCompress)
	assert.Equal(t, 2, report.RemainingCount)
}
