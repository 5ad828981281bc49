package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-smartflow/internal/config"
	redisclient "github.com/hackgods/clinic-smartflow/internal/redis"
	"github.com/hackgods/clinic-smartflow/pkg/logging"
)

// monday is 2025-03-03, a Monday.
var monday = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func clock(day time.Time, hour, min int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, day.Location())
}

type fixture struct {
	t            *testing.T
	repo         *MemoryRepository
	svc          *Service
	practitioner uuid.UUID
}

func newFixture(t *testing.T, tweak ...func(*config.Engine)) *fixture {
	t.Helper()

	cfg := config.Defaults()
	cfg.ClinicTimezone = "UTC"
	for _, fn := range tweak {
		fn(&cfg.Engine)
	}

	repo := NewMemoryRepository()
	svc := NewService(repo, redisclient.NewLocalLocker(2*time.Second), cfg, logging.Discard(), nil)

	practitionerID := uuid.New()
	repo.AddPractitioner(Practitioner{ID: practitionerID, Name: "Dr. Amrani"})

	return &fixture{t: t, repo: repo, svc: svc, practitioner: practitionerID}
}

func (f *fixture) patient(score float64) uuid.UUID {
	id := uuid.New()
	f.repo.AddPatient(Patient{ID: id, Name: "patient-" + id.String()[:8], ReliabilityScore: score})
	return id
}

// seed stores a with sensible defaults for anything left unset.
func (f *fixture) seed(a Appointment) *Appointment {
	f.t.Helper()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.PractitionerID == uuid.Nil {
		a.PractitionerID = f.practitioner
	}
	if a.PatientID == uuid.Nil {
		a.PatientID = f.patient(MaxReliabilityScore)
	}
	if a.Date.IsZero() {
		if a.Start != nil {
			a.Date = dayOf(*a.Start, time.UTC)
		} else {
			a.Date = monday
		}
	}
	if a.Status == "" {
		a.Status = StatusConfirmed
	}
	if a.UrgencyLevel == 0 {
		a.UrgencyLevel = MinUrgency
	}
	if a.BookingType == "" {
		a.BookingType = BookingScheduled
	}
	if a.Duration == 0 {
		a.Duration = defaultDuration
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = monday
	}
	require.NoError(f.t, f.repo.CreateAppointment(f.t.Context(), &a))
	return &a
}

func (f *fixture) get(id uuid.UUID) *Appointment {
	f.t.Helper()
	a, err := f.repo.GetAppointmentByID(f.t.Context(), id)
	require.NoError(f.t, err)
	return a
}

func (f *fixture) score(patientID uuid.UUID) (float64, int) {
	f.t.Helper()
	p, err := f.repo.GetPatientByID(f.t.Context(), patientID)
	require.NoError(f.t, err)
	return p.ReliabilityScore, p.NoShowCount
}

func (f *fixture) eventsOfType(eventType string) int {
	n := 0
	for _, ev := range f.repo.Events() {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}
