package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound          = errors.New("patient not found")
	ErrPractitionerNotFound     = errors.New("practitioner not found")
	ErrAppointmentNotFound      = errors.New("appointment not found")
	ErrConsultationTypeNotFound = errors.New("consultation type not found")

	// ErrDuplicateSlot is returned by a repository when a write would break
	// slot uniqueness. The engine never surfaces it directly.
	ErrDuplicateSlot = errors.New("slot uniqueness violated")
)

// AppointmentFilter narrows ListAppointments. Zero fields match everything.
// When Until is set the filter matches dates from Date through Until inclusive.
type AppointmentFilter struct {
	PractitionerID uuid.UUID
	Date           time.Time
	Until          time.Time
	Statuses       []Status
}

// Repository contains all storage interactions needed by the engine.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetPatientForUpdate loads a patient and holds it until the enclosing
	// transaction ends.
	GetPatientForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error)
	SavePatient(ctx context.Context, p *Patient) error

	GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	ListActivePractitioners(ctx context.Context, date time.Time) ([]uuid.UUID, error)

	// Schedule context
	GetAvailability(ctx context.Context, practitionerID uuid.UUID) ([]AvailabilityWindow, error)
	ListAbsences(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Absence, error)
	GetConsultationType(ctx context.Context, id uuid.UUID) (*ConsultationType, error)

	// Appointments
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	SaveAppointment(ctx context.Context, a *Appointment) error
	MaxQueueNumber(ctx context.Context, practitionerID uuid.UUID, date time.Time) (int, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	// WithinTx runs fn against a transaction-scoped repository. Any error
	// returned by fn rolls back every write made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}
