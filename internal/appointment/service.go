package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-smartflow/internal/config"
	"github.com/hackgods/clinic-smartflow/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-smartflow/internal/redis"
	"github.com/hackgods/clinic-smartflow/pkg/logging"
)

const (
	EventAppointmentBooked     = "APPOINTMENT_BOOKED"
	EventShadowBooked          = "SHADOW_SLOT_BOOKED"
	EventWalkInCreated         = "WALK_IN_CREATED"
	EventCheckedIn             = "CHECKED_IN"
	EventShadowConverted       = "SHADOW_CONVERTED_TO_TICKET"
	EventQueueReordered        = "QUEUE_REORDERED"
	EventPatientCalled         = "PATIENT_CALLED"
	EventAppointmentCompleted  = "APPOINTMENT_COMPLETED"
	EventAppointmentShifted    = "APPOINTMENT_SHIFTED"
	EventAppointmentCompressed = "APPOINTMENT_COMPRESSED"
	EventSuspectedMissing      = "SUSPECTED_MISSING"
	EventNoShowConfirmed       = "NO_SHOW_CONFIRMED"
	EventNoShowRestored        = "NO_SHOW_RESTORED"
	EventAppointmentCancelled  = "APPOINTMENT_CANCELLED"
)

var (
	ErrNoAvailableSlot  = errors.New("no available slot within horizon")
	ErrSlotInPast       = errors.New("slot starts in the past")
	ErrPatientBlocked   = errors.New("patient is blocked after repeated no-shows")
	ErrInvalidUrgency   = errors.New("urgency level must be between 1 and 5")
	ErrPractitionerBusy = errors.New("practitioner schedule is being modified, please retry")
	ErrNotScheduled     = errors.New("appointment has no scheduled time")
)

var engineTracer = otel.Tracer("smartflow/appointment")

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	cfg     config.Engine
	loc     *time.Location
	logger  *logging.Logger
	metrics *metrics.EngineMetrics
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger *logging.Logger, m *metrics.EngineMetrics) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:    repo,
		locker:  locker,
		cfg:     engineDefaults(cfg.Engine),
		loc:     cfg.Location(),
		logger:  logger,
		metrics: m,
	}
}

// engineDefaults fills unset tunables from config.DefaultEngine. A zero
// BlockAfterNoShows stays zero and disables blocking.
func engineDefaults(e config.Engine) config.Engine {
	def := config.DefaultEngine()
	if e.ShadowScoreThreshold <= 0 {
		e.ShadowScoreThreshold = def.ShadowScoreThreshold
	}
	if e.NoShowGrace <= 0 {
		e.NoShowGrace = def.NoShowGrace
	}
	if e.LateThreshold <= 0 {
		e.LateThreshold = def.LateThreshold
	}
	if e.DriftThreshold <= 0 {
		e.DriftThreshold = def.DriftThreshold
	}
	if e.MinutesPerWaitingPatient <= 0 {
		e.MinutesPerWaitingPatient = def.MinutesPerWaitingPatient
	}
	if e.LongQueueThreshold <= 0 {
		e.LongQueueThreshold = def.LongQueueThreshold
	}
	if e.ProbeStep <= 0 {
		e.ProbeStep = def.ProbeStep
	}
	if e.CompressionStep <= 0 {
		e.CompressionStep = def.CompressionStep
	}
	if e.DefaultDuration <= 0 {
		e.DefaultDuration = def.DefaultDuration
	}
	if e.ShiftHorizonDays <= 0 {
		e.ShiftHorizonDays = def.ShiftHorizonDays
	}
	if e.MaxProbeIterations <= 0 {
		e.MaxProbeIterations = def.MaxProbeIterations
	}
	return e
}

// Location is the clinic time zone used for day boundaries.
func (s *Service) Location() *time.Location { return s.loc }

// withPractitionerLock is the single-writer section for one practitioner's
// schedule. Every mutating operation runs inside it.
func (s *Service) withPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, "practitioner:"+practitionerID.String(), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		s.metrics.IncLockContention()
		return ErrPractitionerBusy
	}
	return err
}

// mutate runs fn in a transaction under the practitioner lock.
func (s *Service) mutate(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context, tx Repository) error) error {
	return s.withPractitionerLock(ctx, practitionerID, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, fn)
	})
}

func (s *Service) today(now time.Time) time.Time {
	return dayOf(now, s.loc)
}

func (s *Service) loadAppointment(ctx context.Context, repo Repository, id uuid.UUID) (*Appointment, error) {
	appt, err := repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) loadPatient(ctx context.Context, repo Repository, id uuid.UUID) (*Patient, error) {
	p, err := repo.GetPatientByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	return p, nil
}

// GetAppointment returns one appointment by id.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.loadAppointment(ctx, s.repo, id)
}

// nextQueueNumber hands out the next position in the practitioner's sequence
// for date. Callers must hold the practitioner lock.
func (s *Service) nextQueueNumber(ctx context.Context, tx Repository, practitionerID uuid.UUID, date time.Time) (int, error) {
	max, err := tx.MaxQueueNumber(ctx, practitionerID, date)
	if err != nil {
		return 0, fmt.Errorf("max queue number: %w", err)
	}
	return max + 1, nil
}

func (s *Service) logEvent(ctx context.Context, repo Repository, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", "event_type", eventType, "error", err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error("failed to insert event log",
			"event_type", eventType, "appointment_id", appointmentID, "error", err)
	}
}

func practitionerAttr(id uuid.UUID) attribute.KeyValue {
	return attribute.String("smartflow.practitioner_id", id.String())
}

func appointmentAttr(id uuid.UUID) attribute.KeyValue {
	return attribute.String("smartflow.appointment_id", id.String())
}
