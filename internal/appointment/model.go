package appointment

import (
	"time"

	"github.com/google/uuid"
)

type BookingType string

const (
	BookingScheduled BookingType = "scheduled"
	BookingWalkIn    BookingType = "walk_in"
	BookingTicket    BookingType = "ticket"
)

const (
	MinUrgency = 1
	MaxUrgency = 5
)

type Patient struct {
	ID               uuid.UUID
	Name             string
	Email            *string
	Phone            *string
	ReliabilityScore float64
	NoShowCount      int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Practitioner struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AvailabilityWindow is a practitioner's working hours for one weekday.
// Opens and Closes are offsets from local midnight.
type AvailabilityWindow struct {
	PractitionerID uuid.UUID
	Weekday        time.Weekday
	Opens          time.Duration
	Closes         time.Duration
	Enabled        bool
}

type Absence struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	Start          time.Time
	End            time.Time
	Reason         string
}

type ConsultationType struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	Name           string
	Duration       time.Duration
	Active         bool
}

// Appointment is one scheduled or walk-in visit. Start is nil for untimed
// queue tickets; Date is always local midnight of the visit day.
type Appointment struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
	Date           time.Time
	Start          *time.Time
	Duration       time.Duration
	Status         Status
	QueueNumber    *int
	UrgencyLevel   int
	IsShadowSlot   bool
	BookingType    BookingType
	ArrivalTime    *time.Time
	CheckInTime    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// End returns the slot end, or the zero time for untimed appointments.
func (a *Appointment) End() time.Time {
	if a.Start == nil {
		return time.Time{}
	}
	return a.Start.Add(a.duration())
}

func (a *Appointment) duration() time.Duration {
	if a.Duration <= 0 {
		return defaultDuration
	}
	return a.Duration
}

// HasArrived reports whether the patient is physically present.
func (a *Appointment) HasArrived() bool {
	return a.Status == StatusCheckedIn || a.ArrivalTime != nil
}

// SameSlot reports whether b claims the exact fixed-time slot of a.
func (a *Appointment) SameSlot(b *Appointment) bool {
	if a.Start == nil || b.Start == nil {
		return false
	}
	return a.PractitionerID == b.PractitionerID && a.Start.Equal(*b.Start)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

func intPtr(n int) *int { return &n }

func timePtr(t time.Time) *time.Time { return &t }

// dayOf returns local midnight of t in loc.
func dayOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// at returns the wall-clock time offset from midnight of day.
func at(day time.Time, offset time.Duration) time.Time {
	minutes := int(offset / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, day.Location())
}
