package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// DB is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db  DB
	loc *time.Location
}

// NewPgRepository stores appointments in Postgres. loc is the clinic time
// zone that DATE columns are interpreted in.
func NewPgRepository(db DB, loc *time.Location) *PgRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PgRepository{db: db, loc: loc}
}

const appointmentColumns = `id, patient_id, practitioner_id, appointment_date, start_time, duration_minutes,
		       status, queue_number, urgency_level, is_shadow_slot, booking_type,
		       arrival_time, check_in_time, created_at, updated_at`

// Helpers

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// localDate turns a scanned DATE (UTC midnight) into clinic-local midnight.
func (r *PgRepository) localDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.loc)
}

func (r *PgRepository) localTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.In(r.loc)
	return &v
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}

// savepoint runs fn in a nested transaction so a failed statement does not
// poison the enclosing one.
func (r *PgRepository) savepoint(ctx context.Context, fn func(q DB) error) error {
	sp, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	defer func() { _ = sp.Rollback(ctx) }()

	if err := fn(sp); err != nil {
		return err
	}
	return sp.Commit(ctx)
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.ReliabilityScore,
		&p.NoShowCount,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Specialty,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var durationMin int
	var queueNumber *int

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&a.Date,
		&a.Start,
		&durationMin,
		&a.Status,
		&queueNumber,
		&a.UrgencyLevel,
		&a.IsShadowSlot,
		&a.BookingType,
		&a.ArrivalTime,
		&a.CheckInTime,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = r.localDate(a.Date)
	a.Start = r.localTime(a.Start)
	a.Duration = time.Duration(durationMin) * time.Minute
	a.QueueNumber = queueNumber
	return &a, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, phone, reliability_score, no_show_count, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, phone, reliability_score, no_show_count, created_at, updated_at
		FROM patients
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) SavePatient(ctx context.Context, p *Patient) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE patients
		SET reliability_score = $2,
		    no_show_count = $3,
		    updated_at = now()
		WHERE id = $1
	`, p.ID, clampScore(p.ReliabilityScore), p.NoShowCount)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *PgRepository) GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM practitioners
		WHERE id = $1
	`, id)
	return scanPractitioner(row)
}

func (r *PgRepository) ListActivePractitioners(ctx context.Context, date time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT practitioner_id
		FROM appointments
		WHERE appointment_date = $1
		  AND status = ANY($2)
		ORDER BY practitioner_id
	`, date, statusNames(slotHoldingStatuses))
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PgRepository) GetAvailability(ctx context.Context, practitionerID uuid.UUID) ([]AvailabilityWindow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT practitioner_id, weekday, opens_minutes, closes_minutes, enabled
		FROM availability_windows
		WHERE practitioner_id = $1
		ORDER BY weekday
	`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityWindow
	for rows.Next() {
		var w AvailabilityWindow
		var weekday, opens, closes int
		if err := rows.Scan(&w.PractitionerID, &weekday, &opens, &closes, &w.Enabled); err != nil {
			return nil, err
		}
		w.Weekday = time.Weekday(weekday)
		w.Opens = time.Duration(opens) * time.Minute
		w.Closes = time.Duration(closes) * time.Minute
		result = append(result, w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListAbsences(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Absence, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, practitioner_id, starts_at, ends_at, reason
		FROM absences
		WHERE practitioner_id = $1
		  AND starts_at < $3
		  AND ends_at > $2
		ORDER BY starts_at
	`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Absence
	for rows.Next() {
		var ab Absence
		if err := rows.Scan(&ab.ID, &ab.PractitionerID, &ab.Start, &ab.End, &ab.Reason); err != nil {
			return nil, err
		}
		ab.Start = ab.Start.In(r.loc)
		ab.End = ab.End.In(r.loc)
		result = append(result, ab)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetConsultationType(ctx context.Context, id uuid.UUID) (*ConsultationType, error) {
	var ct ConsultationType
	var durationMin int

	err := r.db.QueryRow(ctx, `
		SELECT id, practitioner_id, name, duration_minutes, active
		FROM consultation_types
		WHERE id = $1
	`, id).Scan(&ct.ID, &ct.PractitionerID, &ct.Name, &durationMin, &ct.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConsultationTypeNotFound
		}
		return nil, err
	}

	ct.Duration = time.Duration(durationMin) * time.Minute
	return &ct, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return r.scanAppointment(row)
}

func statusNames(statuses []Status) []string {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return names
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.PractitionerID != uuid.Nil {
		add("practitioner_id = $%d", f.PractitionerID)
	}
	switch {
	case !f.Date.IsZero() && !f.Until.IsZero():
		add("appointment_date >= $%d", f.Date)
		add("appointment_date <= $%d", f.Until)
	case !f.Date.IsZero():
		add("appointment_date = $%d", f.Date)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", statusNames(f.Statuses))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		`+where+`
		ORDER BY appointment_date, start_time NULLS LAST, created_at, id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// CreateAppointment inserts a. A slot uniqueness violation is reported as
// ErrDuplicateSlot and leaves any enclosing transaction usable.
func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	err := r.savepoint(ctx, func(q DB) error {
		_, err := q.Exec(ctx, `
			INSERT INTO appointments (`+appointmentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			a.ID, a.PatientID, a.PractitionerID, a.Date, a.Start, minutes(a.duration()),
			a.Status, a.QueueNumber, a.UrgencyLevel, a.IsShadowSlot, a.BookingType,
			a.ArrivalTime, a.CheckInTime, a.CreatedAt, a.UpdatedAt,
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) SaveAppointment(ctx context.Context, a *Appointment) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
		    start_time = $3,
		    duration_minutes = $4,
		    status = $5,
		    queue_number = $6,
		    urgency_level = $7,
		    is_shadow_slot = $8,
		    booking_type = $9,
		    arrival_time = $10,
		    check_in_time = $11,
		    updated_at = $12
		WHERE id = $1
	`,
		a.ID, a.Date, a.Start, minutes(a.duration()), a.Status, a.QueueNumber,
		a.UrgencyLevel, a.IsShadowSlot, a.BookingType, a.ArrivalTime, a.CheckInTime, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) MaxQueueNumber(ctx context.Context, practitionerID uuid.UUID, date time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_number), 0)
		FROM appointments
		WHERE practitioner_id = $1
		  AND appointment_date = $2
	`, practitionerID, date).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// InsertEvent runs in its own savepoint so a failed audit write never
// aborts the surrounding transaction.
func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	err := r.savepoint(ctx, func(q DB) error {
		_, err := q.Exec(ctx, `
			INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
			VALUES ($1, $2, $3, COALESCE($4, now()))
		`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
		return err
	})
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &PgRepository{db: tx, loc: r.loc}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
