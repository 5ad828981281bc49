// Package demo generates fake clinic data for local runs and load tests.
package demo

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-smartflow/internal/appointment"
)

var specialties = []string{
	"General Practice",
	"Pediatrics",
	"Dermatology",
	"Cardiology",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var consultationNames = []string{"Follow-up", "Standard consultation", "Extended consultation"}

// Dataset is one generated clinic.
type Dataset struct {
	Practitioners     []appointment.Practitioner
	Availability      []appointment.AvailabilityWindow
	ConsultationTypes []appointment.ConsultationType
	Patients          []appointment.Patient
}

// Generate builds practitioners working 09:00-17:00 on weekdays, each with
// three consultation types, and patients with a spread of reliability scores.
func Generate(f *gofakeit.Faker, practitioners, patients int, now time.Time) Dataset {
	var ds Dataset

	for i := 0; i < practitioners; i++ {
		specialty := specialties[f.Number(0, len(specialties)-1)]
		p := appointment.Practitioner{
			ID:        uuid.New(),
			Name:      "Dr. " + f.LastName(),
			Specialty: &specialty,
			CreatedAt: now,
			UpdatedAt: now,
		}
		ds.Practitioners = append(ds.Practitioners, p)

		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			ds.Availability = append(ds.Availability, appointment.AvailabilityWindow{
				PractitionerID: p.ID,
				Weekday:        wd,
				Opens:          9 * time.Hour,
				Closes:         17 * time.Hour,
				Enabled:        wd != time.Saturday && wd != time.Sunday,
			})
		}

		for j, name := range consultationNames {
			ds.ConsultationTypes = append(ds.ConsultationTypes, appointment.ConsultationType{
				ID:             uuid.New(),
				PractitionerID: p.ID,
				Name:           name,
				Duration:       time.Duration(15*(j+1)) * time.Minute,
				Active:         true,
			})
		}
	}

	for i := 0; i < patients; i++ {
		email := f.Email()
		phone := f.Phone()
		noShows := 0
		score := float64(f.Number(0, 20)) * 5
		if score < 40 {
			noShows = f.Number(0, 2)
		}
		ds.Patients = append(ds.Patients, appointment.Patient{
			ID:               uuid.New(),
			Name:             f.Name(),
			Email:            &email,
			Phone:            &phone,
			ReliabilityScore: score,
			NoShowCount:      noShows,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	return ds
}

// LoadMemory copies ds into an in-memory repository.
func LoadMemory(repo *appointment.MemoryRepository, ds Dataset) {
	for _, p := range ds.Practitioners {
		repo.AddPractitioner(p)
	}
	byPractitioner := make(map[uuid.UUID][]appointment.AvailabilityWindow)
	for _, w := range ds.Availability {
		byPractitioner[w.PractitionerID] = append(byPractitioner[w.PractitionerID], w)
	}
	for id, windows := range byPractitioner {
		repo.SetAvailability(id, windows)
	}
	for _, ct := range ds.ConsultationTypes {
		repo.AddConsultationType(ct)
	}
	for _, p := range ds.Patients {
		repo.AddPatient(p)
	}
}

// Beginner is satisfied by *pgxpool.Pool.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// InsertPostgres writes ds in one transaction per batch of batchSize patients,
// after the practitioners and their schedules.
func InsertPostgres(ctx context.Context, db Beginner, ds Dataset, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, p := range ds.Practitioners {
		if _, err := tx.Exec(ctx, `
			INSERT INTO practitioners (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
		`, p.ID, p.Name, p.Specialty, p.CreatedAt); err != nil {
			return fmt.Errorf("insert practitioner: %w", err)
		}
	}
	for _, w := range ds.Availability {
		if _, err := tx.Exec(ctx, `
			INSERT INTO availability_windows (practitioner_id, weekday, opens_minutes, closes_minutes, enabled)
			VALUES ($1, $2, $3, $4, $5)
		`, w.PractitionerID, int(w.Weekday), int(w.Opens/time.Minute), int(w.Closes/time.Minute), w.Enabled); err != nil {
			return fmt.Errorf("insert availability: %w", err)
		}
	}
	for _, ct := range ds.ConsultationTypes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO consultation_types (id, practitioner_id, name, duration_minutes, active)
			VALUES ($1, $2, $3, $4, $5)
		`, ct.ID, ct.PractitionerID, ct.Name, int(ct.Duration/time.Minute), ct.Active); err != nil {
			return fmt.Errorf("insert consultation type: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	for offset := 0; offset < len(ds.Patients); offset += batchSize {
		end := min(offset+batchSize, len(ds.Patients))
		if err := insertPatients(ctx, db, ds.Patients[offset:end]); err != nil {
			return err
		}
	}
	return nil
}

func insertPatients(ctx context.Context, db Beginner, patients []appointment.Patient) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, p := range patients {
		if _, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email, phone, reliability_score, no_show_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		`, p.ID, p.Name, p.Email, p.Phone, p.ReliabilityScore, p.NoShowCount, p.CreatedAt); err != nil {
			return fmt.Errorf("insert patient: %w", err)
		}
	}
	return tx.Commit(ctx)
}
