package appointment

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

type ReliabilityEvent string

const (
	ReliabilityNoShow   ReliabilityEvent = "NO_SHOW"
	ReliabilityLate     ReliabilityEvent = "LATE"
	ReliabilityPunctual ReliabilityEvent = "PUNCTUAL"
)

// RestoreReason says why a recorded no-show is being undone.
type RestoreReason string

const (
	RestoreError RestoreReason = "error"
	RestoreLate  RestoreReason = "late"
)

const (
	MinReliabilityScore = 0.0
	MaxReliabilityScore = 100.0

	noShowPenalty = 20.0
	latePenalty   = 5.0
	punctualBonus = 2.0
)

var ErrInvalidEventKind = errors.New("invalid reliability event kind")

func ParseReliabilityEvent(s string) (ReliabilityEvent, error) {
	switch ev := ReliabilityEvent(s); ev {
	case ReliabilityNoShow, ReliabilityLate, ReliabilityPunctual:
		return ev, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEventKind, s)
}

func ParseRestoreReason(s string) (RestoreReason, error) {
	switch r := RestoreReason(s); r {
	case RestoreError, RestoreLate:
		return r, nil
	case "":
		return RestoreError, nil
	}
	return "", fmt.Errorf("%w: restore reason %q", ErrInvalidEventKind, s)
}

func clampScore(v float64) float64 {
	return math.Max(MinReliabilityScore, math.Min(MaxReliabilityScore, v))
}

// ApplyReliabilityEvent moves p's trust score for one clinical event and
// returns the new score. p is left untouched on error.
func ApplyReliabilityEvent(p *Patient, ev ReliabilityEvent) (float64, error) {
	score := clampScore(p.ReliabilityScore)

	switch ev {
	case ReliabilityNoShow:
		score = clampScore(score - noShowPenalty)
		p.NoShowCount++
	case ReliabilityLate:
		score = clampScore(score - latePenalty)
	case ReliabilityPunctual:
		score = clampScore(score + punctualBonus)
	default:
		return p.ReliabilityScore, fmt.Errorf("%w: %q", ErrInvalidEventKind, ev)
	}

	p.ReliabilityScore = score
	return score, nil
}

// RestoreReliability undoes a wrongly recorded no-show. With RestoreLate the
// patient did come, but late, so the late penalty is applied afterwards.
func RestoreReliability(p *Patient, reason RestoreReason) float64 {
	score := clampScore(clampScore(p.ReliabilityScore) + noShowPenalty)
	if p.NoShowCount > 0 {
		p.NoShowCount--
	}
	if reason == RestoreLate {
		score = clampScore(score - latePenalty)
	}
	p.ReliabilityScore = score
	return score
}

// ApplyEvent loads the patient, applies ev and persists the result.
func (s *Service) ApplyEvent(ctx context.Context, patientID uuid.UUID, ev ReliabilityEvent) (float64, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.apply_reliability_event")
	defer span.End()

	var score float64
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		score, err = s.applyEventTx(ctx, tx, patientID, ev)
		return err
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

func (s *Service) applyEventTx(ctx context.Context, tx Repository, patientID uuid.UUID, ev ReliabilityEvent) (float64, error) {
	p, err := tx.GetPatientForUpdate(ctx, patientID)
	if err != nil {
		return 0, fmt.Errorf("load patient: %w", err)
	}
	score, err := ApplyReliabilityEvent(p, ev)
	if err != nil {
		return 0, err
	}
	if err := tx.SavePatient(ctx, p); err != nil {
		return 0, fmt.Errorf("save patient: %w", err)
	}
	s.metrics.ObserveReliability(string(ev))
	s.logger.Info("reliability score updated",
		"patient_id", patientID, "event", ev, "score", score, "no_show_count", p.NoShowCount)
	return score, nil
}

// Restore applies RestoreReliability to a stored patient.
func (s *Service) Restore(ctx context.Context, patientID uuid.UUID, reason RestoreReason) (float64, error) {
	var score float64
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		score, err = s.restoreTx(ctx, tx, patientID, reason)
		return err
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

func (s *Service) restoreTx(ctx context.Context, tx Repository, patientID uuid.UUID, reason RestoreReason) (float64, error) {
	p, err := tx.GetPatientForUpdate(ctx, patientID)
	if err != nil {
		return 0, fmt.Errorf("load patient: %w", err)
	}
	score := RestoreReliability(p, reason)
	if err := tx.SavePatient(ctx, p); err != nil {
		return 0, fmt.Errorf("save patient: %w", err)
	}
	s.metrics.ObserveReliability("RESTORE_" + string(reason))
	s.logger.Info("reliability score restored",
		"patient_id", patientID, "reason", reason, "score", score)
	return score, nil
}
