package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultDuration = 30 * time.Minute

var (
	defaultOpens  = 9 * time.Hour
	defaultCloses = 17 * time.Hour
)

var (
	ErrSlotConflict      = errors.New("slot is already taken")
	ErrOutOfWorkingHours = errors.New("slot is outside working hours")
)

// workingHours returns the opening and closing instants for day. A weekday
// with no configured window falls back to 09:00-17:00; a disabled window
// means the practitioner does not work that day.
func workingHours(windows []AvailabilityWindow, day time.Time) (opens, closes time.Time, ok bool) {
	for _, w := range windows {
		if w.Weekday != day.Weekday() {
			continue
		}
		if !w.Enabled || w.Closes <= w.Opens {
			return time.Time{}, time.Time{}, false
		}
		return at(day, w.Opens), at(day, w.Closes), true
	}
	return at(day, defaultOpens), at(day, defaultCloses), true
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// checkSlot is the availability rule set: working hours, then absences,
// then existing confirmed/waiting appointments other than exclude.
func checkSlot(windows []AvailabilityWindow, absences []Absence, existing []Appointment, start time.Time, duration time.Duration, exclude map[uuid.UUID]bool) error {
	if duration <= 0 {
		duration = defaultDuration
	}
	end := start.Add(duration)

	opens, closes, ok := workingHours(windows, dayOf(start, start.Location()))
	if !ok || start.Before(opens) || end.After(closes) {
		return ErrOutOfWorkingHours
	}

	for _, ab := range absences {
		if overlaps(ab.Start, ab.End, start, end) {
			return fmt.Errorf("%w: practitioner absent (%s)", ErrOutOfWorkingHours, ab.Reason)
		}
	}

	for i := range existing {
		a := &existing[i]
		if a.Start == nil || exclude[a.ID] || !a.Status.in(occupyingStatuses) {
			continue
		}
		if overlaps(*a.Start, a.End(), start, end) {
			return ErrSlotConflict
		}
	}
	return nil
}

// SlotFree reports whether [start, start+duration) can be booked.
func SlotFree(windows []AvailabilityWindow, absences []Absence, existing []Appointment, start time.Time, duration time.Duration, exclude uuid.UUID) bool {
	return checkSlot(windows, absences, existing, start, duration, map[uuid.UUID]bool{exclude: true}) == nil
}

// holderAt returns the non-shadow slot holder starting exactly at start.
func holderAt(existing []Appointment, start time.Time, exclude map[uuid.UUID]bool) *Appointment {
	for i := range existing {
		a := &existing[i]
		if a.Start == nil || a.IsShadowSlot || exclude[a.ID] || !a.Status.in(slotHoldingStatuses) {
			continue
		}
		if a.Start.Equal(start) {
			return a
		}
	}
	return nil
}

func shadowAt(existing []Appointment, start time.Time) *Appointment {
	for i := range existing {
		a := &existing[i]
		if a.Start == nil || !a.IsShadowSlot || !a.Status.in(slotHoldingStatuses) {
			continue
		}
		if a.Start.Equal(start) {
			return a
		}
	}
	return nil
}

// slotAnchors returns the timed appointments that move on their own when a
// schedule is rearranged: every active holder, plus any active shadow whose
// slot no longer has an active holder. Shadows with a holder are left out and
// follow it as riders.
func slotAnchors(appts []Appointment) []*Appointment {
	held := make(map[int64]bool)
	for i := range appts {
		a := &appts[i]
		if a.Start != nil && !a.IsShadowSlot && a.Status.in(slotHoldingStatuses) {
			held[a.Start.UnixNano()] = true
		}
	}

	var anchors []*Appointment
	for i := range appts {
		a := &appts[i]
		if a.Start == nil || !a.Status.in(slotHoldingStatuses) {
			continue
		}
		if !a.IsShadowSlot || !held[a.Start.UnixNano()] {
			anchors = append(anchors, a)
		}
	}
	return anchors
}

// ridersOf returns the active shadows sharing anchor's slot.
func ridersOf(appts []Appointment, anchor *Appointment) []*Appointment {
	if anchor.IsShadowSlot {
		return nil
	}
	var riders []*Appointment
	for i := range appts {
		sh := &appts[i]
		if sh.ID != anchor.ID && sh.IsShadowSlot && sh.Status.in(slotHoldingStatuses) && anchor.SameSlot(sh) {
			riders = append(riders, sh)
		}
	}
	return riders
}

// IsFree loads the practitioner's schedule context and checks one slot.
func (s *Service) IsFree(ctx context.Context, practitionerID uuid.UUID, start time.Time, duration time.Duration, exclude uuid.UUID) (bool, error) {
	p, err := s.newPlanner(ctx, s.repo, practitionerID, start, 1)
	if err != nil {
		return false, err
	}
	return p.isFree(ctx, start.In(s.loc), duration, map[uuid.UUID]bool{exclude: true})
}

// slotPlanner caches one practitioner's schedule context while a multi-step
// operation probes for slots. record keeps the cache in step with writes.
type slotPlanner struct {
	repo           Repository
	practitionerID uuid.UUID
	loc            *time.Location
	windows        []AvailabilityWindow
	absences       []Absence
	days           map[time.Time][]Appointment
}

func (s *Service) newPlanner(ctx context.Context, repo Repository, practitionerID uuid.UUID, from time.Time, days int) (*slotPlanner, error) {
	windows, err := repo.GetAvailability(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}

	first := dayOf(from, s.loc)
	absences, err := repo.ListAbsences(ctx, practitionerID, first, first.AddDate(0, 0, days+1))
	if err != nil {
		return nil, fmt.Errorf("load absences: %w", err)
	}

	return &slotPlanner{
		repo:           repo,
		practitionerID: practitionerID,
		loc:            s.loc,
		windows:        windows,
		absences:       absences,
		days:           make(map[time.Time][]Appointment),
	}, nil
}

func (p *slotPlanner) appointmentsOn(ctx context.Context, day time.Time) ([]Appointment, error) {
	if appts, ok := p.days[day]; ok {
		return appts, nil
	}
	appts, err := p.repo.ListAppointments(ctx, AppointmentFilter{
		PractitionerID: p.practitionerID,
		Date:           day,
		Statuses:       slotHoldingStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("load appointments for %s: %w", day.Format(time.DateOnly), err)
	}
	p.days[day] = appts
	return appts, nil
}

// check runs checkSlot and additionally refuses an exact start already held
// by a checked-in patient, which the overlap rule alone does not see.
func (p *slotPlanner) check(ctx context.Context, start time.Time, duration time.Duration, exclude map[uuid.UUID]bool) error {
	appts, err := p.appointmentsOn(ctx, dayOf(start, p.loc))
	if err != nil {
		return err
	}
	if err := checkSlot(p.windows, p.absences, appts, start, duration, exclude); err != nil {
		return err
	}
	if holderAt(appts, start, exclude) != nil {
		return ErrSlotConflict
	}
	return nil
}

// checkShadowFree refuses start when another shadow already sits on it.
func (p *slotPlanner) checkShadowFree(ctx context.Context, start time.Time, exclude map[uuid.UUID]bool) error {
	appts, err := p.appointmentsOn(ctx, dayOf(start, p.loc))
	if err != nil {
		return err
	}
	if sh := shadowAt(appts, start); sh != nil && !exclude[sh.ID] {
		return ErrSlotConflict
	}
	return nil
}

func (p *slotPlanner) isFree(ctx context.Context, start time.Time, duration time.Duration, exclude map[uuid.UUID]bool) (bool, error) {
	err := p.check(ctx, start, duration, exclude)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrSlotConflict), errors.Is(err, ErrOutOfWorkingHours):
		return false, nil
	default:
		return false, err
	}
}

// record moves a into the cache after it was written at its current date.
func (p *slotPlanner) record(a Appointment) {
	for day, appts := range p.days {
		for i := range appts {
			if appts[i].ID == a.ID {
				p.days[day] = append(appts[:i:i], appts[i+1:]...)
				break
			}
		}
	}
	if a.Start == nil || !a.Status.in(slotHoldingStatuses) {
		return
	}
	day := dayOf(*a.Start, p.loc)
	if appts, ok := p.days[day]; ok {
		p.days[day] = append(appts, a)
	}
}
