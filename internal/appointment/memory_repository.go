package appointment

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memState struct {
	patients      map[uuid.UUID]Patient
	practitioners map[uuid.UUID]Practitioner
	windows       map[uuid.UUID][]AvailabilityWindow
	absences      map[uuid.UUID][]Absence
	ctypes        map[uuid.UUID]ConsultationType
	appointments  map[uuid.UUID]Appointment
	events        []EventLog
}

func newMemState() *memState {
	return &memState{
		patients:      make(map[uuid.UUID]Patient),
		practitioners: make(map[uuid.UUID]Practitioner),
		windows:       make(map[uuid.UUID][]AvailabilityWindow),
		absences:      make(map[uuid.UUID][]Absence),
		ctypes:        make(map[uuid.UUID]ConsultationType),
		appointments:  make(map[uuid.UUID]Appointment),
	}
}

func (s *memState) clone() *memState {
	return &memState{
		patients:      maps.Clone(s.patients),
		practitioners: maps.Clone(s.practitioners),
		windows:       maps.Clone(s.windows),
		absences:      maps.Clone(s.absences),
		ctypes:        maps.Clone(s.ctypes),
		appointments:  maps.Clone(s.appointments),
		events:        slices.Clone(s.events),
	}
}

// MemoryRepository keeps everything in process. It enforces the same slot
// uniqueness rules as the Postgres schema and gives WithinTx all-or-nothing
// semantics by working on a copy of the state.
type MemoryRepository struct {
	mu   *sync.RWMutex
	st   *memState
	inTx bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{mu: &sync.RWMutex{}, st: newMemState()}
}

func (r *MemoryRepository) rlock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

func (r *MemoryRepository) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// Fixture setters

func (r *MemoryRepository) AddPatient(p Patient) {
	defer r.lock()()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.st.patients[p.ID] = p
}

func (r *MemoryRepository) AddPractitioner(p Practitioner) {
	defer r.lock()()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.st.practitioners[p.ID] = p
}

func (r *MemoryRepository) SetAvailability(practitionerID uuid.UUID, windows []AvailabilityWindow) {
	defer r.lock()()
	r.st.windows[practitionerID] = slices.Clone(windows)
}

func (r *MemoryRepository) AddAbsence(ab Absence) {
	defer r.lock()()
	if ab.ID == uuid.Nil {
		ab.ID = uuid.New()
	}
	r.st.absences[ab.PractitionerID] = append(slices.Clone(r.st.absences[ab.PractitionerID]), ab)
}

func (r *MemoryRepository) AddConsultationType(ct ConsultationType) {
	defer r.lock()()
	if ct.ID == uuid.Nil {
		ct.ID = uuid.New()
	}
	r.st.ctypes[ct.ID] = ct
}

// Events returns a copy of the audit log.
func (r *MemoryRepository) Events() []EventLog {
	defer r.rlock()()
	return slices.Clone(r.st.events)
}

// Interface methods

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	defer r.rlock()()
	p, ok := r.st.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetPatientForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.GetPatientByID(ctx, id)
}

func (r *MemoryRepository) SavePatient(_ context.Context, p *Patient) error {
	defer r.lock()()
	if _, ok := r.st.patients[p.ID]; !ok {
		return ErrPatientNotFound
	}
	saved := *p
	saved.ReliabilityScore = clampScore(saved.ReliabilityScore)
	saved.UpdatedAt = time.Now()
	r.st.patients[p.ID] = saved
	return nil
}

func (r *MemoryRepository) GetPractitionerByID(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	defer r.rlock()()
	p, ok := r.st.practitioners[id]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) ListActivePractitioners(_ context.Context, date time.Time) ([]uuid.UUID, error) {
	defer r.rlock()()
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, a := range r.st.appointments {
		if !sameDate(a.Date, date) || !a.Status.in(slotHoldingStatuses) || seen[a.PractitionerID] {
			continue
		}
		seen[a.PractitionerID] = true
		ids = append(ids, a.PractitionerID)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	return ids, nil
}

func (r *MemoryRepository) GetAvailability(_ context.Context, practitionerID uuid.UUID) ([]AvailabilityWindow, error) {
	defer r.rlock()()
	return slices.Clone(r.st.windows[practitionerID]), nil
}

func (r *MemoryRepository) ListAbsences(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Absence, error) {
	defer r.rlock()()
	var out []Absence
	for _, ab := range r.st.absences[practitionerID] {
		if overlaps(ab.Start, ab.End, from, to) {
			out = append(out, ab)
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetConsultationType(_ context.Context, id uuid.UUID) (*ConsultationType, error) {
	defer r.rlock()()
	ct, ok := r.st.ctypes[id]
	if !ok {
		return nil, ErrConsultationTypeNotFound
	}
	return &ct, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	defer r.rlock()()
	a, ok := r.st.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func dateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

func (f AppointmentFilter) matches(a *Appointment) bool {
	if f.PractitionerID != uuid.Nil && a.PractitionerID != f.PractitionerID {
		return false
	}
	switch {
	case !f.Date.IsZero() && !f.Until.IsZero():
		k := dateKey(a.Date)
		if k < dateKey(f.Date) || k > dateKey(f.Until) {
			return false
		}
	case !f.Date.IsZero():
		if !sameDate(a.Date, f.Date) {
			return false
		}
	}
	if len(f.Statuses) > 0 && !a.Status.in(f.Statuses) {
		return false
	}
	return true
}

func (r *MemoryRepository) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	defer r.rlock()()
	var out []Appointment
	for _, a := range r.st.appointments {
		if f.matches(&a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b Appointment) int {
		if c := cmp.Compare(dateKey(a.Date), dateKey(b.Date)); c != 0 {
			return c
		}
		switch {
		case a.Start != nil && b.Start == nil:
			return -1
		case a.Start == nil && b.Start != nil:
			return 1
		case a.Start != nil && b.Start != nil && !a.Start.Equal(*b.Start):
			return a.Start.Compare(*b.Start)
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

// violatesSlot mirrors the partial unique indexes on appointments.
func (r *MemoryRepository) violatesSlot(a *Appointment) bool {
	if a.Start == nil || !a.Status.in(slotHoldingStatuses) {
		return false
	}
	for id, other := range r.st.appointments {
		if id == a.ID || other.Start == nil || !other.Status.in(slotHoldingStatuses) {
			continue
		}
		if other.IsShadowSlot == a.IsShadowSlot && a.SameSlot(&other) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) error {
	defer r.lock()()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if r.violatesSlot(a) {
		return ErrDuplicateSlot
	}
	r.st.appointments[a.ID] = *a
	return nil
}

func (r *MemoryRepository) SaveAppointment(_ context.Context, a *Appointment) error {
	defer r.lock()()
	if _, ok := r.st.appointments[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	if r.violatesSlot(a) {
		return ErrDuplicateSlot
	}
	r.st.appointments[a.ID] = *a
	return nil
}

func (r *MemoryRepository) MaxQueueNumber(_ context.Context, practitionerID uuid.UUID, date time.Time) (int, error) {
	defer r.rlock()()
	n := 0
	for _, a := range r.st.appointments {
		if a.PractitionerID == practitionerID && sameDate(a.Date, date) && a.QueueNumber != nil {
			n = max(n, *a.QueueNumber)
		}
	}
	return n, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	defer r.lock()()
	ev.ID = int64(len(r.st.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.st.events = append(r.st.events, ev)
	return nil
}

// WithinTx runs fn against a private copy of the state and publishes it
// only when fn succeeds. Outside a transaction it holds the write lock for
// the duration of fn.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	defer r.lock()()

	tx := &MemoryRepository{mu: r.mu, st: r.st.clone(), inTx: true}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	*r.st = *tx.st
	return nil
}
