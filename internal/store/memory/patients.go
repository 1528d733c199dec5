package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/domain/patient"
	"github.com/eyecare/eyecare/internal/platform/apperr"
)

type patientRepo struct{ s *Store }

func clonePatient(p *patient.Patient) *patient.Patient {
	c := *p
	c.Assignments = append([]patient.Assignment{}, p.Assignments...)
	c.ReportIDs = append([]uuid.UUID{}, p.ReportIDs...)
	return &c
}

func assignments(p *patient.Patient) map[uuid.UUID]bool {
	m := make(map[uuid.UUID]bool, len(p.Assignments))
	for _, a := range p.Assignments {
		m[a.DoctorID] = a.Archived
	}
	return m
}

func patientNotFound() error {
	return apperr.New(apperr.NotFound, "no patient found with that id")
}

func (r patientRepo) Create(_ context.Context, p *patient.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, ok := r.s.users[p.OpticianID]; !ok {
		return apperr.New(apperr.NotFound, "optician not found")
	}
	now := r.s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	p.Assignments = []patient.Assignment{}
	p.ReportIDs = []uuid.UUID{}
	r.s.patients[p.ID] = clonePatient(p)
	r.s.track(p.ID)
	return nil
}

func (r patientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok {
		return nil, patientNotFound()
	}
	return clonePatient(p), nil
}

// compareBirth orders unknown dates last, as NULLs sort in PostgreSQL.
func compareBirth(a, b *patient.Patient) int {
	switch {
	case a.DateOfBirth == nil && b.DateOfBirth == nil:
		return 0
	case a.DateOfBirth == nil:
		return 1
	case b.DateOfBirth == nil:
		return -1
	}
	return a.DateOfBirth.Compare(b.DateOfBirth.Time)
}

var patientSortKeys = map[string]sortKey[*patient.Patient]{
	"createdAt":   func(a, b *patient.Patient) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"firstName":   func(a, b *patient.Patient) int { return strings.Compare(a.FirstName, b.FirstName) },
	"lastName":    func(a, b *patient.Patient) int { return strings.Compare(a.LastName, b.LastName) },
	"dateOfBirth": compareBirth,
}

func (r patientRepo) List(_ context.Context, scope access.Scope, lp patient.ListParams, limit, offset int) ([]*patient.Patient, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	kw := strings.ToLower(lp.Keyword)
	var items []*patient.Patient
	for _, p := range r.s.patients {
		if !scope.MatchPatient(p.OpticianID, p.ArchivedByOptician, assignments(p)) {
			continue
		}
		if kw != "" && !strings.Contains(strings.ToLower(p.FirstName), kw) && !strings.Contains(strings.ToLower(p.LastName), kw) {
			continue
		}
		items = append(items, clonePatient(p))
	}
	sortItems(r.s, items, func(p *patient.Patient) uuid.UUID { return p.ID }, lp.Sort, patientSortKeys)
	return page(items, limit, offset), len(items), nil
}

func (r patientRepo) Update(_ context.Context, p *patient.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.patients[p.ID]
	if !ok {
		return patientNotFound()
	}
	cur.FirstName = p.FirstName
	cur.LastName = p.LastName
	cur.DateOfBirth = p.DateOfBirth
	cur.Gender = p.Gender
	cur.Ethnicity = p.Ethnicity
	cur.UpdatedAt = r.s.now()
	p.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r patientRepo) Delete(_ context.Context, id uuid.UUID) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.patients[id]; !ok {
		return nil, patientNotFound()
	}
	var refs []string
	for rid, rep := range r.s.reports {
		if rep.PatientID == id {
			refs = append(refs, rep.Images()...)
			delete(r.s.reports, rid)
		}
	}
	delete(r.s.patients, id)
	return refs, nil
}

func (r patientRepo) AddAssignment(_ context.Context, patientID, doctorID uuid.UUID) (*patient.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[patientID]
	if !ok {
		return nil, patientNotFound()
	}
	if _, ok := r.s.users[doctorID]; !ok {
		return nil, patientNotFound()
	}
	if _, dup := p.Assignment(doctorID); dup {
		return nil, apperr.New(apperr.Conflict, "this patient has already been sent to that doctor")
	}
	a := patient.Assignment{DoctorID: doctorID, AssignedAt: r.s.now()}
	p.Assignments = append(p.Assignments, a)
	return &a, nil
}

func (r patientRepo) ToggleArchived(_ context.Context, id uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok {
		return false, patientNotFound()
	}
	p.ArchivedByOptician = !p.ArchivedByOptician
	p.UpdatedAt = r.s.now()
	return p.ArchivedByOptician, nil
}

func (r patientRepo) ToggleAssignmentArchived(_ context.Context, patientID, doctorID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[patientID]
	if !ok {
		return false, patientNotFound()
	}
	for i := range p.Assignments {
		if p.Assignments[i].DoctorID == doctorID {
			p.Assignments[i].Archived = !p.Assignments[i].Archived
			return p.Assignments[i].Archived, nil
		}
	}
	return false, patientNotFound()
}

func (r patientRepo) ReportStats(_ context.Context, doctorID uuid.UUID) ([]patient.ReportStat, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	type assigned struct {
		p *patient.Patient
		a patient.Assignment
	}
	var list []assigned
	for _, p := range r.s.patients {
		if a, ok := p.Assignment(doctorID); ok {
			list = append(list, assigned{p, a})
		}
	}
	sortItems(r.s, list, func(x assigned) uuid.UUID { return x.p.ID }, "assignedAt", map[string]sortKey[assigned]{
		"assignedAt": func(x, y assigned) int { return x.a.AssignedAt.Compare(y.a.AssignedAt) },
	})

	stats := []patient.ReportStat{}
	for _, x := range list {
		st := patient.ReportStat{PatientID: x.p.ID, Name: x.p.FirstName + " " + x.p.LastName}
		for _, rep := range r.s.reports {
			if rep.PatientID != x.p.ID {
				continue
			}
			if _, ok := rep.FeedbackFrom(doctorID); ok {
				st.WithFeedback++
			} else {
				st.WithoutFeedback++
			}
		}
		stats = append(stats, st)
	}
	return stats, nil
}
