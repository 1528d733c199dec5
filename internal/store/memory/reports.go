package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/domain/report"
	"github.com/eyecare/eyecare/internal/platform/apperr"
)

type reportRepo struct{ s *Store }

func cloneExam(e *report.EyeExam) *report.EyeExam {
	if e == nil {
		return nil
	}
	c := *e
	c.Images = append([]string{}, e.Images...)
	return &c
}

func cloneReport(r *report.Report) *report.Report {
	c := *r
	c.History.Medical = append([]report.Condition{}, r.History.Medical...)
	c.History.Eye = append([]report.Condition{}, r.History.Eye...)
	c.RightEye = cloneExam(r.RightEye)
	c.LeftEye = cloneExam(r.LeftEye)
	c.Feedback = append([]report.Feedback{}, r.Feedback...)
	return &c
}

func reportNotFound() error {
	return apperr.New(apperr.NotFound, "no report found with that id")
}

func (r reportRepo) Create(_ context.Context, rep *report.Report) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[rep.PatientID]
	if !ok {
		return patientNotFound()
	}
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	now := r.s.now()
	rep.CreatedAt, rep.UpdatedAt = now, now
	rep.Feedback = []report.Feedback{}
	r.s.reports[rep.ID] = cloneReport(rep)
	r.s.track(rep.ID)
	p.ReportIDs = append(p.ReportIDs, rep.ID)
	p.UpdatedAt = now
	return nil
}

func (r reportRepo) GetByID(_ context.Context, id uuid.UUID) (*report.Report, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rep, ok := r.s.reports[id]
	if !ok {
		return nil, reportNotFound()
	}
	return cloneReport(rep), nil
}

func (r reportRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*report.Report, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*report.Report{}
	for _, id := range ids {
		if rep, ok := r.s.reports[id]; ok {
			out = append(out, cloneReport(rep))
		}
	}
	return out, nil
}

var reportSortKeys = map[string]sortKey[*report.Report]{
	"createdAt": func(a, b *report.Report) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updatedAt": func(a, b *report.Report) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
}

func (r reportRepo) List(_ context.Context, scope access.Scope, lp report.ListParams, limit, offset int) ([]*report.Report, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var items []*report.Report
	for _, rep := range r.s.reports {
		if lp.PatientID != uuid.Nil && rep.PatientID != lp.PatientID {
			continue
		}
		var assigned map[uuid.UUID]bool
		if p, ok := r.s.patients[rep.PatientID]; ok {
			assigned = assignments(p)
		}
		if !scope.MatchReport(rep.OpticianID, assigned) {
			continue
		}
		items = append(items, cloneReport(rep))
	}
	sortItems(r.s, items, func(rep *report.Report) uuid.UUID { return rep.ID }, lp.Sort, reportSortKeys)
	return page(items, limit, offset), len(items), nil
}

func (r reportRepo) Update(_ context.Context, rep *report.Report) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.reports[rep.ID]
	if !ok {
		return reportNotFound()
	}
	next := cloneReport(cur)
	next.History = rep.History
	next.RightEye = cloneExam(rep.RightEye)
	next.LeftEye = cloneExam(rep.LeftEye)
	next.UpdatedAt = r.s.now()
	r.s.reports[rep.ID] = next
	rep.UpdatedAt = next.UpdatedAt
	return nil
}

func (r reportRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rep, ok := r.s.reports[id]
	if !ok {
		return reportNotFound()
	}
	delete(r.s.reports, id)
	if p, ok := r.s.patients[rep.PatientID]; ok {
		p.ReportIDs = without(p.ReportIDs, id)
		p.UpdatedAt = r.s.now()
	}
	return nil
}

func (r reportRepo) UpsertFeedback(_ context.Context, reportID uuid.UUID, fb *report.Feedback) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rep, ok := r.s.reports[reportID]
	if !ok {
		return reportNotFound()
	}
	fb.ReadByOptician = false
	fb.CreatedAt = r.s.now()
	if cur, ok := rep.FeedbackFrom(fb.DoctorID); ok {
		*cur = *fb
		return nil
	}
	rep.Feedback = append(rep.Feedback, *fb)
	return nil
}

func (r reportRepo) MarkFeedbackRead(_ context.Context, reportID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rep, ok := r.s.reports[reportID]
	if !ok {
		return 0, nil
	}
	n := 0
	for i := range rep.Feedback {
		if !rep.Feedback[i].ReadByOptician {
			rep.Feedback[i].ReadByOptician = true
			n++
		}
	}
	return n, nil
}

type linkStore struct{ s *Store }

func (l linkStore) MissingLinks(_ context.Context) ([]report.Link, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	out := []report.Link{}
	for _, rep := range l.s.reports {
		p, ok := l.s.patients[rep.PatientID]
		if ok && !contains(p.ReportIDs, rep.ID) {
			out = append(out, report.Link{PatientID: p.ID, ReportID: rep.ID})
		}
	}
	sortLinks(out)
	return out, nil
}

func (l linkStore) DanglingLinks(_ context.Context) ([]report.Link, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	out := []report.Link{}
	for _, p := range l.s.patients {
		for _, id := range p.ReportIDs {
			rep, ok := l.s.reports[id]
			if !ok || rep.PatientID != p.ID {
				out = append(out, report.Link{PatientID: p.ID, ReportID: id})
			}
		}
	}
	sortLinks(out)
	return out, nil
}

func sortLinks(links []report.Link) {
	sort.Slice(links, func(i, j int) bool {
		if c := strings.Compare(links[i].PatientID.String(), links[j].PatientID.String()); c != 0 {
			return c < 0
		}
		return links[i].ReportID.String() < links[j].ReportID.String()
	})
}

func (l linkStore) AppendLink(_ context.Context, link report.Link) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if p, ok := l.s.patients[link.PatientID]; ok && !contains(p.ReportIDs, link.ReportID) {
		p.ReportIDs = append(p.ReportIDs, link.ReportID)
	}
	return nil
}

func (l linkStore) RemoveLink(_ context.Context, link report.Link) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if p, ok := l.s.patients[link.PatientID]; ok {
		p.ReportIDs = without(p.ReportIDs, link.ReportID)
	}
	return nil
}
