package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/domain/user"
	"github.com/eyecare/eyecare/internal/platform/apperr"
)

type userRepo struct{ s *Store }

func cloneUser(u *user.User) *user.User {
	c := *u
	if u.Verification != nil {
		v := *u.Verification
		c.Verification = &v
	}
	if u.Reset != nil {
		r := *u.Reset
		c.Reset = &r
	}
	return &c
}

func (r userRepo) emailTaken(email string, except uuid.UUID) bool {
	for _, u := range r.s.users {
		if u.ID != except && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (r userRepo) Create(_ context.Context, u *user.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if r.emailTaken(u.Email, u.ID) {
		return apperr.New(apperr.Conflict, "a user with email %s already exists", u.Email)
	}
	now := r.s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	r.s.users[u.ID] = cloneUser(u)
	r.s.track(u.ID)
	return nil
}

func (r userRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	return cloneUser(u), nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "user not found")
}

func (r userRepo) Update(_ context.Context, u *user.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.users[u.ID]
	if !ok {
		return apperr.New(apperr.NotFound, "user not found")
	}
	if r.emailTaken(u.Email, u.ID) {
		return apperr.New(apperr.Conflict, "a user with email %s already exists", u.Email)
	}
	u.CreatedAt = cur.CreatedAt
	u.UpdatedAt = r.s.now()
	r.s.users[u.ID] = cloneUser(u)
	return nil
}

// Delete refuses users who still own clinical records or datasets and
// drops the assignments and feedback of a deleted doctor.
func (r userRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return apperr.New(apperr.NotFound, "user not found")
	}
	for _, p := range r.s.patients {
		if p.OpticianID == id {
			return apperr.New(apperr.Conflict, "user still owns patients or reports")
		}
	}
	for _, rep := range r.s.reports {
		if rep.OpticianID == id {
			return apperr.New(apperr.Conflict, "user still owns patients or reports")
		}
	}
	for _, b := range r.s.batches {
		if b.UploadedBy == id {
			return apperr.New(apperr.Conflict, "user still owns datasets")
		}
	}

	for _, p := range r.s.patients {
		kept := p.Assignments[:0]
		for _, a := range p.Assignments {
			if a.DoctorID != id {
				kept = append(kept, a)
			}
		}
		p.Assignments = kept
	}
	for _, rep := range r.s.reports {
		kept := rep.Feedback[:0]
		for _, fb := range rep.Feedback {
			if fb.DoctorID != id {
				kept = append(kept, fb)
			}
		}
		rep.Feedback = kept
	}
	delete(r.s.users, id)
	return nil
}

var userSortKeys = map[string]sortKey[*user.User]{
	"createdAt": func(a, b *user.User) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"firstName": func(a, b *user.User) int { return strings.Compare(a.FirstName, b.FirstName) },
	"lastName":  func(a, b *user.User) int { return strings.Compare(a.LastName, b.LastName) },
	"email":     func(a, b *user.User) int { return strings.Compare(a.Email, b.Email) },
}

func (r userRepo) List(_ context.Context, f user.ListFilter, limit, offset int) ([]*user.User, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	kw := strings.ToLower(f.Keyword)
	var items []*user.User
	for _, u := range r.s.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.ActiveOnly && !u.Active {
			continue
		}
		if kw != "" && !strings.Contains(strings.ToLower(u.FirstName+" "+u.LastName+" "+u.Email), kw) {
			continue
		}
		items = append(items, cloneUser(u))
	}
	sortItems(r.s, items, func(u *user.User) uuid.UUID { return u.ID }, f.Sort, userSortKeys)
	return page(items, limit, offset), len(items), nil
}
