package user

import (
	"context"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/auth"
)

// SubjectSource resolves token subjects from the user repository.
type SubjectSource struct {
	users Repository
}

func NewSubjectSource(users Repository) *SubjectSource {
	return &SubjectSource{users: users}
}

func (s *SubjectSource) LookupSubject(ctx context.Context, id uuid.UUID) (*auth.Subject, error) {
	u, err := s.users.GetByID(ctx, id)
	if apperr.Is(err, apperr.NotFound) {
		return nil, auth.ErrSubjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return u.Subject(), nil
}
