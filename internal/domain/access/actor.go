// Package access decides which actor may perform which operation on which
// patient or report, and derives the query scopes used by list operations.
package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/auth"
)

type Role string

const (
	Optician Role = "optician"
	Doctor   Role = "doctor"
	Admin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case Optician, Doctor, Admin:
		return true
	}
	return false
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func ActorFromIdentity(ident auth.Identity) Actor {
	return Actor{ID: ident.UserID, Role: Role(ident.Role)}
}

// ActorFromContext returns the actor placed on ctx by the auth middleware.
func ActorFromContext(ctx context.Context) (Actor, error) {
	ident, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return Actor{}, apperr.New(apperr.Unauthenticated, "you are not logged in")
	}
	return ActorFromIdentity(ident), nil
}
