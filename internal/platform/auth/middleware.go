package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eyecare/eyecare/internal/platform/apperr"
)

type contextKey string

const IdentityKey contextKey = "identity"

// Identity is an authenticated caller.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

// Authenticator resolves bearer credentials to identities.
type Authenticator struct {
	tokens   *TokenManager
	subjects SubjectLookup
}

func NewAuthenticator(tokens *TokenManager, subjects SubjectLookup) *Authenticator {
	return &Authenticator{tokens: tokens, subjects: subjects}
}

// Authenticate verifies the token, checks the subject still exists and is
// active, and rejects tokens issued before the last password change.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, apperr.New(apperr.Unauthenticated, "you are not logged in")
	}
	claims, err := a.tokens.Parse(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return Identity{}, apperr.New(apperr.Unauthenticated, "token expired")
		}
		return Identity{}, apperr.New(apperr.Unauthenticated, "invalid token")
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, apperr.New(apperr.Unauthenticated, "invalid token subject")
	}

	subj, err := a.subjects.LookupSubject(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSubjectNotFound) {
			return Identity{}, apperr.New(apperr.Unauthenticated, "the user for this token no longer exists")
		}
		return Identity{}, apperr.Wrap(err, apperr.Internal, "resolve token subject")
	}
	if !subj.Active {
		return Identity{}, apperr.New(apperr.Unauthenticated, "account is deactivated")
	}
	if subj.PasswordChangedAt != nil && subj.PasswordChangedAt.Unix() > claims.IssuedAt.Unix() {
		return Identity{}, apperr.New(apperr.Unauthenticated, "password changed recently, please log in again")
	}

	return Identity{UserID: subj.ID, Role: subj.Role}, nil
}

// Middleware authenticates every request not matched by skip.
func (a *Authenticator) Middleware(skip func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip != nil && skip(c) {
				return next(c)
			}

			token, err := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}
			ident, err := a.Authenticate(c.Request().Context(), token)
			if err != nil {
				return err
			}

			c.Set("user_id", ident.UserID.String())
			c.Set("user_role", ident.Role)
			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), ident)))
			return next(c)
		}
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", apperr.New(apperr.Unauthenticated, "you are not logged in")
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", apperr.New(apperr.Unauthenticated, "invalid authorization format")
	}
	return token, nil
}

func WithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, ident)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(IdentityKey).(Identity)
	return ident, ok
}
