package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/auth"
	"github.com/eyecare/eyecare/internal/platform/notification"
)

// Invalidator drops cached identity snapshots. auth.CachedSubjectLookup
// implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	users       Repository
	hasher      auth.PasswordHasher
	tokens      *auth.TokenManager
	mailer      *notification.Mailer
	codeTTL     time.Duration
	invalidator Invalidator
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(users Repository, hasher auth.PasswordHasher, tokens *auth.TokenManager, mailer *notification.Mailer, codeTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		mailer:  mailer,
		codeTTL: codeTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// SetInvalidator attaches the identity cache so password, role and
// activation changes take effect on the next request.
func (s *Service) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("user_id", id.String()).Msg("identity cache invalidation failed")
	}
}

func (s *Service) session(u *User) (*Session, error) {
	tok, err := s.tokens.Issue(u.ID, string(u.Role))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "issue token")
	}
	return &Session{User: u, Token: tok}, nil
}

func (s *Service) newUser(req SignupRequest, role access.Role) (*User, error) {
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "hash password")
	}
	return &User{
		ID:           uuid.New(),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        NormalizeEmail(req.Email),
		Age:          req.Age,
		Gender:       req.Gender,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}, nil
}

// mail renders and sends a code email. ttl is shown to the user in minutes.
func (s *Service) mail(ctx context.Context, templateID string, u *User, code string) error {
	return s.mailer.Send(ctx, templateID, u.Email, map[string]string{
		"name": u.FullName(),
		"code": code,
		"ttl":  s.codeTTL.Round(time.Minute).String(),
	})
}

// sendVerification stores a fresh verification code and emails it. When the
// email cannot be sent the stored code is cleared again.
func (s *Service) sendVerification(ctx context.Context, u *User) error {
	plain, hash, err := newCode()
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "generate verification code")
	}
	u.Verification = &Code{Hash: hash, ExpiresAt: s.now().Add(s.codeTTL)}
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}

	if err := s.mail(ctx, notification.TemplateEmailVerification, u, plain); err != nil {
		s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("verification email failed")
		u.Verification = nil
		if uerr := s.users.Update(ctx, u); uerr != nil {
			s.logger.Error().Err(uerr).Str("user_id", u.ID.String()).Msg("clear verification code")
		}
		return apperr.Wrap(err, apperr.DependencyFailed, "failed to send verification email")
	}
	return nil
}

// Signup creates an unverified optician account and emails a verification
// code. If the email cannot be sent the account is removed again.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	u, err := s.newUser(req, access.Optician)
	if err != nil {
		return nil, err
	}

	plain, hash, err := newCode()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "generate verification code")
	}
	u.Verification = &Code{Hash: hash, ExpiresAt: s.now().Add(s.codeTTL)}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	if err := s.mail(ctx, notification.TemplateEmailVerification, u, plain); err != nil {
		s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("signup verification email failed")
		if derr := s.users.Delete(ctx, u.ID); derr != nil {
			s.logger.Error().Err(derr).Str("user_id", u.ID.String()).Msg("remove user after failed signup email")
		}
		return nil, apperr.Wrap(err, apperr.DependencyFailed, "failed to send verification email")
	}
	return u, nil
}

// VerifyEmail confirms a signup code. An expired code triggers a new one.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if apperr.Is(err, apperr.NotFound) {
		return nil, apperr.New(apperr.ValidationFailed, "invalid verification code")
	}
	if err != nil {
		return nil, err
	}
	if u.EmailVerified {
		return nil, apperr.New(apperr.ValidationFailed, "email is already verified")
	}
	if !u.Verification.matches(code) {
		return nil, apperr.New(apperr.ValidationFailed, "invalid verification code")
	}
	if u.Verification.expired(s.now()) {
		if err := s.sendVerification(ctx, u); err != nil {
			return nil, err
		}
		return nil, apperr.New(apperr.ValidationFailed, "this verification code has expired; a new code has been sent to your email")
	}

	u.EmailVerified = true
	u.Verification = nil
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return s.session(u)
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	denied := apperr.New(apperr.Unauthenticated, "invalid email, password or role")

	u, err := s.users.GetByEmail(ctx, req.Email)
	if apperr.Is(err, apperr.NotFound) {
		return nil, denied
	}
	if err != nil {
		return nil, err
	}
	if !s.hasher.Check(u.PasswordHash, req.Password) || u.Role != req.Role {
		return nil, denied
	}
	if !u.Active {
		return nil, apperr.New(apperr.Forbidden, "this account has been deactivated")
	}
	if !u.EmailVerified {
		if err := s.sendVerification(ctx, u); err != nil {
			return nil, err
		}
		return nil, apperr.New(apperr.Forbidden, "your email is not verified; a new verification code has been sent")
	}
	return s.session(u)
}

func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	plain, hash, err := newCode()
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "generate reset code")
	}
	u.Reset = &ResetState{Code: Code{Hash: hash, ExpiresAt: s.now().Add(s.codeTTL)}}
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}

	if err := s.mail(ctx, notification.TemplatePasswordReset, u, plain); err != nil {
		s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("password reset email failed")
		u.Reset = nil
		if uerr := s.users.Update(ctx, u); uerr != nil {
			s.logger.Error().Err(uerr).Str("user_id", u.ID.String()).Msg("clear reset code")
		}
		return apperr.Wrap(err, apperr.DependencyFailed, "failed to send password reset email")
	}
	return nil
}

func (s *Service) VerifyResetCode(ctx context.Context, email, code string) error {
	invalid := apperr.New(apperr.ValidationFailed, "invalid or expired reset code")

	u, err := s.users.GetByEmail(ctx, email)
	if apperr.Is(err, apperr.NotFound) {
		return invalid
	}
	if err != nil {
		return err
	}
	if u.Reset == nil || !u.Reset.matches(code) || u.Reset.expired(s.now()) {
		return invalid
	}
	u.Reset.Verified = true
	return s.users.Update(ctx, u)
}

func (s *Service) ResetPassword(ctx context.Context, email, password, confirm string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u.Reset == nil || !u.Reset.Verified {
		return nil, apperr.New(apperr.ValidationFailed, "reset code has not been verified")
	}
	if err := s.setPassword(ctx, u, password, confirm); err != nil {
		return nil, err
	}
	return s.session(u)
}

// setPassword hashes and stores a new password, stamps passwordChangedAt so
// older tokens stop working, and clears any reset in progress.
func (s *Service) setPassword(ctx context.Context, u *User, password, confirm string) error {
	if err := validatePassword(password, confirm); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "hash password")
	}
	changed := s.now().UTC().Truncate(time.Second)
	u.PasswordHash = hash
	u.PasswordChangedAt = &changed
	u.Reset = nil
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.invalidate(ctx, u.ID)
	return nil
}

// -- Own account --

func (s *Service) Me(ctx context.Context, actor access.Actor) (*User, error) {
	return s.users.GetByID(ctx, actor.ID)
}

func (s *Service) UpdateMe(ctx context.Context, actor access.Actor, p Profile) (*User, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	p.apply(u)
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetProfileImage replaces the profile image reference and returns the
// previous one so the caller can remove it.
func (s *Service) SetProfileImage(ctx context.Context, actor access.Actor, ref string) (previous string, err error) {
	u, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return "", err
	}
	if u.ProfileImage != nil {
		previous = *u.ProfileImage
	}
	u.ProfileImage = &ref
	if err := s.users.Update(ctx, u); err != nil {
		return "", err
	}
	return previous, nil
}

func (s *Service) ChangeMyPassword(ctx context.Context, actor access.Actor, current, password, confirm string) (*Session, error) {
	u, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if !s.hasher.Check(u.PasswordHash, current) {
		return nil, apperr.New(apperr.ValidationFailed, "current password is incorrect")
	}
	if err := s.setPassword(ctx, u, password, confirm); err != nil {
		return nil, err
	}
	return s.session(u)
}

func (s *Service) DeactivateMe(ctx context.Context, actor access.Actor) error {
	u, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return err
	}
	u.Active = false
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.invalidate(ctx, u.ID)
	return nil
}

// -- Directory --

func requireRole(actor access.Actor, roles ...access.Role) error {
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return apperr.New(apperr.Forbidden, "you are not allowed to access this route")
}

func (s *Service) ListDoctors(ctx context.Context, actor access.Actor, keyword, sort string, limit, offset int) ([]*User, int, error) {
	if err := requireRole(actor, access.Optician, access.Admin); err != nil {
		return nil, 0, err
	}
	return s.users.List(ctx, ListFilter{Role: access.Doctor, ActiveOnly: actor.Role != access.Admin, Keyword: keyword, Sort: sort}, limit, offset)
}

func (s *Service) GetDoctor(ctx context.Context, actor access.Actor, id uuid.UUID) (*User, error) {
	if err := requireRole(actor, access.Optician, access.Admin); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != access.Doctor || (!u.Active && actor.Role != access.Admin) {
		return nil, apperr.New(apperr.NotFound, "no doctor found with that id")
	}
	return u, nil
}

func (s *Service) ListOpticians(ctx context.Context, actor access.Actor, keyword, sort string, limit, offset int) ([]*User, int, error) {
	if err := requireRole(actor, access.Admin); err != nil {
		return nil, 0, err
	}
	return s.users.List(ctx, ListFilter{Role: access.Optician, Keyword: keyword, Sort: sort}, limit, offset)
}

// IsActiveDoctor reports whether id is an active account with the doctor
// role. Patients can only be sent to such users.
func (s *Service) IsActiveDoctor(ctx context.Context, id uuid.UUID) (bool, error) {
	u, err := s.users.GetByID(ctx, id)
	if apperr.Is(err, apperr.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Active && u.Role == access.Doctor, nil
}

// -- Administration --

func (s *Service) ListUsers(ctx context.Context, actor access.Actor, f ListFilter, limit, offset int) ([]*User, int, error) {
	if err := requireRole(actor, access.Admin); err != nil {
		return nil, 0, err
	}
	if f.Role != "" && !f.Role.Valid() {
		return nil, 0, apperr.New(apperr.ValidationFailed, "invalid role %q", f.Role)
	}
	return s.users.List(ctx, f, limit, offset)
}

func (s *Service) GetUser(ctx context.Context, actor access.Actor, id uuid.UUID) (*User, error) {
	if err := requireRole(actor, access.Admin); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, id)
}

func (s *Service) CreateUser(ctx context.Context, actor access.Actor, req CreateRequest) (*User, error) {
	if err := requireRole(actor, access.Admin); err != nil {
		return nil, err
	}
	return s.create(ctx, req)
}

// CreateAdmin bootstraps an administrator from the command line.
func (s *Service) CreateAdmin(ctx context.Context, req SignupRequest) (*User, error) {
	return s.create(ctx, CreateRequest{SignupRequest: req, Role: access.Admin})
}

func (s *Service) create(ctx context.Context, req CreateRequest) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	role := req.Role
	if role == "" {
		role = access.Optician
	}
	u, err := s.newUser(req.SignupRequest, role)
	if err != nil {
		return nil, err
	}
	u.Specialty = req.Specialty
	u.EmailVerified = true
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) UpdateUser(ctx context.Context, actor access.Actor, id uuid.UUID, upd AdminUpdate) (*User, error) {
	if err := requireRole(actor, access.Admin); err != nil {
		return nil, err
	}
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	upd.apply(u)
	if upd.Specialty != nil {
		u.Specialty = upd.Specialty
	}
	activeChanged := upd.Active != nil && *upd.Active != u.Active
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	if activeChanged {
		s.invalidate(ctx, u.ID)
	}
	return u, nil
}

func (s *Service) DeleteUser(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	if err := requireRole(actor, access.Admin); err != nil {
		return err
	}
	if id == actor.ID {
		return apperr.New(apperr.ValidationFailed, "admins cannot delete their own account")
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *Service) SetPassword(ctx context.Context, actor access.Actor, id uuid.UUID, password, confirm string) error {
	if err := requireRole(actor, access.Admin); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, u, password, confirm)
}

var errRoleChange = errors.New("only opticians can be promoted, to doctor or admin")

// ChangeRole promotes an optician to doctor or admin. Doctors need a
// specialty.
func (s *Service) ChangeRole(ctx context.Context, actor access.Actor, id uuid.UUID, role access.Role, specialty *string) (*User, error) {
	if err := requireRole(actor, access.Admin); err != nil {
		return nil, err
	}
	if role != access.Doctor && role != access.Admin {
		return nil, apperr.Wrap(errRoleChange, apperr.ValidationFailed, "%v", errRoleChange)
	}
	if role == access.Doctor && (specialty == nil || strings.TrimSpace(*specialty) == "") {
		return nil, apperr.New(apperr.ValidationFailed, "doctors require a specialty")
	}

	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != access.Optician {
		return nil, apperr.Wrap(errRoleChange, apperr.ValidationFailed, "%v", errRoleChange)
	}
	u.Role = role
	if role == access.Doctor {
		u.Specialty = specialty
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	s.invalidate(ctx, u.ID)
	return u, nil
}
