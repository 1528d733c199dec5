package user

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/auth"
)

// User maps to the users table.
type User struct {
	ID                uuid.UUID   `db:"id" json:"id"`
	FirstName         string      `db:"first_name" json:"first_name"`
	LastName          string      `db:"last_name" json:"last_name"`
	Email             string      `db:"email" json:"email"`
	Age               *int        `db:"age" json:"age,omitempty"`
	Gender            *string     `db:"gender" json:"gender,omitempty"`
	PasswordHash      string      `db:"password_hash" json:"-"`
	PasswordChangedAt *time.Time  `db:"password_changed_at" json:"password_changed_at,omitempty"`
	Role              access.Role `db:"role" json:"role"`
	Specialty         *string     `db:"specialty" json:"specialty,omitempty"`
	ProfileImage      *string     `db:"profile_image" json:"profile_image,omitempty"`
	Active            bool        `db:"active" json:"active"`
	EmailVerified     bool        `db:"email_verified" json:"email_verified"`
	Verification      *Code       `json:"-"`
	Reset             *ResetState `json:"-"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}

// Code is a hashed one-time code with its expiry.
type Code struct {
	Hash      string
	ExpiresAt time.Time
}

// ResetState tracks a password reset in progress. Verified is set once the
// emailed code has been confirmed.
type ResetState struct {
	Code
	Verified bool
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u *User) Subject() *auth.Subject {
	return &auth.Subject{
		ID:                u.ID,
		Role:              string(u.Role),
		Active:            u.Active,
		PasswordChangedAt: u.PasswordChangedAt,
	}
}

// NormalizeEmail lower-cases and trims an address so lookups are
// case-insensitive regardless of the store.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var validGenders = map[string]bool{"Male": true, "Female": true, "Other": true}

// Profile carries the fields a user may change on their own account.
type Profile struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Age       *int    `json:"age"`
	Gender    *string `json:"gender"`
}

func (p Profile) Validate() error {
	if p.FirstName != nil && strings.TrimSpace(*p.FirstName) == "" {
		return apperr.New(apperr.ValidationFailed, "first_name cannot be empty")
	}
	if p.LastName != nil && strings.TrimSpace(*p.LastName) == "" {
		return apperr.New(apperr.ValidationFailed, "last_name cannot be empty")
	}
	if p.Age != nil && (*p.Age < 0 || *p.Age > 150) {
		return apperr.New(apperr.ValidationFailed, "age must be between 0 and 150")
	}
	if p.Gender != nil && !validGenders[*p.Gender] {
		return apperr.New(apperr.ValidationFailed, "gender must be Male, Female or Other")
	}
	return nil
}

func (p Profile) apply(u *User) {
	if p.FirstName != nil {
		u.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		u.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.Age != nil {
		u.Age = p.Age
	}
	if p.Gender != nil {
		u.Gender = p.Gender
	}
}

type SignupRequest struct {
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	PasswordConfirm string  `json:"password_confirm"`
	Age             *int    `json:"age"`
	Gender          *string `json:"gender"`
}

func (r SignupRequest) Validate() error {
	if strings.TrimSpace(r.FirstName) == "" || strings.TrimSpace(r.LastName) == "" {
		return apperr.New(apperr.ValidationFailed, "first_name and last_name are required")
	}
	if !strings.Contains(r.Email, "@") {
		return apperr.New(apperr.ValidationFailed, "a valid email is required")
	}
	if err := validatePassword(r.Password, r.PasswordConfirm); err != nil {
		return err
	}
	return Profile{Age: r.Age, Gender: r.Gender}.Validate()
}

func validatePassword(password, confirm string) error {
	if len(password) < auth.MinPasswordLength {
		return apperr.New(apperr.ValidationFailed, "password must be at least %d characters", auth.MinPasswordLength)
	}
	if confirm != "" && confirm != password {
		return apperr.New(apperr.ValidationFailed, "password confirmation does not match")
	}
	return nil
}

type LoginRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     access.Role `json:"role"`
}

// CreateRequest is the admin form for creating an account directly. The
// account is created verified.
type CreateRequest struct {
	SignupRequest
	Role      access.Role `json:"role"`
	Specialty *string     `json:"specialty"`
}

func (r CreateRequest) Validate() error {
	if err := r.SignupRequest.Validate(); err != nil {
		return err
	}
	if r.Role != "" && !r.Role.Valid() {
		return apperr.New(apperr.ValidationFailed, "invalid role %q", r.Role)
	}
	if r.Role == access.Doctor && (r.Specialty == nil || strings.TrimSpace(*r.Specialty) == "") {
		return apperr.New(apperr.ValidationFailed, "doctors require a specialty")
	}
	return nil
}

// AdminUpdate is what an admin may change on another account besides role
// and password, which have their own operations.
type AdminUpdate struct {
	Profile
	Specialty *string `json:"specialty"`
	Active    *bool   `json:"active"`
}

type ListFilter struct {
	Role       access.Role
	ActiveOnly bool
	Keyword    string
	Sort       string
}

// Session is returned by every flow that logs the user in.
type Session struct {
	User  *User  `json:"data"`
	Token string `json:"token"`
}
