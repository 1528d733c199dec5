package user

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/db"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, first_name, last_name, email, age, gender, password_hash,
	password_changed_at, role, specialty, profile_image, active, email_verified,
	email_verification_hash, email_verification_expires,
	password_reset_hash, password_reset_expires, password_reset_verified,
	created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var (
		u                     User
		verifyHash, resetHash *string
		verifyExp, resetExp   *time.Time
		resetVerified         bool
	)
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Age, &u.Gender,
		&u.PasswordHash, &u.PasswordChangedAt, &u.Role, &u.Specialty, &u.ProfileImage,
		&u.Active, &u.EmailVerified, &verifyHash, &verifyExp,
		&resetHash, &resetExp, &resetVerified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if verifyHash != nil && verifyExp != nil {
		u.Verification = &Code{Hash: *verifyHash, ExpiresAt: *verifyExp}
	}
	if resetHash != nil && resetExp != nil {
		u.Reset = &ResetState{Code: Code{Hash: *resetHash, ExpiresAt: *resetExp}, Verified: resetVerified}
	}
	return &u, nil
}

// codeColumns flattens the optional code states into nullable columns.
func codeColumns(u *User) (verifyHash *string, verifyExp *time.Time, resetHash *string, resetExp *time.Time, resetVerified bool) {
	if u.Verification != nil {
		verifyHash, verifyExp = &u.Verification.Hash, &u.Verification.ExpiresAt
	}
	if u.Reset != nil {
		resetHash, resetExp, resetVerified = &u.Reset.Hash, &u.Reset.ExpiresAt, u.Reset.Verified
	}
	return
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = NormalizeEmail(u.Email)
	vh, ve, rh, re, rv := codeColumns(u)
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, first_name, last_name, email, age, gender, password_hash,
			password_changed_at, role, specialty, profile_image, active, email_verified,
			email_verification_hash, email_verification_expires,
			password_reset_hash, password_reset_expires, password_reset_verified)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at`,
		u.ID, u.FirstName, u.LastName, u.Email, u.Age, u.Gender, u.PasswordHash,
		u.PasswordChangedAt, u.Role, u.Specialty, u.ProfileImage, u.Active, u.EmailVerified,
		vh, ve, rh, re, rv,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.New(apperr.Conflict, "a user with email %s already exists", u.Email)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) get(ctx context.Context, where string, arg any) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE `+where, arg))
	if db.IsNoRows(err) {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.get(ctx, "email = $1", NormalizeEmail(email))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	vh, ve, rh, re, rv := codeColumns(u)
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET first_name=$2, last_name=$3, email=$4, age=$5, gender=$6,
			password_hash=$7, password_changed_at=$8, role=$9, specialty=$10,
			profile_image=$11, active=$12, email_verified=$13,
			email_verification_hash=$14, email_verification_expires=$15,
			password_reset_hash=$16, password_reset_expires=$17, password_reset_verified=$18,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.FirstName, u.LastName, u.Email, u.Age, u.Gender,
		u.PasswordHash, u.PasswordChangedAt, u.Role, u.Specialty,
		u.ProfileImage, u.Active, u.EmailVerified, vh, ve, rh, re, rv,
	).Scan(&u.UpdatedAt)
	switch {
	case db.IsNoRows(err):
		return apperr.New(apperr.NotFound, "user not found")
	case db.IsUniqueViolation(err):
		return apperr.New(apperr.Conflict, "a user with email %s already exists", u.Email)
	case err != nil:
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (r *userRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return apperr.New(apperr.Conflict, "user still owns patients or reports")
	}
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "user not found")
	}
	return nil
}

var userSortColumns = map[string]string{
	"createdAt": "created_at",
	"firstName": "first_name",
	"lastName":  "last_name",
	"email":     "email",
}

func (r *userRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*User, int, error) {
	q := db.NewQuery("users", userCols)
	q.AddIf(f.Role != "", "role = ?", f.Role)
	q.AddIf(f.ActiveOnly, "active")
	if f.Keyword != "" {
		kw := db.ContainsPattern(f.Keyword)
		q.Add("(first_name ILIKE ? OR last_name ILIKE ? OR email ILIKE ?)", kw, kw, kw)
	}
	q.ApplySort(f.Sort, "created_at DESC", userSortColumns)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}
