package patient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/db"
)

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `p.id, p.optician_id, p.first_name, p.last_name, p.date_of_birth,
	COALESCE(p.gender, ''), COALESCE(p.ethnicity, ''), p.archived_by_optician, p.report_ids,
	p.created_at, p.updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p   Patient
		dob *time.Time
	)
	err := row.Scan(&p.ID, &p.OpticianID, &p.FirstName, &p.LastName, &dob,
		&p.Gender, &p.Ethnicity, &p.ArchivedByOptician, &p.ReportIDs,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if dob != nil {
		p.DateOfBirth = NewDate(*dob)
	}
	if p.ReportIDs == nil {
		p.ReportIDs = []uuid.UUID{}
	}
	p.Assignments = []Assignment{}
	return &p, nil
}

func notFound() error {
	return apperr.New(apperr.NotFound, "no patient found with that id")
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.ReportIDs = []uuid.UUID{}
	p.Assignments = []Assignment{}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, optician_id, first_name, last_name, date_of_birth,
			gender, ethnicity, archived_by_optician)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7, ''),$8)
		RETURNING created_at, updated_at`,
		p.ID, p.OpticianID, p.FirstName, p.LastName, p.DateOfBirth.timePtr(),
		p.Gender, p.Ethnicity, p.ArchivedByOptician,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients p WHERE p.id = $1`, id))
	if db.IsNoRows(err) {
		return nil, notFound()
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	if err := r.loadAssignments(ctx, []*Patient{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// loadAssignments fills Assignments for a page of patients in one query.
func (r *patientRepoPG) loadAssignments(ctx context.Context, patients []*Patient) error {
	if len(patients) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Patient, len(patients))
	ids := make([]uuid.UUID, 0, len(patients))
	for _, p := range patients {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_id, doctor_id, archived, assigned_at
		FROM patient_doctors WHERE patient_id = ANY($1)
		ORDER BY assigned_at`, ids)
	if err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pid uuid.UUID
			a   Assignment
		)
		if err := rows.Scan(&pid, &a.DoctorID, &a.Archived, &a.AssignedAt); err != nil {
			return err
		}
		byID[pid].Assignments = append(byID[pid].Assignments, a)
	}
	return rows.Err()
}

// applyScope turns an access scope into WHERE clauses on patients p.
func applyScope(q *db.Query, s access.Scope) {
	switch {
	case s.All:
		if s.Archived != nil {
			q.Add("p.archived_by_optician = ?", *s.Archived)
		}
	case s.OpticianID != uuid.Nil:
		q.Add("p.optician_id = ?", s.OpticianID)
		if s.Archived != nil {
			q.Add("p.archived_by_optician = ?", *s.Archived)
		}
	case s.DoctorID != uuid.Nil:
		if s.Archived != nil {
			q.Add(`EXISTS (SELECT 1 FROM patient_doctors pd
				WHERE pd.patient_id = p.id AND pd.doctor_id = ? AND pd.archived = ?)`, s.DoctorID, *s.Archived)
		} else {
			q.Add(`EXISTS (SELECT 1 FROM patient_doctors pd
				WHERE pd.patient_id = p.id AND pd.doctor_id = ?)`, s.DoctorID)
		}
	default:
		q.Add("FALSE")
	}
}

var patientSortColumns = map[string]string{
	"createdAt":   "p.created_at",
	"firstName":   "p.first_name",
	"lastName":    "p.last_name",
	"dateOfBirth": "p.date_of_birth",
}

func (r *patientRepoPG) List(ctx context.Context, scope access.Scope, lp ListParams, limit, offset int) ([]*Patient, int, error) {
	q := db.NewQuery("patients p", patientCols)
	applyScope(q, scope)
	if lp.Keyword != "" {
		kw := db.ContainsPattern(lp.Keyword)
		q.Add("(p.first_name ILIKE ? OR p.last_name ILIKE ?)", kw, kw)
	}
	q.ApplySort(lp.Sort, "p.created_at DESC", patientSortColumns)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()

	if err := r.loadAssignments(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET first_name=$2, last_name=$3, date_of_birth=$4,
			gender=$5, ethnicity=NULLIF($6, ''), updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth.timePtr(), p.Gender, p.Ethnicity,
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return notFound()
	}
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) ([]string, error) {
	var refs []string
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)

		var exists bool
		if err := conn.QueryRow(ctx, `SELECT TRUE FROM patients WHERE id = $1 FOR UPDATE`, id).Scan(&exists); err != nil {
			if db.IsNoRows(err) {
				return notFound()
			}
			return fmt.Errorf("lock patient: %w", err)
		}

		rows, err := conn.Query(ctx, `
			DELETE FROM reports WHERE patient_id = $1
			RETURNING COALESCE(right_eye->'images', '[]'::jsonb), COALESCE(left_eye->'images', '[]'::jsonb)`, id)
		if err != nil {
			return fmt.Errorf("delete patient reports: %w", err)
		}
		for rows.Next() {
			var right, left []string
			if err := rows.Scan(&right, &left); err != nil {
				rows.Close()
				return err
			}
			refs = append(refs, right...)
			refs = append(refs, left...)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("delete patient reports: %w", err)
		}

		if _, err := conn.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete patient: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *patientRepoPG) AddAssignment(ctx context.Context, patientID, doctorID uuid.UUID) (*Assignment, error) {
	a := Assignment{DoctorID: doctorID}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_doctors (patient_id, doctor_id) VALUES ($1, $2)
		RETURNING archived, assigned_at`, patientID, doctorID,
	).Scan(&a.Archived, &a.AssignedAt)
	switch {
	case db.IsUniqueViolation(err):
		return nil, apperr.New(apperr.Conflict, "this patient has already been sent to that doctor")
	case db.IsForeignKeyViolation(err):
		return nil, notFound()
	case err != nil:
		return nil, fmt.Errorf("assign doctor: %w", err)
	}
	return &a, nil
}

func (r *patientRepoPG) ToggleArchived(ctx context.Context, id uuid.UUID) (bool, error) {
	var archived bool
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET archived_by_optician = NOT archived_by_optician, updated_at = NOW()
		WHERE id = $1 RETURNING archived_by_optician`, id).Scan(&archived)
	if db.IsNoRows(err) {
		return false, notFound()
	}
	if err != nil {
		return false, fmt.Errorf("toggle archive: %w", err)
	}
	return archived, nil
}

func (r *patientRepoPG) ToggleAssignmentArchived(ctx context.Context, patientID, doctorID uuid.UUID) (bool, error) {
	var archived bool
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_doctors SET archived = NOT archived
		WHERE patient_id = $1 AND doctor_id = $2 RETURNING archived`, patientID, doctorID).Scan(&archived)
	if db.IsNoRows(err) {
		return false, notFound()
	}
	if err != nil {
		return false, fmt.Errorf("toggle assignment archive: %w", err)
	}
	return archived, nil
}

func (r *patientRepoPG) ReportStats(ctx context.Context, doctorID uuid.UUID) ([]ReportStat, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, p.first_name || ' ' || p.last_name,
			COUNT(rf.report_id),
			COUNT(rep.id) - COUNT(rf.report_id)
		FROM patient_doctors pd
		JOIN patients p ON p.id = pd.patient_id
		LEFT JOIN reports rep ON rep.patient_id = p.id
		LEFT JOIN report_feedback rf ON rf.report_id = rep.id AND rf.doctor_id = pd.doctor_id
		WHERE pd.doctor_id = $1
		GROUP BY p.id, p.first_name, p.last_name, pd.assigned_at
		ORDER BY pd.assigned_at`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("report stats: %w", err)
	}
	defer rows.Close()

	stats := []ReportStat{}
	for rows.Next() {
		var s ReportStat
		if err := rows.Scan(&s.PatientID, &s.Name, &s.WithFeedback, &s.WithoutFeedback); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
