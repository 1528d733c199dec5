package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/db"
)

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const reportCols = `r.id, r.patient_id, r.optician_id, r.history, r.right_eye, r.left_eye,
	r.model_results, r.created_at, r.updated_at`

func notFound() error {
	return apperr.New(apperr.NotFound, "no report found with that id")
}

// encode renders v for a JSONB column. A nil pointer becomes JSON null,
// never SQL NULL.
func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decode(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func scanReport(row pgx.Row) (*Report, error) {
	var (
		rep                              Report
		history, right, left, modelBytes []byte
	)
	err := row.Scan(&rep.ID, &rep.PatientID, &rep.OpticianID, &history, &right, &left,
		&modelBytes, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decode(history, &rep.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if err := decode(right, &rep.RightEye); err != nil {
		return nil, fmt.Errorf("decode right eye: %w", err)
	}
	if err := decode(left, &rep.LeftEye); err != nil {
		return nil, fmt.Errorf("decode left eye: %w", err)
	}
	if err := decode(modelBytes, &rep.ModelResults); err != nil {
		return nil, fmt.Errorf("decode model results: %w", err)
	}
	rep.Feedback = []Feedback{}
	return &rep, nil
}

type reportColumns struct {
	history, right, left, model []byte
}

func encodeReport(rep *Report) (reportColumns, error) {
	var (
		c   reportColumns
		err error
	)
	if c.history, err = encode(rep.History); err != nil {
		return c, err
	}
	if c.right, err = encode(rep.RightEye); err != nil {
		return c, err
	}
	if c.left, err = encode(rep.LeftEye); err != nil {
		return c, err
	}
	c.model, err = encode(rep.ModelResults)
	return c, err
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	cols, err := encodeReport(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)

		var locked uuid.UUID
		err := conn.QueryRow(ctx, `SELECT id FROM patients WHERE id = $1 FOR UPDATE`, rep.PatientID).Scan(&locked)
		if db.IsNoRows(err) {
			return apperr.New(apperr.NotFound, "no patient found with that id")
		}
		if err != nil {
			return fmt.Errorf("lock patient: %w", err)
		}

		err = conn.QueryRow(ctx, `
			INSERT INTO reports (id, patient_id, optician_id, history, right_eye, left_eye, model_results)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING created_at, updated_at`,
			rep.ID, rep.PatientID, rep.OpticianID, cols.history, cols.right, cols.left, cols.model,
		).Scan(&rep.CreatedAt, &rep.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert report: %w", err)
		}

		if _, err := conn.Exec(ctx, `
			UPDATE patients SET report_ids = array_append(report_ids, $2), updated_at = NOW()
			WHERE id = $1`, rep.PatientID, rep.ID); err != nil {
			return fmt.Errorf("link report to patient: %w", err)
		}
		rep.Feedback = []Feedback{}
		return nil
	})
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	rep, err := scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM reports r WHERE r.id = $1`, id))
	if db.IsNoRows(err) {
		return nil, notFound()
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	if err := r.loadFeedback(ctx, []*Report{rep}); err != nil {
		return nil, err
	}
	return rep, nil
}

func (r *reportRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Report, error) {
	out := []*Report{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reportCols+` FROM reports r WHERE r.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get reports: %w", err)
	}
	byID := make(map[uuid.UUID]*Report, len(ids))
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		byID[rep.ID] = rep
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if rep, ok := byID[id]; ok {
			out = append(out, rep)
		}
	}
	if err := r.loadFeedback(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *reportRepoPG) loadFeedback(ctx context.Context, reports []*Report) error {
	if len(reports) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Report, len(reports))
	ids := make([]uuid.UUID, 0, len(reports))
	for _, rep := range reports {
		byID[rep.ID] = rep
		ids = append(ids, rep.ID)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT report_id, doctor_id, right_eye_feedback, left_eye_feedback,
			diagnosis, recommended_action, read_by_optician, created_at
		FROM report_feedback WHERE report_id = ANY($1)
		ORDER BY created_at`, ids)
	if err != nil {
		return fmt.Errorf("load feedback: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			reportID    uuid.UUID
			fb          Feedback
			right, left []byte
		)
		if err := rows.Scan(&reportID, &fb.DoctorID, &right, &left,
			&fb.Diagnosis, &fb.RecommendedAction, &fb.ReadByOptician, &fb.CreatedAt); err != nil {
			return err
		}
		if err := decode(right, &fb.RightEye); err != nil {
			return fmt.Errorf("decode feedback: %w", err)
		}
		if err := decode(left, &fb.LeftEye); err != nil {
			return fmt.Errorf("decode feedback: %w", err)
		}
		byID[reportID].Feedback = append(byID[reportID].Feedback, fb)
	}
	return rows.Err()
}

// applyScope restricts reports r to the actor's scope. Doctors see reports
// through their assignment to the report's patient.
func applyScope(q *db.Query, s access.Scope) {
	switch {
	case s.All:
	case s.OpticianID != uuid.Nil:
		q.Add("r.optician_id = ?", s.OpticianID)
	case s.DoctorID != uuid.Nil:
		if s.Archived != nil {
			q.Add(`EXISTS (SELECT 1 FROM patient_doctors pd
				WHERE pd.patient_id = r.patient_id AND pd.doctor_id = ? AND pd.archived = ?)`, s.DoctorID, *s.Archived)
		} else {
			q.Add(`EXISTS (SELECT 1 FROM patient_doctors pd
				WHERE pd.patient_id = r.patient_id AND pd.doctor_id = ?)`, s.DoctorID)
		}
	default:
		q.Add("FALSE")
	}
}

var reportSortColumns = map[string]string{
	"createdAt": "r.created_at",
	"updatedAt": "r.updated_at",
}

func (r *reportRepoPG) List(ctx context.Context, scope access.Scope, lp ListParams, limit, offset int) ([]*Report, int, error) {
	q := db.NewQuery("reports r", reportCols)
	applyScope(q, scope)
	if lp.PatientID != uuid.Nil {
		q.Add("r.patient_id = ?", lp.PatientID)
	}
	q.ApplySort(lp.Sort, "r.created_at DESC", reportSortColumns)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	var items []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, rep)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.loadFeedback(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *reportRepoPG) Update(ctx context.Context, rep *Report) error {
	cols, err := encodeReport(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE reports SET history=$2, right_eye=$3, left_eye=$4, updated_at=NOW()
		WHERE id = $1 RETURNING updated_at`,
		rep.ID, cols.history, cols.right, cols.left,
	).Scan(&rep.UpdatedAt)
	if db.IsNoRows(err) {
		return notFound()
	}
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	return nil
}

// Delete locks the patient row before touching the report, the same order
// report creation and patient deletion use.
func (r *reportRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)

		var patientID uuid.UUID
		err := conn.QueryRow(ctx, `SELECT patient_id FROM reports WHERE id = $1`, id).Scan(&patientID)
		if db.IsNoRows(err) {
			return notFound()
		}
		if err != nil {
			return fmt.Errorf("load report: %w", err)
		}

		var locked uuid.UUID
		err = conn.QueryRow(ctx, `SELECT id FROM patients WHERE id = $1 FOR UPDATE`, patientID).Scan(&locked)
		if db.IsNoRows(err) {
			return notFound()
		}
		if err != nil {
			return fmt.Errorf("lock patient: %w", err)
		}

		tag, err := conn.Exec(ctx, `DELETE FROM reports WHERE id = $1 AND patient_id = $2`, id, patientID)
		if err != nil {
			return fmt.Errorf("delete report: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return notFound()
		}
		if _, err := conn.Exec(ctx, `
			UPDATE patients SET report_ids = array_remove(report_ids, $1), updated_at = NOW()
			WHERE id = $2`, id, patientID); err != nil {
			return fmt.Errorf("unlink report from patient: %w", err)
		}
		return nil
	})
}

func (r *reportRepoPG) UpsertFeedback(ctx context.Context, reportID uuid.UUID, fb *Feedback) error {
	right, err := encode(fb.RightEye)
	if err != nil {
		return err
	}
	left, err := encode(fb.LeftEye)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO report_feedback (report_id, doctor_id, right_eye_feedback, left_eye_feedback,
			diagnosis, recommended_action, read_by_optician, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,FALSE,NOW())
		ON CONFLICT (report_id, doctor_id) DO UPDATE SET
			right_eye_feedback = EXCLUDED.right_eye_feedback,
			left_eye_feedback  = EXCLUDED.left_eye_feedback,
			diagnosis          = EXCLUDED.diagnosis,
			recommended_action = EXCLUDED.recommended_action,
			read_by_optician   = FALSE,
			created_at         = NOW()
		RETURNING read_by_optician, created_at`,
		reportID, fb.DoctorID, right, left, fb.Diagnosis, fb.RecommendedAction,
	).Scan(&fb.ReadByOptician, &fb.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return notFound()
	}
	if err != nil {
		return fmt.Errorf("upsert feedback: %w", err)
	}
	return nil
}

func (r *reportRepoPG) MarkFeedbackRead(ctx context.Context, reportID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE report_feedback SET read_by_optician = TRUE
		WHERE report_id = $1 AND NOT read_by_optician`, reportID)
	if err != nil {
		return 0, fmt.Errorf("mark feedback read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type linkStorePG struct{ pool *pgxpool.Pool }

func NewLinkStorePG(pool *pgxpool.Pool) LinkStore {
	return &linkStorePG{pool: pool}
}

func (s *linkStorePG) links(ctx context.Context, sql string) ([]Link, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Link{}
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.PatientID, &l.ReportID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *linkStorePG) MissingLinks(ctx context.Context) ([]Link, error) {
	links, err := s.links(ctx, `
		SELECT r.patient_id, r.id FROM reports r
		JOIN patients p ON p.id = r.patient_id
		WHERE NOT (r.id = ANY (p.report_ids))
		ORDER BY r.created_at`)
	if err != nil {
		return nil, fmt.Errorf("find missing links: %w", err)
	}
	return links, nil
}

func (s *linkStorePG) DanglingLinks(ctx context.Context) ([]Link, error) {
	links, err := s.links(ctx, `
		SELECT p.id, rid FROM patients p
		CROSS JOIN LATERAL unnest(p.report_ids) AS rid
		WHERE NOT EXISTS (SELECT 1 FROM reports r WHERE r.id = rid AND r.patient_id = p.id)
		ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("find dangling links: %w", err)
	}
	return links, nil
}

func (s *linkStorePG) AppendLink(ctx context.Context, l Link) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE patients SET report_ids = array_append(report_ids, $2)
		WHERE id = $1 AND NOT ($2 = ANY (report_ids))`, l.PatientID, l.ReportID)
	if err != nil {
		return fmt.Errorf("append link: %w", err)
	}
	return nil
}

func (s *linkStorePG) RemoveLink(ctx context.Context, l Link) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE patients SET report_ids = array_remove(report_ids, $2) WHERE id = $1`, l.PatientID, l.ReportID)
	if err != nil {
		return fmt.Errorf("remove link: %w", err)
	}
	return nil
}
