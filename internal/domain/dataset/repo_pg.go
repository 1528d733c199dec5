package dataset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/db"
)

type batchRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &batchRepoPG{pool: pool}
}

const batchCols = `b.id, b.uploaded_by, b.sheet_name, b.sheet_ref, b.images, b.created_at,
	(SELECT COUNT(*) FROM dataset_rows dr WHERE dr.batch_id = b.id)`

func scanBatch(row pgx.Row) (*Batch, error) {
	var (
		b      Batch
		images []byte
	)
	if err := row.Scan(&b.ID, &b.UploadedBy, &b.SheetName, &b.SheetRef, &images, &b.CreatedAt, &b.RowCount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(images, &b.Images); err != nil {
		return nil, fmt.Errorf("decode batch images: %w", err)
	}
	return &b, nil
}

// Create inserts the batch and bulk-loads its rows with COPY.
func (r *batchRepoPG) Create(ctx context.Context, b *Batch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	images, err := json.Marshal(b.Images)
	if err != nil {
		return err
	}
	src := make([][]any, 0, len(b.Rows))
	for _, row := range b.Rows {
		fields, err := json.Marshal(row.Fields)
		if err != nil {
			return err
		}
		src = append(src, []any{b.ID, row.Position, row.ImageName, row.ImageRef, row.Label, fields})
	}

	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)
		err := tx.QueryRow(ctx, `
			INSERT INTO dataset_batches (id, uploaded_by, sheet_name, sheet_ref, images)
			VALUES ($1,$2,$3,$4,$5) RETURNING created_at`,
			b.ID, b.UploadedBy, b.SheetName, b.SheetRef, images,
		).Scan(&b.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert dataset batch: %w", err)
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"dataset_rows"},
			[]string{"batch_id", "position", "image_name", "image_ref", "label", "fields"},
			pgx.CopyFromRows(src),
		)
		if err != nil {
			return fmt.Errorf("copy dataset rows: %w", err)
		}
		b.RowCount = len(b.Rows)
		return nil
	})
}

func (r *batchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	conn := db.Conn(ctx, r.pool)
	b, err := scanBatch(conn.QueryRow(ctx, `SELECT `+batchCols+` FROM dataset_batches b WHERE b.id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.New(apperr.NotFound, "no dataset found with that id")
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset batch: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT position, image_name, image_ref, label, fields
		FROM dataset_rows WHERE batch_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("load dataset rows: %w", err)
	}
	defer rows.Close()
	b.Rows = []Row{}
	for rows.Next() {
		var (
			row    Row
			fields []byte
		)
		if err := rows.Scan(&row.Position, &row.ImageName, &row.ImageRef, &row.Label, &fields); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(fields, &row.Fields); err != nil {
			return nil, fmt.Errorf("decode dataset row: %w", err)
		}
		b.Rows = append(b.Rows, row)
	}
	return b, rows.Err()
}

func (r *batchRepoPG) List(ctx context.Context, limit, offset int) ([]*Batch, int, error) {
	q := db.NewQuery("dataset_batches b", batchCols).OrderBy("b.created_at DESC")
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count dataset batches: %w", err)
	}
	rows, err := conn.Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list dataset batches: %w", err)
	}
	defer rows.Close()
	items := []*Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}
