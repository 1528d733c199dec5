package report

import (
	"context"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/domain/access"
)

// Repository persists reports and their feedback. Create and Delete keep
// the patient's report_ids in step within the same transaction.
type Repository interface {
	// Create fails with NotFound when the patient no longer exists.
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)

	// GetByIDs returns the reports in the order of ids, skipping any that
	// do not exist.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Report, error)
	List(ctx context.Context, scope access.Scope, lp ListParams, limit, offset int) ([]*Report, int, error)
	Update(ctx context.Context, r *Report) error
	Delete(ctx context.Context, id uuid.UUID) error

	UpsertFeedback(ctx context.Context, reportID uuid.UUID, fb *Feedback) error
	MarkFeedbackRead(ctx context.Context, reportID uuid.UUID) (int, error)
}

// LinkStore inspects and repairs the patient to report back references.
type LinkStore interface {
	// MissingLinks lists reports absent from their patient's report_ids.
	MissingLinks(ctx context.Context) ([]Link, error)
	// DanglingLinks lists report_ids entries without a matching report.
	DanglingLinks(ctx context.Context) ([]Link, error)
	AppendLink(ctx context.Context, l Link) error
	RemoveLink(ctx context.Context, l Link) error
}
