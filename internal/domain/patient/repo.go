package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/domain/access"
)

// Repository persists patients and their doctor assignments. Missing
// patients are apperr NotFound.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, scope access.Scope, lp ListParams, limit, offset int) ([]*Patient, int, error)
	Update(ctx context.Context, p *Patient) error

	// Delete removes the patient together with its reports and their
	// feedback in one transaction and returns the image references the
	// deleted reports held.
	Delete(ctx context.Context, id uuid.UUID) ([]string, error)

	// AddAssignment fails with Conflict when the doctor is already assigned.
	AddAssignment(ctx context.Context, patientID, doctorID uuid.UUID) (*Assignment, error)
	ToggleArchived(ctx context.Context, id uuid.UUID) (bool, error)
	ToggleAssignmentArchived(ctx context.Context, patientID, doctorID uuid.UUID) (bool, error)

	ReportStats(ctx context.Context, doctorID uuid.UUID) ([]ReportStat, error)
}
