package patient

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/blobstore"
)

// DoctorDirectory answers whether a user may receive patients.
type DoctorDirectory interface {
	IsActiveDoctor(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	patients Repository
	doctors  DoctorDirectory
	blobs    blobstore.BlobStore
	logger   zerolog.Logger
}

func NewService(patients Repository, doctors DoctorDirectory, blobs blobstore.BlobStore, logger zerolog.Logger) *Service {
	return &Service{patients: patients, doctors: doctors, blobs: blobs, logger: logger}
}

func (s *Service) Create(ctx context.Context, actor access.Actor, in Input) (*Patient, error) {
	if err := access.Check(actor, access.PatientCreate); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p := &Patient{
		ID:          uuid.New(),
		OpticianID:  actor.ID,
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		DateOfBirth: in.DateOfBirth,
		Gender:      in.Gender,
		Ethnicity:   strings.TrimSpace(in.Ethnicity),
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns the patients in the actor's scope. archived selects the
// archive view: the optician's own flag, or the doctor's assignment flag.
// Admins see every patient in the active view.
func (s *Service) List(ctx context.Context, actor access.Actor, archived bool, lp ListParams, limit, offset int) ([]*Patient, int, error) {
	flag := access.Bool(archived)
	if actor.Role == access.Admin && !archived {
		flag = nil
	}
	scope, err := access.PatientScope(actor, flag)
	if err != nil {
		return nil, 0, err
	}
	return s.patients.List(ctx, scope, lp, limit, offset)
}

// load fetches a patient and applies the decision for op. A missing record
// and a record outside the actor's scope are indistinguishable.
func (s *Service) load(ctx context.Context, actor access.Actor, op access.Operation, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, op, p.Resource()); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*Patient, error) {
	return s.load(ctx, actor, access.PatientRead, id)
}

// Authorize loads a patient for an operation owned by another package, such
// as report creation.
func (s *Service) Authorize(ctx context.Context, actor access.Actor, op access.Operation, id uuid.UUID) (*Patient, error) {
	return s.load(ctx, actor, op, id)
}

func (s *Service) Update(ctx context.Context, actor access.Actor, id uuid.UUID, patch Patch) (*Patient, error) {
	p, err := s.load(ctx, actor, access.PatientUpdate, id)
	if err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	patch.apply(p)
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes the patient and every report filed for it. Stored images
// are removed after the commit; failures there are only logged.
func (s *Service) Delete(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	if err := access.Check(actor, access.PatientDelete); err != nil {
		return err
	}
	if _, err := s.load(ctx, actor, access.PatientDelete, id); err != nil {
		return err
	}
	refs, err := s.patients.Delete(ctx, id)
	if err != nil {
		return err
	}
	if err := blobstore.DeleteRefs(ctx, s.blobs, refs); err != nil {
		s.logger.Warn().Err(err).Str("patient_id", id.String()).Int("images", len(refs)).Msg("remove report images")
	}
	s.logger.Info().Str("patient_id", id.String()).Str("by", actor.ID.String()).Msg("patient deleted")
	return nil
}

func (s *Service) SendToDoctor(ctx context.Context, actor access.Actor, id, doctorID uuid.UUID) (*Patient, error) {
	if err := access.Check(actor, access.PatientSend); err != nil {
		return nil, err
	}
	p, err := s.load(ctx, actor, access.PatientSend, id)
	if err != nil {
		return nil, err
	}
	if doctorID == uuid.Nil {
		return nil, apperr.New(apperr.ValidationFailed, "doctor_id is required")
	}
	ok, err := s.doctors.IsActiveDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.ValidationFailed, "the selected user is not an active doctor")
	}
	a, err := s.patients.AddAssignment(ctx, p.ID, doctorID)
	if err != nil {
		return nil, err
	}
	p.Assignments = append(p.Assignments, *a)
	return p, nil
}

// ToggleArchive flips the optician's archive flag for the owner, or the
// doctor's own assignment flag for an assigned doctor.
func (s *Service) ToggleArchive(ctx context.Context, actor access.Actor, id uuid.UUID) (*Patient, error) {
	p, err := s.load(ctx, actor, access.PatientArchive, id)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case access.Optician:
		archived, err := s.patients.ToggleArchived(ctx, id)
		if err != nil {
			return nil, err
		}
		p.ArchivedByOptician = archived
	case access.Doctor:
		archived, err := s.patients.ToggleAssignmentArchived(ctx, id, actor.ID)
		if err != nil {
			return nil, err
		}
		for i := range p.Assignments {
			if p.Assignments[i].DoctorID == actor.ID {
				p.Assignments[i].Archived = archived
			}
		}
	}
	return p, nil
}

func (s *Service) ReportStats(ctx context.Context, actor access.Actor) ([]ReportStat, error) {
	if err := access.Check(actor, access.ReportStats); err != nil {
		return nil, err
	}
	return s.patients.ReportStats(ctx, actor.ID)
}
