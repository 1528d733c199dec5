package report

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/domain/patient"
	"github.com/eyecare/eyecare/internal/domain/prediction"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/blobstore"
)

// PatientSource loads patients without applying access rules.
// patient.Repository satisfies it.
type PatientSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// Images are the uploaded files of a new report, per eye.
type Images struct {
	Right []prediction.Image
	Left  []prediction.Image
}

type Service struct {
	reports   Repository
	patients  PatientSource
	predictor *prediction.Coordinator
	blobs     blobstore.BlobStore
	logger    zerolog.Logger
}

func NewService(reports Repository, patients PatientSource, predictor *prediction.Coordinator, blobs blobstore.BlobStore, logger zerolog.Logger) *Service {
	return &Service{reports: reports, patients: patients, predictor: predictor, blobs: blobs, logger: logger}
}

// Create scores the images, stores them, then inserts the report and links
// it to the patient. The model runs before anything is written; if the
// insert fails the stored images are removed again.
func (s *Service) Create(ctx context.Context, actor access.Actor, patientID uuid.UUID, in Input, imgs Images) (*Report, error) {
	if err := access.Check(actor, access.ReportCreate); err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, access.ReportCreate, p.Resource()); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if len(imgs.Right) > 0 && in.RightEye == nil {
		return nil, apperr.New(apperr.ValidationFailed, "right eye images need a right_eye examination")
	}
	if len(imgs.Left) > 0 && in.LeftEye == nil {
		return nil, apperr.New(apperr.ValidationFailed, "left eye images need a left_eye examination")
	}

	results, err := s.predictor.ScoreReport(ctx, imgs.Right, imgs.Left)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		ID:           uuid.New(),
		PatientID:    p.ID,
		OpticianID:   actor.ID,
		History:      in.History.normalized(),
		RightEye:     in.RightEye,
		LeftEye:      in.LeftEye,
		ModelResults: results,
	}

	var stored []string
	if rep.RightEye != nil {
		refs, err := s.store(ctx, rep.ID, imgs.Right)
		if err != nil {
			return nil, err
		}
		rep.RightEye.Images = refs
		stored = append(stored, refs...)
	}
	if rep.LeftEye != nil {
		refs, err := s.store(ctx, rep.ID, imgs.Left)
		if err != nil {
			s.discard(ctx, stored)
			return nil, err
		}
		rep.LeftEye.Images = refs
		stored = append(stored, refs...)
	}

	if err := s.reports.Create(ctx, rep); err != nil {
		s.discard(ctx, stored)
		return nil, err
	}
	s.logger.Info().Str("report_id", rep.ID.String()).Str("patient_id", p.ID.String()).
		Int("images", len(stored)).Msg("report created")
	return rep, nil
}

func (s *Service) store(ctx context.Context, reportID uuid.UUID, images []prediction.Image) ([]string, error) {
	refs := make([]string, 0, len(images))
	for _, img := range images {
		meta, err := blobstore.Put(ctx, s.blobs, blobstore.BlobMetadata{
			FileName:    img.Name,
			ContentType: img.ContentType,
			Category:    blobstore.CategoryEyeImage,
			OwnerID:     reportID.String(),
		}, img.Data)
		if err != nil {
			s.discard(ctx, refs)
			return nil, err
		}
		refs = append(refs, meta.Ref())
	}
	return refs, nil
}

func (s *Service) discard(ctx context.Context, refs []string) {
	if err := blobstore.DeleteRefs(ctx, s.blobs, refs); err != nil {
		s.logger.Warn().Err(err).Strs("refs", refs).Msg("remove report images")
	}
}

// load fetches a report with its patient and applies the decision for op.
func (s *Service) load(ctx context.Context, actor access.Actor, op access.Operation, id uuid.UUID) (*Report, error) {
	rep, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, rep.PatientID)
	if apperr.Is(err, apperr.NotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, op, rep.Resource(p)); err != nil {
		return nil, err
	}
	return rep, nil
}

func (s *Service) Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*Report, error) {
	return s.load(ctx, actor, access.ReportRead, id)
}

// Image opens one stored eye image of a report the actor may read.
func (s *Service) Image(ctx context.Context, actor access.Actor, id uuid.UUID, blobID string) (io.ReadCloser, *blobstore.BlobMetadata, error) {
	rep, err := s.load(ctx, actor, access.ReportRead, id)
	if err != nil {
		return nil, nil, err
	}
	return blobstore.Open(ctx, s.blobs, blobID, rep.Images())
}

func (s *Service) List(ctx context.Context, actor access.Actor, lp ListParams, limit, offset int) ([]*Report, int, error) {
	scope, err := access.ReportScope(actor)
	if err != nil {
		return nil, 0, err
	}
	return s.reports.List(ctx, scope, lp, limit, offset)
}

// PatientWithReports is a patient with its reports inlined in the order
// they were filed.
type PatientWithReports struct {
	*patient.Patient
	Reports []*Report `json:"reports"`
}

func (s *Service) PatientWithReports(ctx context.Context, actor access.Actor, patientID uuid.UUID) (*PatientWithReports, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, access.PatientRead, p.Resource()); err != nil {
		return nil, err
	}
	reports, err := s.reports.GetByIDs(ctx, p.ReportIDs)
	if err != nil {
		return nil, err
	}
	return &PatientWithReports{Patient: p, Reports: reports}, nil
}

func (s *Service) Update(ctx context.Context, actor access.Actor, id uuid.UUID, patch Patch) (*Report, error) {
	rep, err := s.load(ctx, actor, access.ReportUpdate, id)
	if err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	patch.apply(rep)
	if rep.RightEye == nil && rep.LeftEye == nil {
		return nil, apperr.New(apperr.ValidationFailed, "at least one eye examination is required")
	}
	if err := s.reports.Update(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// Delete removes the report and unlinks it from its patient. Images go
// after the commit, best effort.
func (s *Service) Delete(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	rep, err := s.load(ctx, actor, access.ReportDelete, id)
	if err != nil {
		return err
	}
	if err := s.reports.Delete(ctx, id); err != nil {
		return err
	}
	s.discard(ctx, rep.Images())
	return nil
}

// SubmitFeedback records the doctor's review, replacing any earlier one from
// the same doctor. Doctors keep this right after archiving the patient.
func (s *Service) SubmitFeedback(ctx context.Context, actor access.Actor, id uuid.UUID, in FeedbackInput) (*Report, error) {
	if err := access.Check(actor, access.FeedbackWrite); err != nil {
		return nil, err
	}
	rep, err := s.load(ctx, actor, access.FeedbackWrite, id)
	if err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.RightEye != nil && rep.RightEye == nil {
		return nil, apperr.New(apperr.ValidationFailed, "this report has no right eye examination")
	}
	if in.LeftEye != nil && rep.LeftEye == nil {
		return nil, apperr.New(apperr.ValidationFailed, "this report has no left eye examination")
	}

	fb := Feedback{
		DoctorID:          actor.ID,
		RightEye:          in.RightEye,
		LeftEye:           in.LeftEye,
		Diagnosis:         in.Diagnosis,
		RecommendedAction: in.RecommendedAction,
	}
	if err := s.reports.UpsertFeedback(ctx, rep.ID, &fb); err != nil {
		return nil, err
	}
	if cur, ok := rep.FeedbackFrom(actor.ID); ok {
		*cur = fb
	} else {
		rep.Feedback = append(rep.Feedback, fb)
	}
	return rep, nil
}

func (s *Service) MarkFeedbackRead(ctx context.Context, actor access.Actor, id uuid.UUID) (int, error) {
	if err := access.Check(actor, access.FeedbackRead); err != nil {
		return 0, err
	}
	if _, err := s.load(ctx, actor, access.FeedbackRead, id); err != nil {
		return 0, err
	}
	n, err := s.reports.MarkFeedbackRead(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("report %s: %w", id, err)
	}
	return n, nil
}
